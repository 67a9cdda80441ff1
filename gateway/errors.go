/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/sony/gobreaker"
)

// Kind classifies why a gateway call did not produce a usable session.
type Kind string

const (
	KindTimeout           Kind = "timeout"
	KindHTTPStatus        Kind = "http_status"
	KindMalformedResponse Kind = "malformed_response"
	KindTransport         Kind = "transport"
	KindUnavailable       Kind = "unavailable"
)

// Error is returned by every failed gateway call.
type Error struct {
	Kind       Kind
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindTimeout:
		return "timeout"
	case KindHTTPStatus:
		return fmt.Sprintf("gateway returned HTTP %d", e.StatusCode)
	case KindMalformedResponse:
		return fmt.Sprintf("malformed gateway response: %s", e.Message)
	case KindUnavailable:
		return "gateway unavailable"
	default:
		if e.Message != "" {
			return fmt.Sprintf("gateway transport error: %s", e.Message)
		}
		return "gateway transport error"
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a gateway error of the given kind.
func IsKind(err error, kind Kind) bool {
	var gwErr *Error
	return errors.As(err, &gwErr) && gwErr.Kind == kind
}

// classifyTransportError turns an error from the HTTP layer into a timeout or transport error.
func classifyTransportError(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Err: err}
	}
	return &Error{Kind: KindTransport, Message: err.Error(), Err: err}
}

func breakerError(err error) *Error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &Error{Kind: KindUnavailable, Message: err.Error(), Err: err}
	}
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr
	}
	return classifyTransportError(err)
}
