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

// Package gateway talks to the mobile-money payment gateway: it opens payment sessions,
// verifies tokens and parses the notifications the gateway posts back.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/blnkfinance/payrelay/internal/metrics"
	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

const (
	DefaultTimeout = 45 * time.Second
	WebhookPath    = "/webhooks/gateway"

	breakerName = "gateway"
)

type Config struct {
	BaseURL         string
	CallbackBaseURL string
	ArticleName     string
	Timeout         time.Duration
}

// Client calls the gateway. It never retries: a session request that may have reached the
// gateway must not be sent twice. Repeated transport failures open the breaker so callers
// fail fast while the gateway is down.
type Client struct {
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker
	config  Config
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.CallbackBaseURL = strings.TrimRight(cfg.CallbackBaseURL, "/")

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		http:    client,
		breaker: newBreaker(),
		config:  cfg,
	}
}

func newBreaker() *gobreaker.CircuitBreaker {
	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			state := float64(0)
			switch to {
			case gobreaker.StateOpen:
				state = 1
			case gobreaker.StateHalfOpen:
				state = 2
			}
			metrics.CircuitBreakerState.WithLabelValues(name).Set(state)
			logrus.WithFields(logrus.Fields{
				"circuit": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("gateway circuit breaker state changed")
		},
	})
}

// HTTPClient exposes the underlying HTTP client, mainly so tests can mock the transport.
func (c *Client) HTTPClient() *http.Client {
	return c.http.GetClient()
}

// WebhookURL is the callback address the gateway posts notifications to.
func (c *Client) WebhookURL() string {
	return c.config.CallbackBaseURL + WebhookPath
}

func (c *Client) sessionPayload(req SessionRequest) sessionPayload {
	price := req.Amount.IntPart()
	return sessionPayload{
		TotalPrice: price,
		Article:    []article{{Name: c.config.ArticleName, Price: price}},
		NumeroSend: req.Phone,
		NomClient:  req.CustomerName,
		PersonalInfo: []personalInfo{{
			OrderID:       req.OrderRef,
			TransactionID: req.TransactionID,
		}},
		ReturnURL:  req.ReturnURL,
		WebhookURL: c.WebhookURL(),
	}
}

// CreateSession opens a payment session. Every failure is a *Error.
func (c *Client) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	start := time.Now()
	defer func() {
		metrics.GatewayDuration.WithLabelValues("create_session").Observe(time.Since(start).Seconds())
	}()

	var (
		session *Session
		result  *Error
	)

	// Only transport failures and 5xx answers count against the breaker. A 4xx or a malformed
	// body means the gateway is up and answering.
	_, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(c.sessionPayload(req)).
			Post(c.config.BaseURL)
		if err != nil {
			return nil, classifyTransportError(err)
		}

		if resp.StatusCode() >= http.StatusInternalServerError {
			return nil, &Error{Kind: KindHTTPStatus, StatusCode: resp.StatusCode(), Message: resp.String()}
		}
		if !resp.IsSuccess() {
			result = &Error{Kind: KindHTTPStatus, StatusCode: resp.StatusCode(), Message: resp.String()}
			return nil, nil
		}

		session, result = parseSession(resp.Body())
		return nil, nil
	})
	if err != nil {
		result = breakerError(err)
	}

	if result != nil {
		metrics.GatewayCalls.WithLabelValues("create_session", string(result.Kind)).Inc()
		logrus.WithFields(logrus.Fields{
			"transaction_id": req.TransactionID,
			"order_ref":      req.OrderRef,
			"kind":           result.Kind,
			"status_code":    result.StatusCode,
		}).Warn("gateway session request failed")
		return nil, result
	}

	metrics.GatewayCalls.WithLabelValues("create_session", "ok").Inc()
	return session, nil
}

func parseSession(body []byte) (*Session, *Error) {
	var resp sessionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &Error{Kind: KindMalformedResponse, Message: "body is not valid JSON", Err: err}
	}
	if resp.Statut == nil {
		return nil, &Error{Kind: KindMalformedResponse, Message: "missing statut"}
	}

	session := &Session{Success: *resp.Statut}
	if resp.Token != nil {
		session.Token = strings.TrimSpace(string(*resp.Token))
	}
	if resp.URL != nil {
		session.RedirectURL = strings.TrimSpace(*resp.URL)
	}
	if resp.Message != nil {
		session.Message = *resp.Message
	}

	if session.Success {
		if session.Token == "" {
			return nil, &Error{Kind: KindMalformedResponse, Message: "missing token"}
		}
		if session.RedirectURL == "" {
			return nil, &Error{Kind: KindMalformedResponse, Message: "missing url"}
		}
	}
	return session, nil
}

// VerifySession asks the gateway whether it knows token. A non-2xx answer is reported as
// unverified, not as an error.
func (c *Client) VerifySession(ctx context.Context, token string) (*Verification, error) {
	start := time.Now()
	defer func() {
		metrics.GatewayDuration.WithLabelValues("verify_session").Observe(time.Since(start).Seconds())
	}()

	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("token", token).
		Get(fmt.Sprintf("%s/paiementNotif/{token}", c.config.BaseURL))
	if err != nil {
		gwErr := classifyTransportError(err)
		metrics.GatewayCalls.WithLabelValues("verify_session", string(gwErr.Kind)).Inc()
		return nil, gwErr
	}

	verification := &Verification{
		Token:      token,
		Verified:   resp.IsSuccess(),
		StatusCode: resp.StatusCode(),
	}
	if json.Valid(resp.Body()) {
		verification.Body = json.RawMessage(resp.Body())
	}

	outcome := "ok"
	if !verification.Verified {
		outcome = "unverified"
	}
	metrics.GatewayCalls.WithLabelValues("verify_session", outcome).Inc()
	return verification, nil
}
