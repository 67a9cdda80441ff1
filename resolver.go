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

package payrelay

import (
	"context"
	"errors"

	"github.com/blnkfinance/payrelay/internal/apierror"
	"github.com/blnkfinance/payrelay/internal/metrics"
	"github.com/blnkfinance/payrelay/internal/tokensignal"
	"github.com/blnkfinance/payrelay/model"
	"github.com/sirupsen/logrus"
)

// resolveTransaction finds the transaction owning token. A webhook can overtake the write of
// its own token, so a miss is retried exactly once after waiting at most the resolve delay.
// The wait ends early when the token signal fires.
func (r *Relay) resolveTransaction(ctx context.Context, token string) (*model.Transaction, error) {
	txn, err := r.datasource.GetTransactionByToken(ctx, token)
	if err == nil || !apierror.Is(err, apierror.ErrNotFound) {
		return txn, err
	}

	logrus.WithField("token", token).Info("transaction not found for token, waiting before retry")
	if err := r.waitForToken(ctx, token); err != nil {
		return nil, err
	}

	txn, err = r.datasource.GetTransactionByToken(ctx, token)
	switch {
	case err == nil:
		metrics.ResolveWaits.WithLabelValues("found").Inc()
	case apierror.Is(err, apierror.ErrNotFound):
		metrics.ResolveWaits.WithLabelValues("not_found").Inc()
	}
	return txn, err
}

// waitForToken blocks for at most the resolve delay. Only ctx cancellation is an error.
func (r *Relay) waitForToken(ctx context.Context, token string) error {
	delay := r.policy.ResolveDelay
	if delay <= 0 {
		return nil
	}

	if r.signal != nil {
		start := r.clock.Now()
		err := r.signal.Wait(ctx, token, delay)
		switch {
		case err == nil, errors.Is(err, tokensignal.ErrTimeout):
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		}
		logrus.WithError(err).WithField("token", token).Warn("token signal unavailable, waiting out the resolve delay")
		delay -= r.clock.Now().Sub(start)
		if delay <= 0 {
			return nil
		}
	}

	select {
	case <-r.clock.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
