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

// Package payrelay relays payments between an order backend and a mobile-money gateway.
//
// The Relay opens payment sessions (creating the transaction before the gateway is called)
// and settles transactions from gateway webhooks, exactly once per token and event.
package payrelay

import (
	"context"
	"embed"
	"time"

	"github.com/blnkfinance/payrelay/config"
	"github.com/blnkfinance/payrelay/database"
	"github.com/blnkfinance/payrelay/gateway"
	"github.com/blnkfinance/payrelay/internal/notification"
	"github.com/blnkfinance/payrelay/internal/tokensignal"
	"github.com/blnkfinance/payrelay/model"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

//go:embed sql/*.sql
var SQLFiles embed.FS

var tracer = otel.Tracer("payrelay")

// Gateway is the part of the payment gateway the relay calls.
type Gateway interface {
	CreateSession(ctx context.Context, req gateway.SessionRequest) (*gateway.Session, error)
	VerifySession(ctx context.Context, token string) (*gateway.Verification, error)
}

// OrderHooks is told when a transaction becomes paid for the first time.
type OrderHooks interface {
	DispatchOrderPaid(ctx context.Context, txn *model.Transaction) error
}

// Policy holds the thresholds and bounds the relay works with.
type Policy struct {
	MinimumAmount  decimal.Decimal
	MinPhoneDigits int
	ResolveDelay   time.Duration
	LockTTL        time.Duration
	LockWait       time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MinimumAmount:  decimal.NewFromInt(200),
		MinPhoneDigits: 8,
		ResolveDelay:   3 * time.Second,
		LockTTL:        30 * time.Second,
		LockWait:       10 * time.Second,
	}
}

// PolicyFromConfig reads the payment and webhook sections of the configuration.
func PolicyFromConfig(cfg *config.Configuration) Policy {
	return Policy{
		MinimumAmount:  decimal.NewFromFloat(cfg.Payment.MinimumAmount),
		MinPhoneDigits: cfg.Payment.MinPhoneDigits,
		ResolveDelay:   cfg.Webhook.ResolveDelay(),
		LockTTL:        cfg.Webhook.LockTimeout(),
		LockWait:       cfg.Webhook.LockWait(),
	}
}

// Relay is the payment relay engine.
type Relay struct {
	datasource database.IDataSource
	gateway    Gateway
	redis      redis.UniversalClient
	signal     tokensignal.Signal
	hooks      OrderHooks
	notifier   notification.Notifier
	clock      Clock
	policy     Policy
}

type Option func(*Relay)

func WithClock(clock Clock) Option {
	return func(r *Relay) { r.clock = clock }
}

func WithSignal(signal tokensignal.Signal) Option {
	return func(r *Relay) { r.signal = signal }
}

func WithOrderHooks(hooks OrderHooks) Option {
	return func(r *Relay) { r.hooks = hooks }
}

func WithNotifier(notifier notification.Notifier) Option {
	return func(r *Relay) { r.notifier = notifier }
}

func WithPolicy(policy Policy) Option {
	return func(r *Relay) { r.policy = policy }
}

// NewRelay wires a relay. The Redis client backs the per-token lock and, unless another one is
// given, the token signal.
func NewRelay(datasource database.IDataSource, gw Gateway, redisClient redis.UniversalClient, opts ...Option) *Relay {
	r := &Relay{
		datasource: datasource,
		gateway:    gw,
		redis:      redisClient,
		clock:      realClock{},
		policy:     DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.signal == nil && redisClient != nil {
		r.signal = tokensignal.NewRedisSignal(redisClient)
	}
	if r.notifier == nil {
		r.notifier = logNotifier{}
	}
	return r
}

type logNotifier struct{}

func (logNotifier) NotifyError(err error) {
	logrus.Error(err)
}
