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

package hooks

import (
	"context"
	"time"

	"github.com/blnkfinance/payrelay/model"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
)

type HookType string

const (
	// OrderPaid hooks are called once per transaction, when it first becomes paid.
	OrderPaid HookType = "ORDER_PAID"
)

// TaskDeliverHook is the asynq task type for a single hook delivery.
const TaskDeliverHook = "hooks:deliver"

// Hook represents an order-management endpoint.
type Hook struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	URL         string    `json:"url"`
	Type        HookType  `json:"type"`
	Active      bool      `json:"active"`
	Timeout     int       `json:"timeout"` // seconds
	CreatedAt   time.Time `json:"created_at"`
	LastRun     time.Time `json:"last_run"`
	LastSuccess bool      `json:"last_success"`
}

// HookPayload is the body posted to hook endpoints.
type HookPayload struct {
	Event         string              `json:"event"`
	HookType      HookType            `json:"hook_type"`
	TransactionID string              `json:"transaction_id"`
	OrderRef      string              `json:"order_ref"`
	OrderNumber   string              `json:"order_number,omitempty"`
	Amount        decimal.Decimal     `json:"amount"`
	Fees          decimal.NullDecimal `json:"fees"`
	GatewayToken  string              `json:"gateway_token,omitempty"`
	PaidAt        *time.Time          `json:"paid_at,omitempty"`
	Timestamp     time.Time           `json:"timestamp"`
}

// HookResponse is what a hook endpoint may answer with.
type HookResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// HookManager stores hooks and delivers order events to them.
type HookManager interface {
	RegisterHook(ctx context.Context, hook *Hook) error
	UpdateHook(ctx context.Context, hookID string, hook *Hook) error
	DeleteHook(ctx context.Context, hookID string) error
	GetHook(ctx context.Context, hookID string) (*Hook, error)
	ListHooks(ctx context.Context, hookType HookType) ([]*Hook, error)
	DispatchOrderPaid(ctx context.Context, txn *model.Transaction) error
	ProcessHookTask(ctx context.Context, task *asynq.Task) error
}

// HookTaskPayload is the queued form of one delivery.
type HookTaskPayload struct {
	HookID  string      `json:"hook_id"`
	Payload HookPayload `json:"payload"`
}

// Enqueuer is the part of *asynq.Client the manager needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueOptions controls where and how often deliveries are attempted.
type QueueOptions struct {
	Queue    string
	MaxRetry int
}
