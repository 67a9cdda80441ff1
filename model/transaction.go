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

package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction statuses. A transaction starts as initiating, the orchestrator moves it to
// pending or failed and the webhook processor settles it as paid or failed.
const (
	StatusInitiating = "initiating"
	StatusPending    = "pending"
	StatusPaid       = "paid"
	StatusFailed     = "failed"

	// StatusUnknown is never persisted. It is what an unrecognised gateway event maps to.
	StatusUnknown = "unknown"
)

// Gateway events understood by the webhook processor.
const (
	EventSessionCompleted = "payin.session.completed"
	EventSessionCancelled = "payin.session.cancelled"
	EventSessionPending   = "payin.session.pending"
)

// Transaction is a single payment attempt for an order.
type Transaction struct {
	TransactionID string              `json:"transaction_id"`
	OrderRef      string              `json:"order_ref"`
	OrderNumber   string              `json:"order_number"`
	GatewayToken  *string             `json:"gateway_token,omitempty"`
	Amount        decimal.Decimal     `json:"amount"`
	Fees          decimal.NullDecimal `json:"fees"`
	CustomerPhone string              `json:"customer_phone"`
	CustomerName  string              `json:"customer_name"`
	ReturnURL     string              `json:"return_url"`
	Status        string              `json:"status"`
	IsProcessed   bool                `json:"is_processed"`
	LastEvent     string              `json:"last_event,omitempty"`
	ErrorMessage  *string             `json:"error_message,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
	PaidAt        *time.Time          `json:"paid_at,omitempty"`
	ProcessedAt   *time.Time          `json:"processed_at,omitempty"`
}

// Transition is the post-gateway update the webhook processor applies to a transaction.
type Transition struct {
	Status    string
	Event     string
	Fees      decimal.NullDecimal
	Processed bool
	At        time.Time
}

func (t *Transaction) ToJSON() ([]byte, error) {
	return json.Marshal(t)
}

// Token returns the gateway token or an empty string when none was assigned yet.
func (t *Transaction) Token() string {
	if t.GatewayToken == nil {
		return ""
	}
	return *t.GatewayToken
}

// IsTerminal reports whether the status can no longer change through a webhook.
func IsTerminal(status string) bool {
	return status == StatusPaid || status == StatusFailed
}

// StatusForEvent maps a gateway event to the status it settles a transaction in.
func StatusForEvent(event string) string {
	switch event {
	case EventSessionCompleted:
		return StatusPaid
	case EventSessionCancelled:
		return StatusFailed
	case EventSessionPending:
		return StatusPending
	default:
		return StatusUnknown
	}
}

// TransitionFor builds the transition an event produces. Only terminal statuses mark the
// transaction as processed.
func TransitionFor(event string, fees decimal.NullDecimal, at time.Time) Transition {
	status := StatusForEvent(event)
	return Transition{
		Status:    status,
		Event:     event,
		Fees:      fees,
		Processed: IsTerminal(status),
		At:        at,
	}
}
