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

// Audit outcomes written to the webhook log.
const (
	OutcomeReceived         = "received"
	OutcomeApplied          = "applied"
	OutcomeDuplicate        = "duplicate, ignored"
	OutcomeAlreadyProcessed = "ignored: transaction already processed"
	OutcomeUnknownEvent     = "ignored: unknown event"
	OutcomeNotFound         = "error: transaction not found"
	OutcomeFailed           = "error: processing failed"
)

// WebhookOutcome is what the processor did with a notification.
type WebhookOutcome string

const (
	WebhookApplied   WebhookOutcome = "applied"
	WebhookDuplicate WebhookOutcome = "duplicate"
	WebhookIgnored   WebhookOutcome = "ignored"
	WebhookNotFound  WebhookOutcome = "not_found"
)

// Accepted reports whether the gateway should be told the notification was handled.
func (o WebhookOutcome) Accepted() bool {
	return o != WebhookNotFound && o != ""
}

// WebhookRecord is one entry of the append-only webhook audit log.
type WebhookRecord struct {
	WebhookID    string          `json:"webhook_id"`
	EventType    string          `json:"event_type"`
	GatewayToken string          `json:"gateway_token"`
	RawPayload   json.RawMessage `json:"raw_payload"`
	RemoteAddr   string          `json:"remote_addr,omitempty"`
	ReceivedAt   time.Time       `json:"received_at"`
	IsDuplicate  bool            `json:"is_duplicate"`
	Outcome      string          `json:"outcome"`
}

// WebhookEvent is a gateway notification after boundary parsing.
type WebhookEvent struct {
	Event          string
	Token          string
	PayerPhone     string
	CustomerName   string
	Amount         decimal.Decimal
	Fees           decimal.NullDecimal
	OrderRef       string
	TransactionRef string
	Timestamp      *time.Time
	Raw            json.RawMessage
	RemoteAddr     string
}
