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
	"encoding/json"

	"github.com/shopspring/decimal"
)

// SessionRequest carries what the gateway needs to open a payment session.
type SessionRequest struct {
	TransactionID string
	OrderRef      string
	Amount        decimal.Decimal
	Phone         string
	CustomerName  string
	ReturnURL     string
}

// Session is a well-formed gateway answer. Success mirrors the gateway's own flag; when it is
// false Message holds the gateway's reason and Token may be empty.
type Session struct {
	Success     bool
	Token       string
	RedirectURL string
	Message     string
}

// Verification is the gateway's view of a token.
type Verification struct {
	Token      string          `json:"token"`
	Verified   bool            `json:"verified"`
	StatusCode int             `json:"status_code"`
	Body       json.RawMessage `json:"body,omitempty"`
}

type article struct {
	Name  string `json:"name"`
	Price int64  `json:"price"`
}

type personalInfo struct {
	OrderID       string `json:"orderId"`
	TransactionID string `json:"transactionId"`
}

type sessionPayload struct {
	TotalPrice   int64          `json:"totalPrice"`
	Article      []article      `json:"article"`
	NumeroSend   string         `json:"numeroSend"`
	NomClient    string         `json:"nomclient"`
	PersonalInfo []personalInfo `json:"personal_info"`
	ReturnURL    string         `json:"return_url"`
	WebhookURL   string         `json:"webhook_url"`
}

// sessionResponse uses pointers so absent fields can be told apart from zero values.
type sessionResponse struct {
	Statut  *bool       `json:"statut"`
	URL     *string     `json:"url"`
	Token   *flexString `json:"token"`
	Message *string     `json:"message"`
}
