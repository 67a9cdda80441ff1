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
	"github.com/shopspring/decimal"
)

// PaymentRequest asks the relay to open a payment session for an order.
type PaymentRequest struct {
	OrderRef     string          `json:"order_ref"`
	OrderNumber  string          `json:"order_number,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	Phone        string          `json:"phone"`
	CustomerName string          `json:"customer_name"`
	ReturnURL    string          `json:"return_url"`
}

// PaymentResult is returned for every initiation attempt that got past validation.
type PaymentResult struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transaction_id"`
	Token         string `json:"token,omitempty"`
	RedirectURL   string `json:"redirect_url,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

// PaymentVerification combines what the gateway reports for a token with the local record.
type PaymentVerification struct {
	Token       string       `json:"token"`
	Verified    bool         `json:"verified"`
	Gateway     interface{}  `json:"gateway,omitempty"`
	Transaction *Transaction `json:"transaction,omitempty"`
}
