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
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/blnkfinance/payrelay/internal/apierror"
	"github.com/blnkfinance/payrelay/model"
	"github.com/shopspring/decimal"
)

// flexString accepts a JSON string or number. The gateway sends tokens both ways.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", string(b))
	}
	*f = flexString(n.String())
	return nil
}

type webhookPayload struct {
	Event             string              `json:"event"`
	TokenPay          flexString          `json:"tokenPay"`
	NumeroSend        flexString          `json:"numeroSend"`
	NomClient         string              `json:"nomclient"`
	NumeroTransaction flexString          `json:"numeroTransaction"`
	Montant           decimal.NullDecimal `json:"Montant"`
	Frais             decimal.NullDecimal `json:"frais"`
	PersonalInfo      json.RawMessage     `json:"personal_Info"`
	ReturnURL         string              `json:"return_url"`
	WebhookURL        string              `json:"webhook_url"`
	CreatedAt         string              `json:"createdAt"`
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// ParseWebhook turns a raw gateway notification into an event. Unknown event names are kept
// as they are; only a body that is not JSON or that lacks event or token is rejected.
func ParseWebhook(body []byte) (*model.WebhookEvent, error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "invalid webhook payload", err)
	}

	event := strings.TrimSpace(payload.Event)
	token := strings.TrimSpace(string(payload.TokenPay))
	if event == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "webhook event is required", nil)
	}
	if token == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "webhook tokenPay is required", nil)
	}

	parsed := &model.WebhookEvent{
		Event:          event,
		Token:          token,
		PayerPhone:     model.NormalizePhone(string(payload.NumeroSend)),
		CustomerName:   payload.NomClient,
		Fees:           payload.Frais,
		OrderRef:       orderRefFromPersonalInfo(payload.PersonalInfo),
		TransactionRef: string(payload.NumeroTransaction),
		Raw:            json.RawMessage(append([]byte(nil), body...)),
	}
	if payload.Montant.Valid {
		parsed.Amount = payload.Montant.Decimal
	}

	if ts := strings.TrimSpace(payload.CreatedAt); ts != "" {
		at, err := parseTimestamp(ts)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "invalid webhook createdAt", err)
		}
		parsed.Timestamp = &at
	}

	return parsed, nil
}

func parseTimestamp(value string) (time.Time, error) {
	var lastErr error
	for _, layout := range timestampLayouts {
		at, err := time.Parse(layout, value)
		if err == nil {
			return at.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// orderRefFromPersonalInfo reads orderId from the personal info echoed back by the gateway.
// It comes back either as a list or as a single object.
func orderRefFromPersonalInfo(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var list []map[string]flexString
	if err := json.Unmarshal(raw, &list); err == nil {
		for _, info := range list {
			if ref := string(info["orderId"]); ref != "" {
				return ref
			}
		}
		return ""
	}

	var single map[string]flexString
	if err := json.Unmarshal(raw, &single); err == nil {
		return string(single["orderId"])
	}
	return ""
}
