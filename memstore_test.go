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
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/blnkfinance/payrelay/gateway"
	"github.com/blnkfinance/payrelay/internal/apierror"
	"github.com/blnkfinance/payrelay/model"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// memStore keeps transactions and webhook records in memory with the same conditional update
// rules as the Postgres datasource.
type memStore struct {
	mu           sync.Mutex
	transactions map[string]model.Transaction
	webhooks     map[string]model.WebhookRecord
	order        []string

	createErr error
	tokenErr  error
	recordErr error
}

func newMemStore() *memStore {
	return &memStore{
		transactions: map[string]model.Transaction{},
		webhooks:     map[string]model.WebhookRecord{},
	}
}

func notFound(msg string) error {
	return apierror.NewAPIError(apierror.ErrNotFound, msg, nil)
}

func (s *memStore) CreateTransaction(_ context.Context, txn *model.Transaction) (*model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return nil, s.createErr
	}
	created := *txn
	created.TransactionID = model.GenerateUUIDWithSuffix("txn")
	created.Status = model.StatusInitiating
	created.UpdatedAt = created.CreatedAt
	s.transactions[created.TransactionID] = created
	return &created, nil
}

func (s *memStore) GetTransaction(_ context.Context, id string) (*model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	txn, ok := s.transactions[id]
	if !ok {
		return nil, notFound("transaction not found")
	}
	return &txn, nil
}

func (s *memStore) GetTransactionByToken(_ context.Context, token string) (*model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, txn := range s.transactions {
		if txn.Token() == token {
			found := txn
			return &found, nil
		}
	}
	return nil, notFound("transaction not found")
}

func (s *memStore) SetGatewayToken(_ context.Context, id, token, status string, errorMessage *string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tokenErr != nil {
		return s.tokenErr
	}
	txn, ok := s.transactions[id]
	if !ok || txn.Status != model.StatusInitiating || txn.GatewayToken != nil {
		return apierror.NewAPIError(apierror.ErrConflict, "not awaiting a token", nil)
	}
	txn.GatewayToken = &token
	txn.Status = status
	txn.ErrorMessage = errorMessage
	txn.UpdatedAt = at
	s.transactions[id] = txn
	return nil
}

// setTokenLater stores a token without going through initiation, as a late writer would.
func (s *memStore) setTokenLater(id, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	txn := s.transactions[id]
	txn.GatewayToken = &token
	txn.Status = model.StatusPending
	s.transactions[id] = txn
}

func (s *memStore) MarkTransactionFailed(_ context.Context, id, errorMessage string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	txn, ok := s.transactions[id]
	if !ok || txn.Status != model.StatusInitiating {
		return apierror.NewAPIError(apierror.ErrConflict, "no longer initiating", nil)
	}
	txn.Status = model.StatusFailed
	txn.ErrorMessage = &errorMessage
	txn.UpdatedAt = at
	s.transactions[id] = txn
	return nil
}

func (s *memStore) ApplyTransition(_ context.Context, id string, t model.Transition) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	txn, ok := s.transactions[id]
	if !ok || txn.IsProcessed {
		return false, nil
	}
	txn.Status = t.Status
	txn.LastEvent = t.Event
	if t.Fees.Valid {
		txn.Fees = t.Fees
	}
	txn.IsProcessed = t.Processed
	if t.Processed {
		at := t.At
		txn.ProcessedAt = &at
	}
	if t.Status == model.StatusPaid && txn.PaidAt == nil {
		at := t.At
		txn.PaidAt = &at
	}
	txn.UpdatedAt = t.At
	s.transactions[id] = txn
	return true, nil
}

func (s *memStore) GetPendingTransactions(_ context.Context, limit int) ([]model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := []model.Transaction{}
	for _, txn := range s.transactions {
		if txn.Status == model.StatusPending && !txn.IsProcessed {
			pending = append(pending, txn)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
	if len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (s *memStore) RecordWebhook(_ context.Context, record *model.WebhookRecord) (*model.WebhookRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recordErr != nil {
		return nil, s.recordErr
	}
	stored := *record
	stored.WebhookID = model.GenerateUUIDWithSuffix("wh")
	s.webhooks[stored.WebhookID] = stored
	s.order = append(s.order, stored.WebhookID)
	return &stored, nil
}

func (s *memStore) UpdateWebhookOutcome(_ context.Context, id, outcome string, isDuplicate bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.webhooks[id]
	if !ok {
		return notFound("webhook not found")
	}
	record.Outcome = outcome
	record.IsDuplicate = isDuplicate
	s.webhooks[id] = record
	return nil
}

func (s *memStore) GetWebhook(_ context.Context, id string) (*model.WebhookRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.webhooks[id]
	if !ok {
		return nil, notFound("webhook not found")
	}
	return &record, nil
}

func (s *memStore) GetWebhooksByToken(_ context.Context, token string, limit int) ([]model.WebhookRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := []model.WebhookRecord{}
	for i := len(s.order) - 1; i >= 0 && len(records) < limit; i-- {
		if record := s.webhooks[s.order[i]]; record.GatewayToken == token {
			records = append(records, record)
		}
	}
	return records, nil
}

func (s *memStore) webhookRecords() []model.WebhookRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := make([]model.WebhookRecord, 0, len(s.order))
	for _, id := range s.order {
		records = append(records, s.webhooks[id])
	}
	return records
}

// fakeGateway answers session requests from a function and counts calls.
type fakeGateway struct {
	mu       sync.Mutex
	calls    []gateway.SessionRequest
	create   func(ctx context.Context, req gateway.SessionRequest) (*gateway.Session, error)
	verified *gateway.Verification
}

func (g *fakeGateway) CreateSession(ctx context.Context, req gateway.SessionRequest) (*gateway.Session, error) {
	g.mu.Lock()
	g.calls = append(g.calls, req)
	g.mu.Unlock()
	return g.create(ctx, req)
}

func (g *fakeGateway) VerifySession(_ context.Context, token string) (*gateway.Verification, error) {
	if g.verified == nil {
		return nil, &gateway.Error{Kind: gateway.KindTransport, Err: errors.New("connection refused")}
	}
	v := *g.verified
	v.Token = token
	return &v, nil
}

func sessionWithToken(token string) func(context.Context, gateway.SessionRequest) (*gateway.Session, error) {
	return func(context.Context, gateway.SessionRequest) (*gateway.Session, error) {
		return &gateway.Session{Success: true, Token: token, RedirectURL: "https://pay.example/" + token}, nil
	}
}

type recordingHooks struct {
	mu   sync.Mutex
	paid []string
	err  error
}

func (h *recordingHooks) DispatchOrderPaid(_ context.Context, txn *model.Transaction) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.paid = append(h.paid, txn.TransactionID)
	return h.err
}

func (h *recordingHooks) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.paid)
}

type recordingNotifier struct {
	mu   sync.Mutex
	errs []error
}

func (n *recordingNotifier) NotifyError(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errs = append(n.errs, err)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.errs)
}

type testRelay struct {
	*Relay
	store    *memStore
	gateway  *fakeGateway
	hooks    *recordingHooks
	notifier *recordingNotifier
	redis    *miniredis.Miniredis
}

func newTestRelay(t *testing.T, opts ...Option) *testRelay {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	policy := DefaultPolicy()
	policy.ResolveDelay = 200 * time.Millisecond
	policy.LockWait = 2 * time.Second

	tr := &testRelay{
		store:    newMemStore(),
		gateway:  &fakeGateway{create: sessionWithToken("TKX")},
		hooks:    &recordingHooks{},
		notifier: &recordingNotifier{},
		redis:    mr,
	}
	base := []Option{WithPolicy(policy), WithOrderHooks(tr.hooks), WithNotifier(tr.notifier)}
	tr.Relay = NewRelay(tr.store, tr.gateway, client, append(base, opts...)...)
	return tr
}

func validPaymentRequest() model.PaymentRequest {
	return model.PaymentRequest{
		OrderRef:     "O-1",
		Amount:       decimal.NewFromInt(5000),
		Phone:        "221771234567",
		CustomerName: "Awa Diop",
		ReturnURL:    "https://shop.example/return",
	}
}

func webhookEvent(event, token string, fees int64) *model.WebhookEvent {
	e := &model.WebhookEvent{
		Event:  event,
		Token:  token,
		Amount: decimal.NewFromInt(5000),
		Raw:    []byte(fmt.Sprintf(`{"event":%q,"tokenPay":%q,"Montant":5000}`, event, token)),
	}
	if fees > 0 {
		e.Fees = decimal.NewNullDecimal(decimal.NewFromInt(fees))
		e.Raw = []byte(fmt.Sprintf(`{"event":%q,"tokenPay":%q,"Montant":5000,"frais":%d}`, event, token, fees))
	}
	return e
}
