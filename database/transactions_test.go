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

package database

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blnkfinance/payrelay/internal/apierror"
	"github.com/blnkfinance/payrelay/internal/cache"
	"github.com/blnkfinance/payrelay/model"
)

type mockCache struct {
	data map[string]string
}

func newMockCache() *mockCache {
	return &mockCache{data: make(map[string]string)}
}

func (m *mockCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	m.data[key] = value.(string)
	return nil
}

func (m *mockCache) Get(_ context.Context, key string, data interface{}) error {
	v, ok := m.data[key]
	if !ok {
		return cache.ErrCacheMiss
	}
	*data.(*string) = v
	return nil
}

func (m *mockCache) Delete(_ context.Context, key string) error {
	delete(m.data, key)
	return nil
}

var transactionRowColumns = []string{
	"transaction_id", "order_ref", "order_number", "gateway_token", "amount", "fees",
	"customer_phone", "customer_name", "return_url", "status", "is_processed", "last_event", "error_message",
	"created_at", "updated_at", "paid_at", "processed_at",
}

func newMockDatasource(t *testing.T) (Datasource, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return Datasource{Conn: db}, mock
}

func TestCreateTransaction_Success(t *testing.T) {
	ds, mock := newMockDatasource(t)
	createdAt := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	txn := &model.Transaction{
		OrderRef:      "O-1",
		OrderNumber:   "ORDER_1",
		Amount:        decimal.NewFromInt(5000),
		CustomerPhone: "221771234567",
		CustomerName:  gofakeit.Name(),
		ReturnURL:     "https://shop.example.com/return",
		CreatedAt:     createdAt,
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO payrelay.transactions")).
		WithArgs(sqlmock.AnyArg(), "O-1", "ORDER_1", decimal.NewFromInt(5000), "221771234567", txn.CustomerName,
			"https://shop.example.com/return", model.StatusInitiating, createdAt, createdAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	created, err := ds.CreateTransaction(context.Background(), txn)
	assert.NoError(t, err)
	assert.Contains(t, created.TransactionID, "txn_")
	assert.Equal(t, model.StatusInitiating, created.Status)
	assert.Nil(t, created.GatewayToken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTransaction_StorageError(t *testing.T) {
	ds, mock := newMockDatasource(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO payrelay.transactions")).
		WillReturnError(errors.New("connection reset"))

	_, err := ds.CreateTransaction(context.Background(), &model.Transaction{OrderRef: "O-1", Amount: decimal.NewFromInt(300)})
	assert.True(t, apierror.Is(err, apierror.ErrInternalServer))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTransaction_Success(t *testing.T) {
	ds, mock := newMockDatasource(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows(transactionRowColumns).
		AddRow("txn_1", "O-1", "ORDER_1", "TKX", "5000", "50", "221771234567", "Awa Diop", "https://r", model.StatusPaid, true,
			model.EventSessionCompleted, nil, now, now, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM payrelay.transactions")).
		WithArgs("txn_1").
		WillReturnRows(rows)

	txn, err := ds.GetTransaction(context.Background(), "txn_1")
	require.NoError(t, err)
	assert.Equal(t, "TKX", txn.Token())
	assert.True(t, txn.Amount.Equal(decimal.NewFromInt(5000)))
	assert.True(t, txn.Fees.Valid)
	assert.True(t, txn.Fees.Decimal.Equal(decimal.NewFromInt(50)))
	assert.True(t, txn.IsProcessed)
	assert.NotNil(t, txn.PaidAt)
	assert.Nil(t, txn.ErrorMessage)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTransaction_NotFound(t *testing.T) {
	ds, mock := newMockDatasource(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM payrelay.transactions")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := ds.GetTransaction(context.Background(), "missing")
	assert.True(t, apierror.Is(err, apierror.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTransactionByToken_PopulatesCache(t *testing.T) {
	ds, mock := newMockDatasource(t)
	c := newMockCache()
	ds.Cache = c
	ds.TokenTTL = time.Hour
	now := time.Now().UTC()

	rows := sqlmock.NewRows(transactionRowColumns).
		AddRow("txn_1", "O-1", "", "TKX", "5000", nil, "221771234567", "Awa Diop", "", model.StatusPending, false,
			"", nil, now, now, nil, nil)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE gateway_token = $1")).
		WithArgs("TKX").
		WillReturnRows(rows)

	txn, err := ds.GetTransactionByToken(context.Background(), "TKX")
	require.NoError(t, err)
	assert.Equal(t, "txn_1", txn.TransactionID)
	assert.False(t, txn.Fees.Valid)
	assert.Equal(t, "txn_1", c.data["payrelay:token:TKX"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTransactionByToken_CacheHit(t *testing.T) {
	ds, mock := newMockDatasource(t)
	c := newMockCache()
	c.data["payrelay:token:TKX"] = "txn_1"
	ds.Cache = c
	now := time.Now().UTC()

	rows := sqlmock.NewRows(transactionRowColumns).
		AddRow("txn_1", "O-1", "", "TKX", "5000", nil, "221771234567", "Awa Diop", "", model.StatusPending, false,
			"", nil, now, now, nil, nil)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE transaction_id = $1")).
		WithArgs("txn_1").
		WillReturnRows(rows)

	txn, err := ds.GetTransactionByToken(context.Background(), "TKX")
	require.NoError(t, err)
	assert.Equal(t, "txn_1", txn.TransactionID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTransactionByToken_NotFound(t *testing.T) {
	ds, mock := newMockDatasource(t)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE gateway_token = $1")).
		WithArgs("TKX").
		WillReturnError(sql.ErrNoRows)

	_, err := ds.GetTransactionByToken(context.Background(), "TKX")
	assert.True(t, apierror.Is(err, apierror.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetGatewayToken(t *testing.T) {
	at := time.Now().UTC()

	t.Run("success", func(t *testing.T) {
		ds, mock := newMockDatasource(t)
		mock.ExpectExec(regexp.QuoteMeta("UPDATE payrelay.transactions")).
			WithArgs("txn_1", "TKX", model.StatusPending, nil, at).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := ds.SetGatewayToken(context.Background(), "txn_1", "TKX", model.StatusPending, nil, at)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already set", func(t *testing.T) {
		ds, mock := newMockDatasource(t)
		mock.ExpectExec(regexp.QuoteMeta("UPDATE payrelay.transactions")).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := ds.SetGatewayToken(context.Background(), "txn_1", "TKX", model.StatusPending, nil, at)
		assert.True(t, apierror.Is(err, apierror.ErrConflict))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("token used by another transaction", func(t *testing.T) {
		ds, mock := newMockDatasource(t)
		mock.ExpectExec(regexp.QuoteMeta("UPDATE payrelay.transactions")).
			WillReturnError(&pq.Error{Code: "23505", Message: "unique_violation"})

		err := ds.SetGatewayToken(context.Background(), "txn_1", "TKX", model.StatusPending, nil, at)
		assert.True(t, apierror.Is(err, apierror.ErrConflict))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestMarkTransactionFailed(t *testing.T) {
	ds, mock := newMockDatasource(t)
	at := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("SET status = 'failed', error_message = $2")).
		WithArgs("txn_1", "timeout", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := ds.MarkTransactionFailed(context.Background(), "txn_1", "timeout", at)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyTransition(t *testing.T) {
	at := time.Now().UTC()
	fees := decimal.NewNullDecimal(decimal.NewFromInt(50))
	transition := model.TransitionFor(model.EventSessionCompleted, fees, at)

	t.Run("applied", func(t *testing.T) {
		ds, mock := newMockDatasource(t)
		mock.ExpectExec(regexp.QuoteMeta("WHERE transaction_id = $1 AND is_processed = FALSE")).
			WithArgs("txn_1", model.StatusPaid, model.EventSessionCompleted, fees, true, at).
			WillReturnResult(sqlmock.NewResult(0, 1))

		applied, err := ds.ApplyTransition(context.Background(), "txn_1", transition)
		assert.NoError(t, err)
		assert.True(t, applied)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("lost race", func(t *testing.T) {
		ds, mock := newMockDatasource(t)
		mock.ExpectExec(regexp.QuoteMeta("WHERE transaction_id = $1 AND is_processed = FALSE")).
			WillReturnResult(sqlmock.NewResult(0, 0))

		applied, err := ds.ApplyTransition(context.Background(), "txn_1", transition)
		assert.NoError(t, err)
		assert.False(t, applied)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("storage error surfaces", func(t *testing.T) {
		ds, mock := newMockDatasource(t)
		mock.ExpectExec(regexp.QuoteMeta("WHERE transaction_id = $1 AND is_processed = FALSE")).
			WillReturnError(errors.New("deadlock detected"))

		applied, err := ds.ApplyTransition(context.Background(), "txn_1", transition)
		assert.False(t, applied)
		assert.True(t, apierror.Is(err, apierror.ErrInternalServer))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGetPendingTransactions(t *testing.T) {
	ds, mock := newMockDatasource(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows(transactionRowColumns).
		AddRow("txn_1", "O-1", "", "TK1", "5000", nil, "221771234567", "A", "", model.StatusPending, false, "", nil, now, now, nil, nil).
		AddRow("txn_2", "O-2", "", "TK2", "700", nil, "221771234568", "B", "", model.StatusPending, false, "", nil, now, now, nil, nil)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = 'pending' AND is_processed = FALSE")).
		WithArgs(50).
		WillReturnRows(rows)

	txns, err := ds.GetPendingTransactions(context.Background(), 50)
	require.NoError(t, err)
	assert.Len(t, txns, 2)
	assert.Equal(t, "txn_1", txns[0].TransactionID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
