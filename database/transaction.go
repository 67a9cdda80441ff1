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
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/blnkfinance/payrelay/internal/apierror"
	"github.com/blnkfinance/payrelay/internal/cache"
	"github.com/blnkfinance/payrelay/model"
)

var tracer = otel.Tracer("payrelay.database")

const transactionColumns = `transaction_id, order_ref, order_number, gateway_token, amount, fees,
	customer_phone, customer_name, return_url, status, is_processed, last_event, error_message,
	created_at, updated_at, paid_at, processed_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row rowScanner) (*model.Transaction, error) {
	txn := &model.Transaction{}
	var token, errMsg sql.NullString
	var paidAt, processedAt sql.NullTime

	err := row.Scan(&txn.TransactionID, &txn.OrderRef, &txn.OrderNumber, &token, &txn.Amount, &txn.Fees,
		&txn.CustomerPhone, &txn.CustomerName, &txn.ReturnURL, &txn.Status, &txn.IsProcessed, &txn.LastEvent, &errMsg,
		&txn.CreatedAt, &txn.UpdatedAt, &paidAt, &processedAt)
	if err != nil {
		return nil, err
	}

	if token.Valid {
		txn.GatewayToken = &token.String
	}
	if errMsg.Valid {
		txn.ErrorMessage = &errMsg.String
	}
	if paidAt.Valid {
		txn.PaidAt = &paidAt.Time
	}
	if processedAt.Valid {
		txn.ProcessedAt = &processedAt.Time
	}
	return txn, nil
}

func tokenCacheKey(token string) string {
	return fmt.Sprintf("payrelay:token:%s", token)
}

// CreateTransaction inserts a transaction in the initiating state with no gateway token.
func (d Datasource) CreateTransaction(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	ctx, span := tracer.Start(ctx, "CreateTransaction")
	defer span.End()

	if txn.TransactionID == "" {
		txn.TransactionID = model.GenerateUUIDWithSuffix("txn")
	}
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = time.Now().UTC()
	}
	txn.UpdatedAt = txn.CreatedAt
	txn.Status = model.StatusInitiating
	txn.GatewayToken = nil
	txn.IsProcessed = false

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO payrelay.transactions (transaction_id, order_ref, order_number, amount, customer_phone, customer_name, return_url, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, txn.TransactionID, txn.OrderRef, txn.OrderNumber, txn.Amount, txn.CustomerPhone, txn.CustomerName, txn.ReturnURL, txn.Status, txn.CreatedAt, txn.UpdatedAt)
	if err != nil {
		span.RecordError(err)
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return nil, apierror.NewAPIError(apierror.ErrConflict, "Transaction with this ID already exists", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create transaction", err)
	}

	span.SetAttributes(attribute.String("transaction.id", txn.TransactionID))
	return txn, nil
}

func (d Datasource) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	ctx, span := tracer.Start(ctx, "GetTransaction")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM payrelay.transactions
		WHERE transaction_id = $1
	`, id)

	txn, err := scanTransaction(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Transaction with ID '%s' not found", id), nil)
		}
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve transaction", err)
	}
	return txn, nil
}

// GetTransactionByToken resolves a gateway token. A token never changes once written, so the
// token to id mapping is cached.
func (d Datasource) GetTransactionByToken(ctx context.Context, token string) (*model.Transaction, error) {
	ctx, span := tracer.Start(ctx, "GetTransactionByToken")
	defer span.End()

	if d.Cache != nil {
		var id string
		err := d.Cache.Get(ctx, tokenCacheKey(token), &id)
		if err == nil && id != "" {
			return d.GetTransaction(ctx, id)
		}
		if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
			logrus.WithError(err).WithField("token", token).Warn("token cache lookup failed")
		}
	}

	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM payrelay.transactions
		WHERE gateway_token = $1
	`, token)

	txn, err := scanTransaction(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Transaction with token '%s' not found", token), nil)
		}
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve transaction by token", err)
	}

	if d.Cache != nil {
		if err := d.Cache.Set(ctx, tokenCacheKey(token), txn.TransactionID, d.TokenTTL); err != nil {
			logrus.WithError(err).WithField("token", token).Warn("failed to cache token")
		}
	}
	return txn, nil
}

// SetGatewayToken writes the gateway token and moves the transaction out of initiating.
// It only succeeds once per transaction.
func (d Datasource) SetGatewayToken(ctx context.Context, id, token, status string, errorMessage *string, at time.Time) error {
	ctx, span := tracer.Start(ctx, "SetGatewayToken")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE payrelay.transactions
		SET gateway_token = $2, status = $3, error_message = $4, updated_at = $5
		WHERE transaction_id = $1 AND status = 'initiating' AND gateway_token IS NULL
	`, id, token, status, errorMessage, at)
	if err != nil {
		span.RecordError(err)
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Gateway token '%s' is already assigned", token), err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record gateway token", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Transaction '%s' is not awaiting a gateway token", id), nil)
	}
	return nil
}

// MarkTransactionFailed fails a transaction that never got past the gateway call.
func (d Datasource) MarkTransactionFailed(ctx context.Context, id, errorMessage string, at time.Time) error {
	ctx, span := tracer.Start(ctx, "MarkTransactionFailed")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE payrelay.transactions
		SET status = 'failed', error_message = $2, updated_at = $3
		WHERE transaction_id = $1 AND status = 'initiating'
	`, id, errorMessage, at)
	if err != nil {
		span.RecordError(err)
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark transaction as failed", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Transaction '%s' is no longer initiating", id), nil)
	}
	return nil
}

// ApplyTransition applies a webhook transition in a single statement guarded by is_processed.
// It returns false when another delivery already processed the transaction.
func (d Datasource) ApplyTransition(ctx context.Context, id string, t model.Transition) (bool, error) {
	ctx, span := tracer.Start(ctx, "ApplyTransition")
	defer span.End()
	span.SetAttributes(attribute.String("transaction.id", id), attribute.String("transition.status", t.Status))

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE payrelay.transactions
		SET status = $2::text,
			last_event = $3,
			fees = COALESCE($4, fees),
			is_processed = $5::boolean,
			processed_at = CASE WHEN $5::boolean THEN $6::timestamptz ELSE processed_at END,
			paid_at = CASE WHEN $2::text = 'paid' THEN COALESCE(paid_at, $6::timestamptz) ELSE paid_at END,
			updated_at = $6::timestamptz
		WHERE transaction_id = $1 AND is_processed = FALSE
	`, id, t.Status, t.Event, t.Fees, t.Processed, t.At)
	if err != nil {
		span.RecordError(err)
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to apply transaction transition", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	return rowsAffected == 1, nil
}

// GetPendingTransactions returns the oldest pending transactions still waiting for a webhook.
func (d Datasource) GetPendingTransactions(ctx context.Context, limit int) ([]model.Transaction, error) {
	ctx, span := tracer.Start(ctx, "GetPendingTransactions")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM payrelay.transactions
		WHERE status = 'pending' AND is_processed = FALSE
		ORDER BY created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve pending transactions", err)
	}
	defer func() { _ = rows.Close() }()

	transactions := []model.Transaction{}
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan transaction", err)
		}
		transactions = append(transactions, *txn)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating pending transactions", err)
	}
	return transactions, nil
}
