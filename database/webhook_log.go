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
	"fmt"
	"time"

	"github.com/blnkfinance/payrelay/internal/apierror"
	"github.com/blnkfinance/payrelay/model"
)

const webhookColumns = `webhook_id, event_type, gateway_token, raw_payload, remote_addr, received_at, is_duplicate, outcome`

func scanWebhook(row rowScanner) (*model.WebhookRecord, error) {
	record := &model.WebhookRecord{}
	var payload []byte
	err := row.Scan(&record.WebhookID, &record.EventType, &record.GatewayToken, &payload, &record.RemoteAddr,
		&record.ReceivedAt, &record.IsDuplicate, &record.Outcome)
	if err != nil {
		return nil, err
	}
	record.RawPayload = payload
	return record, nil
}

// RecordWebhook appends a notification to the audit log.
func (d Datasource) RecordWebhook(ctx context.Context, record *model.WebhookRecord) (*model.WebhookRecord, error) {
	ctx, span := tracer.Start(ctx, "RecordWebhook")
	defer span.End()

	if record.WebhookID == "" {
		record.WebhookID = model.GenerateUUIDWithSuffix("whk")
	}
	if record.ReceivedAt.IsZero() {
		record.ReceivedAt = time.Now().UTC()
	}
	if record.Outcome == "" {
		record.Outcome = model.OutcomeReceived
	}

	var payload interface{}
	if len(record.RawPayload) > 0 {
		payload = []byte(record.RawPayload)
	}

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO payrelay.webhook_log (webhook_id, event_type, gateway_token, raw_payload, remote_addr, received_at, is_duplicate, outcome)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, record.WebhookID, record.EventType, record.GatewayToken, payload, record.RemoteAddr, record.ReceivedAt, record.IsDuplicate, record.Outcome)
	if err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record webhook", err)
	}
	return record, nil
}

// UpdateWebhookOutcome is the only mutation allowed on an audit record.
func (d Datasource) UpdateWebhookOutcome(ctx context.Context, id, outcome string, isDuplicate bool) error {
	ctx, span := tracer.Start(ctx, "UpdateWebhookOutcome")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE payrelay.webhook_log
		SET outcome = $2, is_duplicate = $3
		WHERE webhook_id = $1
	`, id, outcome, isDuplicate)
	if err != nil {
		span.RecordError(err)
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update webhook outcome", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Webhook with ID '%s' not found", id), nil)
	}
	return nil
}

func (d Datasource) GetWebhook(ctx context.Context, id string) (*model.WebhookRecord, error) {
	ctx, span := tracer.Start(ctx, "GetWebhook")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+webhookColumns+`
		FROM payrelay.webhook_log
		WHERE webhook_id = $1
	`, id)

	record, err := scanWebhook(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Webhook with ID '%s' not found", id), nil)
		}
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve webhook", err)
	}
	return record, nil
}

func (d Datasource) GetWebhooksByToken(ctx context.Context, token string, limit int) ([]model.WebhookRecord, error) {
	ctx, span := tracer.Start(ctx, "GetWebhooksByToken")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+webhookColumns+`
		FROM payrelay.webhook_log
		WHERE gateway_token = $1
		ORDER BY received_at DESC
		LIMIT $2
	`, token, limit)
	if err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve webhooks", err)
	}
	defer func() { _ = rows.Close() }()

	records := []model.WebhookRecord{}
	for rows.Next() {
		record, err := scanWebhook(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan webhook", err)
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating webhooks", err)
	}
	return records, nil
}
