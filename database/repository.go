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
	"time"

	"github.com/blnkfinance/payrelay/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	transaction // Interface for transaction-related operations
	webhookLog  // Interface for the webhook audit log
}

// transaction defines methods for handling payment transactions.
type transaction interface {
	CreateTransaction(ctx context.Context, txn *model.Transaction) (*model.Transaction, error)                                  // Persists a new transaction in the initiating state
	GetTransaction(ctx context.Context, id string) (*model.Transaction, error)                                                  // Retrieves a transaction by ID
	GetTransactionByToken(ctx context.Context, token string) (*model.Transaction, error)                                        // Retrieves a transaction by gateway token
	SetGatewayToken(ctx context.Context, id, token, status string, errorMessage *string, at time.Time) error                    // Records the gateway token once and leaves the initiating state
	MarkTransactionFailed(ctx context.Context, id, errorMessage string, at time.Time) error                                     // Fails an initiating transaction
	ApplyTransition(ctx context.Context, id string, transition model.Transition) (bool, error)                                  // Applies a webhook transition unless the transaction is already processed
	GetPendingTransactions(ctx context.Context, limit int) ([]model.Transaction, error)                                         // Lists the oldest pending, unprocessed transactions
}

// webhookLog defines methods for the append-only webhook audit log.
type webhookLog interface {
	RecordWebhook(ctx context.Context, record *model.WebhookRecord) (*model.WebhookRecord, error)       // Appends an inbound notification
	UpdateWebhookOutcome(ctx context.Context, id, outcome string, isDuplicate bool) error               // Sets the outcome and duplicate flag of a record
	GetWebhook(ctx context.Context, id string) (*model.WebhookRecord, error)                            // Retrieves a record by ID
	GetWebhooksByToken(ctx context.Context, token string, limit int) ([]model.WebhookRecord, error)     // Lists records for a gateway token, newest first
}
