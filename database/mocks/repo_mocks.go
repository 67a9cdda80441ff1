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

package mocks

import (
	"context"
	"time"

	"github.com/blnkfinance/payrelay/model"
	"github.com/stretchr/testify/mock"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// Transaction methods

func (m *MockDataSource) CreateTransaction(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	args := m.Called(ctx, txn)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Transaction), args.Error(1)
}

func (m *MockDataSource) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Transaction), args.Error(1)
}

func (m *MockDataSource) GetTransactionByToken(ctx context.Context, token string) (*model.Transaction, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Transaction), args.Error(1)
}

func (m *MockDataSource) SetGatewayToken(ctx context.Context, id, token, status string, errorMessage *string, at time.Time) error {
	args := m.Called(ctx, id, token, status, errorMessage, at)
	return args.Error(0)
}

func (m *MockDataSource) MarkTransactionFailed(ctx context.Context, id, errorMessage string, at time.Time) error {
	args := m.Called(ctx, id, errorMessage, at)
	return args.Error(0)
}

func (m *MockDataSource) ApplyTransition(ctx context.Context, id string, transition model.Transition) (bool, error) {
	args := m.Called(ctx, id, transition)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) GetPendingTransactions(ctx context.Context, limit int) ([]model.Transaction, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Transaction), args.Error(1)
}

// Webhook log methods

func (m *MockDataSource) RecordWebhook(ctx context.Context, record *model.WebhookRecord) (*model.WebhookRecord, error) {
	args := m.Called(ctx, record)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.WebhookRecord), args.Error(1)
}

func (m *MockDataSource) UpdateWebhookOutcome(ctx context.Context, id, outcome string, isDuplicate bool) error {
	args := m.Called(ctx, id, outcome, isDuplicate)
	return args.Error(0)
}

func (m *MockDataSource) GetWebhook(ctx context.Context, id string) (*model.WebhookRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.WebhookRecord), args.Error(1)
}

func (m *MockDataSource) GetWebhooksByToken(ctx context.Context, token string, limit int) ([]model.WebhookRecord, error) {
	args := m.Called(ctx, token, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.WebhookRecord), args.Error(1)
}
