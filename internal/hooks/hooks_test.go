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

package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/blnkfinance/payrelay/internal/apierror"
	"github.com/blnkfinance/payrelay/model"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/hibiken/asynq"
	"github.com/jarcoal/httpmock"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	mu    sync.Mutex
	tasks []*asynq.Task
	ids   map[string]bool
	err   error
}

func (q *fakeQueue) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return nil, q.err
	}
	if q.ids == nil {
		q.ids = map[string]bool{}
	}
	for _, opt := range opts {
		if opt.Type() == asynq.TaskIDOpt {
			id := opt.Value().(string)
			if q.ids[id] {
				return nil, asynq.ErrTaskIDConflict
			}
			q.ids[id] = true
		}
	}
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{ID: task.Type()}, nil
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

func setupManager(t *testing.T) (*redisHookManager, *fakeQueue, *recordingNotifier) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	queue := &fakeQueue{}
	notifier := &recordingNotifier{}
	manager := NewHookManager(client, queue, QueueOptions{Queue: "order_hooks", MaxRetry: 3}, notifier).(*redisHookManager)

	httpmock.ActivateNonDefault(manager.HTTPClient())
	t.Cleanup(httpmock.DeactivateAndReset)
	return manager, queue, notifier
}

func paidTransaction() *model.Transaction {
	token := "TKX"
	paidAt := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return &model.Transaction{
		TransactionID: "txn_1",
		OrderRef:      "O-1",
		OrderNumber:   "1001",
		GatewayToken:  &token,
		Amount:        decimal.NewFromInt(5000),
		Fees:          decimal.NewNullDecimal(decimal.NewFromInt(50)),
		CustomerName:  gofakeit.Name(),
		Status:        model.StatusPaid,
		IsProcessed:   true,
		PaidAt:        &paidAt,
	}
}

func TestRegisterAndGetHook(t *testing.T) {
	manager, _, _ := setupManager(t)
	ctx := context.Background()

	hook := &Hook{Name: "shop", URL: "https://shop.test/hooks/paid", Type: OrderPaid, Active: true}
	require.NoError(t, manager.RegisterHook(ctx, hook))
	assert.NotEmpty(t, hook.ID)
	assert.Equal(t, defaultHookTimeout, hook.Timeout)

	got, err := manager.GetHook(ctx, hook.ID)
	require.NoError(t, err)
	assert.Equal(t, hook.URL, got.URL)

	hooks, err := manager.ListHooks(ctx, OrderPaid)
	require.NoError(t, err)
	assert.Len(t, hooks, 1)
}

func TestRegisterHook_Invalid(t *testing.T) {
	manager, _, _ := setupManager(t)

	err := manager.RegisterHook(context.Background(), &Hook{Type: OrderPaid})
	assert.True(t, apierror.Is(err, apierror.ErrInvalidInput))

	err = manager.RegisterHook(context.Background(), &Hook{URL: "https://x.test", Type: "PRE_TRANSACTION"})
	assert.True(t, apierror.Is(err, apierror.ErrInvalidInput))
}

func TestUpdateAndDeleteHook(t *testing.T) {
	manager, _, _ := setupManager(t)
	ctx := context.Background()

	hook := &Hook{Name: "shop", URL: "https://shop.test/a", Type: OrderPaid, Active: true}
	require.NoError(t, manager.RegisterHook(ctx, hook))

	update := &Hook{Name: "shop v2", URL: "https://shop.test/b", Type: OrderPaid, Active: false, Timeout: 5}
	require.NoError(t, manager.UpdateHook(ctx, hook.ID, update))

	got, err := manager.GetHook(ctx, hook.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://shop.test/b", got.URL)
	assert.False(t, got.Active)
	assert.Equal(t, hook.CreatedAt.Unix(), got.CreatedAt.Unix())

	require.NoError(t, manager.DeleteHook(ctx, hook.ID))
	_, err = manager.GetHook(ctx, hook.ID)
	assert.True(t, apierror.Is(err, apierror.ErrNotFound))

	hooks, err := manager.ListHooks(ctx, OrderPaid)
	require.NoError(t, err)
	assert.Empty(t, hooks)
}

func TestDispatchOrderPaid(t *testing.T) {
	manager, queue, _ := setupManager(t)
	ctx := context.Background()

	active := &Hook{Name: "shop", URL: "https://shop.test/a", Type: OrderPaid, Active: true}
	inactive := &Hook{Name: "old", URL: "https://shop.test/old", Type: OrderPaid, Active: false}
	require.NoError(t, manager.RegisterHook(ctx, active))
	require.NoError(t, manager.RegisterHook(ctx, inactive))

	require.NoError(t, manager.DispatchOrderPaid(ctx, paidTransaction()))
	require.Len(t, queue.tasks, 1)
	assert.Equal(t, TaskDeliverHook, queue.tasks[0].Type())

	var payload HookTaskPayload
	require.NoError(t, json.Unmarshal(queue.tasks[0].Payload(), &payload))
	assert.Equal(t, active.ID, payload.HookID)
	assert.Equal(t, "order.paid", payload.Payload.Event)
	assert.Equal(t, "O-1", payload.Payload.OrderRef)
	assert.Equal(t, "TKX", payload.Payload.GatewayToken)
	assert.True(t, payload.Payload.Fees.Decimal.Equal(decimal.NewFromInt(50)))

	// A second dispatch for the same transaction is absorbed by the task id.
	require.NoError(t, manager.DispatchOrderPaid(ctx, paidTransaction()))
	assert.Len(t, queue.tasks, 1)
}

func TestDispatchOrderPaid_EnqueueError(t *testing.T) {
	manager, queue, _ := setupManager(t)
	ctx := context.Background()
	require.NoError(t, manager.RegisterHook(ctx, &Hook{URL: "https://shop.test/a", Type: OrderPaid, Active: true}))

	queue.err = errors.New("redis down")
	err := manager.DispatchOrderPaid(ctx, paidTransaction())
	assert.ErrorContains(t, err, "redis down")
}

func newDeliveryTask(t *testing.T, hookID string) *asynq.Task {
	data, err := json.Marshal(HookTaskPayload{
		HookID:  hookID,
		Payload: HookPayload{Event: "order.paid", HookType: OrderPaid, TransactionID: "txn_1", OrderRef: "O-1"},
	})
	require.NoError(t, err)
	return asynq.NewTask(TaskDeliverHook, data)
}

func TestProcessHookTask_Responses(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr bool
	}{
		{name: "empty 2xx", status: http.StatusNoContent, body: ""},
		{name: "plain text 2xx", status: http.StatusOK, body: "ok"},
		{name: "json success", status: http.StatusOK, body: `{"success":true,"message":"synced"}`},
		{name: "json without success flag", status: http.StatusOK, body: `{"order":"O-1"}`},
		{name: "json explicit failure", status: http.StatusOK, body: `{"success":false,"message":"order locked"}`, wantErr: true},
		{name: "server error", status: http.StatusInternalServerError, body: "boom", wantErr: true},
		{name: "empty error", status: http.StatusBadGateway, body: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager, _, _ := setupManager(t)
			ctx := context.Background()

			hook := &Hook{Name: "shop", URL: "https://shop.test/paid", Type: OrderPaid, Active: true, Timeout: 5}
			require.NoError(t, manager.RegisterHook(ctx, hook))

			httpmock.RegisterResponder(http.MethodPost, hook.URL, func(req *http.Request) (*http.Response, error) {
				assert.Equal(t, hook.ID, req.Header.Get("X-Hook-ID"))
				assert.Equal(t, hook.ID+":txn_1", req.Header.Get("Idempotency-Key"))
				return httpmock.NewStringResponse(tt.status, tt.body), nil
			})

			err := manager.ProcessHookTask(ctx, newDeliveryTask(t, hook.ID))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}

			stored, err := manager.GetHook(ctx, hook.ID)
			require.NoError(t, err)
			assert.Equal(t, !tt.wantErr, stored.LastSuccess)
			assert.False(t, stored.LastRun.IsZero())
		})
	}
}

func TestProcessHookTask_DeletedHookIsSkipped(t *testing.T) {
	manager, _, _ := setupManager(t)

	err := manager.ProcessHookTask(context.Background(), newDeliveryTask(t, "hook_missing"))
	assert.NoError(t, err)
	assert.Equal(t, 0, httpmock.GetTotalCallCount())
}

func TestProcessHookTask_InvalidPayload(t *testing.T) {
	manager, _, _ := setupManager(t)

	err := manager.ProcessHookTask(context.Background(), asynq.NewTask(TaskDeliverHook, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestProcessHookTask_NotifiesWhenRetriesExhausted(t *testing.T) {
	manager, _, notifier := setupManager(t)
	ctx := context.Background()

	hook := &Hook{URL: "https://shop.test/paid", Type: OrderPaid, Active: true, Timeout: 5}
	require.NoError(t, manager.RegisterHook(ctx, hook))
	httpmock.RegisterResponder(http.MethodPost, hook.URL, httpmock.NewStringResponder(http.StatusServiceUnavailable, "down"))

	// Outside an asynq worker there is no retry metadata, which counts as the last attempt.
	err := manager.ProcessHookTask(ctx, newDeliveryTask(t, hook.ID))
	assert.Error(t, err)
	require.Len(t, notifier.errs, 1)
	assert.Contains(t, notifier.errs[0].Error(), "O-1")
}
