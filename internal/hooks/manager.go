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
	"fmt"
	"net/http"
	"time"

	"github.com/blnkfinance/payrelay/internal/apierror"
	"github.com/blnkfinance/payrelay/internal/notification"
	"github.com/blnkfinance/payrelay/model"
	"github.com/go-resty/resty/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	hookKeyPrefix      = "payrelay:hooks"
	orderPaidKeyPrefix = "payrelay:hook_types:order_paid"

	defaultHookTimeout = 30
)

type redisHookManager struct {
	client   redis.UniversalClient
	queue    Enqueuer
	options  QueueOptions
	http     *resty.Client
	notifier notification.Notifier
}

// NewHookManager creates a Redis-backed hook registry that delivers through the given queue.
func NewHookManager(redisClient redis.UniversalClient, queue Enqueuer, options QueueOptions, notifier notification.Notifier) HookManager {
	if options.Queue == "" {
		options.Queue = "order_hooks"
	}
	if options.MaxRetry <= 0 {
		options.MaxRetry = 5
	}
	return &redisHookManager{
		client:   redisClient,
		queue:    queue,
		options:  options,
		http:     resty.New().SetRetryCount(0),
		notifier: notifier,
	}
}

// HTTPClient exposes the delivery HTTP client so tests can mock the transport.
func (m *redisHookManager) HTTPClient() *http.Client {
	return m.http.GetClient()
}

func hookKey(hookID string) string {
	return fmt.Sprintf("%s:%s", hookKeyPrefix, hookID)
}

func (m *redisHookManager) RegisterHook(ctx context.Context, hook *Hook) error {
	if hook.ID == "" {
		hook.ID = model.GenerateUUIDWithSuffix("hook")
	}
	hook.CreatedAt = time.Now()

	if err := validateHook(hook); err != nil {
		return err
	}

	data, err := json.Marshal(hook)
	if err != nil {
		return fmt.Errorf("failed to marshal hook: %w", err)
	}

	pipe := m.client.TxPipeline()
	pipe.Set(ctx, hookKey(hook.ID), data, 0)
	pipe.SAdd(ctx, getTypeKey(hook.Type), hook.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store hook: %w", err)
	}
	return nil
}

func (m *redisHookManager) UpdateHook(ctx context.Context, hookID string, hook *Hook) error {
	existing, err := m.GetHook(ctx, hookID)
	if err != nil {
		return err
	}

	hook.ID = existing.ID
	hook.CreatedAt = existing.CreatedAt
	hook.LastRun = existing.LastRun
	hook.LastSuccess = existing.LastSuccess

	if err := validateHook(hook); err != nil {
		return err
	}

	data, err := json.Marshal(hook)
	if err != nil {
		return fmt.Errorf("failed to marshal hook: %w", err)
	}

	pipe := m.client.TxPipeline()
	if existing.Type != hook.Type {
		pipe.SRem(ctx, getTypeKey(existing.Type), hookID)
		pipe.SAdd(ctx, getTypeKey(hook.Type), hookID)
	}
	pipe.Set(ctx, hookKey(hookID), data, 0)
	_, err = pipe.Exec(ctx)
	return err
}

func (m *redisHookManager) DeleteHook(ctx context.Context, hookID string) error {
	hook, err := m.GetHook(ctx, hookID)
	if err != nil {
		return err
	}

	pipe := m.client.TxPipeline()
	pipe.Del(ctx, hookKey(hookID))
	pipe.SRem(ctx, getTypeKey(hook.Type), hookID)
	_, err = pipe.Exec(ctx)
	return err
}

func (m *redisHookManager) GetHook(ctx context.Context, hookID string) (*Hook, error) {
	data, err := m.client.Get(ctx, hookKey(hookID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("hook not found: %s", hookID), nil)
		}
		return nil, err
	}

	var hook Hook
	if err := json.Unmarshal(data, &hook); err != nil {
		return nil, fmt.Errorf("failed to unmarshal hook: %w", err)
	}
	return &hook, nil
}

func (m *redisHookManager) ListHooks(ctx context.Context, hookType HookType) ([]*Hook, error) {
	hookIDs, err := m.client.SMembers(ctx, getTypeKey(hookType)).Result()
	if err != nil {
		return nil, err
	}

	hooks := make([]*Hook, 0, len(hookIDs))
	for _, id := range hookIDs {
		hook, err := m.GetHook(ctx, id)
		if err != nil {
			logrus.WithError(err).WithField("hook_id", id).Warn("skipping unreadable hook")
			continue
		}
		hooks = append(hooks, hook)
	}
	return hooks, nil
}

// DispatchOrderPaid queues one delivery per active ORDER_PAID hook. Each delivery has a task id
// derived from the hook and the transaction, so dispatching the same transaction again is a no-op.
func (m *redisHookManager) DispatchOrderPaid(ctx context.Context, txn *model.Transaction) error {
	hooks, err := m.ListHooks(ctx, OrderPaid)
	if err != nil {
		return err
	}

	payload := HookPayload{
		Event:         "order.paid",
		HookType:      OrderPaid,
		TransactionID: txn.TransactionID,
		OrderRef:      txn.OrderRef,
		OrderNumber:   txn.OrderNumber,
		Amount:        txn.Amount,
		Fees:          txn.Fees,
		GatewayToken:  txn.Token(),
		PaidAt:        txn.PaidAt,
		Timestamp:     time.Now().UTC(),
	}

	var errs []error
	for _, hook := range hooks {
		if !hook.Active {
			continue
		}
		if err := m.enqueue(ctx, hook, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *redisHookManager) enqueue(ctx context.Context, hook *Hook, payload HookPayload) error {
	data, err := json.Marshal(HookTaskPayload{HookID: hook.ID, Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to marshal hook task: %w", err)
	}

	taskID := fmt.Sprintf("%s:%s", hook.ID, payload.TransactionID)
	task := asynq.NewTask(TaskDeliverHook, data)
	_, err = m.queue.EnqueueContext(ctx, task,
		asynq.TaskID(taskID),
		asynq.Queue(m.options.Queue),
		asynq.MaxRetry(m.options.MaxRetry),
		asynq.Timeout(time.Duration(hook.Timeout+5)*time.Second),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		logrus.WithField("task_id", taskID).Info("order hook already queued")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue hook %s: %w", hook.ID, err)
	}

	logrus.WithFields(logrus.Fields{
		"hook_id":        hook.ID,
		"transaction_id": payload.TransactionID,
		"order_ref":      payload.OrderRef,
		"queue":          m.options.Queue,
	}).Info("order hook queued")
	return nil
}

func validateHook(hook *Hook) error {
	if hook.URL == "" {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "hook URL is required", nil)
	}
	if hook.Type != OrderPaid {
		return apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("invalid hook type: %s", hook.Type), nil)
	}
	if hook.Timeout <= 0 {
		hook.Timeout = defaultHookTimeout
	}
	return nil
}

func getTypeKey(hookType HookType) string {
	switch hookType {
	case OrderPaid:
		return orderPaidKeyPrefix
	default:
		return hookKeyPrefix
	}
}
