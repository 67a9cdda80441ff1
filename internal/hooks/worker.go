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
	"fmt"
	"time"

	"github.com/blnkfinance/payrelay/internal/apierror"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// ProcessHookTask delivers one queued order hook. A hook that was deleted or deactivated
// after queueing is skipped. When the last retry fails the notifier is told.
func (m *redisHookManager) ProcessHookTask(ctx context.Context, task *asynq.Task) error {
	var taskPayload HookTaskPayload
	if err := json.Unmarshal(task.Payload(), &taskPayload); err != nil {
		return fmt.Errorf("failed to unmarshal hook task payload: %w: %w", err, asynq.SkipRetry)
	}

	hook, err := m.GetHook(ctx, taskPayload.HookID)
	if apierror.Is(err, apierror.ErrNotFound) {
		logrus.WithField("hook_id", taskPayload.HookID).Warn("hook removed before delivery, skipping")
		return nil
	}
	if err != nil {
		return err
	}
	if !hook.Active {
		logrus.WithField("hook_id", hook.ID).Info("hook inactive, skipping delivery")
		return nil
	}

	hookCtx, cancel := context.WithTimeout(ctx, time.Duration(hook.Timeout)*time.Second)
	defer cancel()

	logrus.WithFields(logrus.Fields{
		"hook_id":        hook.ID,
		"transaction_id": taskPayload.Payload.TransactionID,
	}).Info("Processing queued hook task")

	err = m.executeHook(hookCtx, hook, taskPayload.Payload)
	if err != nil && lastAttempt(ctx) && m.notifier != nil {
		m.notifier.NotifyError(fmt.Errorf("order hook %s for transaction %s (order %s) exhausted its retries: %w",
			hook.ID, taskPayload.Payload.TransactionID, taskPayload.Payload.OrderRef, err))
	}
	return err
}

func lastAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}
