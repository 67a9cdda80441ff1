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

	"github.com/sirupsen/logrus"
)

// executeHook performs one delivery attempt. Retries are left to the queue.
//
// A 2xx answer succeeds when its body is empty, not JSON, or JSON without an explicit
// "success": false. Any other status fails.
func (m *redisHookManager) executeHook(ctx context.Context, hook *Hook, payload HookPayload) error {
	fields := logrus.Fields{
		"hook_id":        hook.ID,
		"hook_name":      hook.Name,
		"hook_url":       hook.URL,
		"transaction_id": payload.TransactionID,
		"order_ref":      payload.OrderRef,
	}
	logrus.WithFields(fields).Info("Executing order hook")

	resp, err := m.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Hook-ID", hook.ID).
		SetHeader("X-Hook-Type", string(hook.Type)).
		SetHeader("Idempotency-Key", fmt.Sprintf("%s:%s", hook.ID, payload.TransactionID)).
		SetBody(payload).
		Post(hook.URL)
	if err != nil {
		m.updateHookStatus(ctx, hook, false)
		if ctx.Err() != nil {
			logrus.WithFields(fields).WithError(err).Error("Hook execution cancelled due to context timeout")
			return ctx.Err()
		}
		return fmt.Errorf("failed to execute request: %w", err)
	}

	body := resp.Body()
	status := resp.StatusCode()
	fields["status_code"] = status
	logrus.WithFields(fields).WithField("response", string(body)).Debug("Hook response received")

	if !resp.IsSuccess() {
		m.updateHookStatus(ctx, hook, false)
		if len(body) == 0 {
			return fmt.Errorf("hook returned empty response with status %d", status)
		}
		return fmt.Errorf("hook returned error response (status %d): %s", status, string(body))
	}

	if len(body) == 0 || !json.Valid(body) {
		logrus.WithFields(fields).Info("Hook executed successfully")
		m.updateHookStatus(ctx, hook, true)
		return nil
	}

	var hookResp HookResponse
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &raw); err != nil {
		// valid JSON that is not an object, e.g. "ok" or []
		m.updateHookStatus(ctx, hook, true)
		return nil
	}
	if _, ok := raw["success"]; ok {
		if err := json.Unmarshal(body, &hookResp); err == nil && !hookResp.Success {
			m.updateHookStatus(ctx, hook, false)
			return fmt.Errorf("hook execution failed: %s", hookResp.Message)
		}
	}

	logrus.WithFields(fields).Info("Hook executed successfully with JSON response")
	m.updateHookStatus(ctx, hook, true)
	return nil
}

func (m *redisHookManager) updateHookStatus(ctx context.Context, hook *Hook, success bool) {
	hook.LastRun = time.Now()
	hook.LastSuccess = success

	data, err := json.Marshal(hook)
	if err != nil {
		logrus.WithError(err).Error("failed to marshal hook status")
		return
	}
	// SetXX: a hook deleted during delivery stays deleted.
	if err := m.client.SetXX(context.WithoutCancel(ctx), hookKey(hook.ID), data, 0).Err(); err != nil {
		logrus.WithError(err).WithField("hook_id", hook.ID).Warn("failed to update hook status")
	}
}
