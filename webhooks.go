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
	"fmt"

	"github.com/blnkfinance/payrelay/gateway"
	"github.com/blnkfinance/payrelay/internal/apierror"
	redlock "github.com/blnkfinance/payrelay/internal/lock"
	"github.com/blnkfinance/payrelay/internal/metrics"
	"github.com/blnkfinance/payrelay/model"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const webhookHistoryLimit = 100

// decision is what processing a webhook against a transaction amounts to.
type decision struct {
	outcome     model.WebhookOutcome
	audit       string
	isDuplicate bool
	becamePaid  bool
}

// HandleWebhook records a gateway notification in the audit log and applies it.
//
// The returned outcome tells the gateway whether the notification was accepted: everything but
// NotFound is. An error is returned only when storage or the per-token lock failed, in which
// case the notification should be redelivered.
func (r *Relay) HandleWebhook(ctx context.Context, event *model.WebhookEvent) (model.WebhookOutcome, error) {
	ctx, span := tracer.Start(ctx, "HandleWebhook")
	defer span.End()
	span.SetAttributes(attribute.String("webhook.event", event.Event), attribute.String("webhook.token", event.Token))

	record, err := r.datasource.RecordWebhook(ctx, &model.WebhookRecord{
		EventType:    event.Event,
		GatewayToken: event.Token,
		RawPayload:   event.Raw,
		RemoteAddr:   event.RemoteAddr,
		ReceivedAt:   r.clock.Now(),
		Outcome:      model.OutcomeReceived,
	})
	if err != nil {
		r.notifier.NotifyError(fmt.Errorf("failed to record webhook %s for token %s: %w", event.Event, event.Token, err))
		return "", logAndRecordError(span, "failed to record webhook", asStorageError(err, "failed to record webhook"))
	}

	return r.processWebhook(ctx, span, record.WebhookID, event)
}

// ReplayWebhook runs a stored notification through the processor again, typically one that
// arrived before its token was stored. Its audit record is updated with the new outcome.
func (r *Relay) ReplayWebhook(ctx context.Context, webhookID string) (model.WebhookOutcome, error) {
	ctx, span := tracer.Start(ctx, "ReplayWebhook")
	defer span.End()

	record, err := r.datasource.GetWebhook(ctx, webhookID)
	if err != nil {
		return "", err
	}

	event, err := gateway.ParseWebhook(record.RawPayload)
	if err != nil {
		return "", err
	}
	event.RemoteAddr = record.RemoteAddr

	logrus.WithFields(logrus.Fields{"webhook_id": webhookID, "token": event.Token, "event": event.Event}).Info("replaying webhook")
	return r.processWebhook(ctx, span, record.WebhookID, event)
}

func (r *Relay) processWebhook(ctx context.Context, span trace.Span, webhookID string, event *model.WebhookEvent) (model.WebhookOutcome, error) {
	fields := logrus.Fields{"webhook_id": webhookID, "token": event.Token, "event": event.Event}

	txn, err := r.resolveTransaction(ctx, event.Token)
	if apierror.Is(err, apierror.ErrNotFound) {
		logrus.WithFields(fields).Warn("no transaction for webhook token")
		metrics.WebhookOutcomes.WithLabelValues(event.Event, string(model.WebhookNotFound)).Inc()
		if err := r.finishWebhook(ctx, webhookID, model.OutcomeNotFound, false); err != nil {
			return "", logAndRecordError(span, "failed to update webhook outcome", err)
		}
		return model.WebhookNotFound, nil
	}
	if err != nil {
		return "", r.abortWebhook(ctx, span, webhookID, "failed to resolve transaction", err)
	}
	fields["transaction_id"] = txn.TransactionID
	fields["order_ref"] = txn.OrderRef

	locker := redlock.NewLocker(r.redis, redlock.TokenKey(event.Token), model.GenerateUUIDWithSuffix("lock"))
	if err := locker.WaitLock(ctx, r.policy.LockTTL, r.policy.LockWait); err != nil {
		return "", r.abortWebhook(ctx, span, webhookID, "failed to acquire token lock", err)
	}

	// Past this point the work is finished even if the caller goes away.
	work := context.WithoutCancel(ctx)
	defer func() {
		if err := locker.Unlock(work); err != nil {
			logrus.WithError(err).WithFields(fields).Warn("failed to release token lock")
		}
	}()

	d, txn, err := r.decide(work, txn.TransactionID, event)
	if err != nil {
		return "", r.abortWebhook(work, span, webhookID, "failed to apply webhook", err)
	}

	if err := r.finishWebhook(work, webhookID, d.audit, d.isDuplicate); err != nil {
		return "", logAndRecordError(span, "failed to update webhook outcome", err)
	}

	metrics.WebhookOutcomes.WithLabelValues(event.Event, string(d.outcome)).Inc()
	logrus.WithFields(fields).WithField("outcome", d.audit).Info("webhook processed")

	if d.becamePaid {
		r.orderPaid(work, txn)
	}
	return d.outcome, nil
}

// decide re-reads the transaction under the token lock and applies the event when allowed.
// The transition itself is a compare-and-set on is_processed, so a lost race is classified
// from a fresh read instead of being applied twice.
func (r *Relay) decide(ctx context.Context, transactionID string, event *model.WebhookEvent) (decision, *model.Transaction, error) {
	txn, err := r.datasource.GetTransaction(ctx, transactionID)
	if err != nil {
		return decision{}, nil, err
	}

	if d, settled := classifyRedelivery(txn, event.Event); settled {
		return d, txn, nil
	}

	transition := model.TransitionFor(event.Event, event.Fees, r.clock.Now())
	if transition.Status == model.StatusUnknown {
		return decision{outcome: model.WebhookIgnored, audit: model.OutcomeUnknownEvent}, txn, nil
	}

	applied, err := r.datasource.ApplyTransition(ctx, txn.TransactionID, transition)
	if err != nil {
		return decision{}, nil, err
	}

	txn, err = r.datasource.GetTransaction(ctx, transactionID)
	if err != nil {
		return decision{}, nil, err
	}
	if !applied {
		if d, settled := classifyRedelivery(txn, event.Event); settled {
			return d, txn, nil
		}
		return decision{}, nil, fmt.Errorf("transition for transaction %s was not applied and the transaction is not processed", transactionID)
	}

	return decision{
		outcome:    model.WebhookApplied,
		audit:      model.OutcomeApplied,
		becamePaid: transition.Status == model.StatusPaid,
	}, txn, nil
}

// classifyRedelivery reports whether event needs no transition. A repeat of the last applied
// event is a duplicate whether or not the transaction is terminal; any other event on a
// terminal transaction is ignored.
func classifyRedelivery(txn *model.Transaction, event string) (decision, bool) {
	if txn.LastEvent != "" && txn.LastEvent == event {
		return decision{outcome: model.WebhookDuplicate, audit: model.OutcomeDuplicate, isDuplicate: true}, true
	}
	if txn.IsProcessed {
		return decision{outcome: model.WebhookIgnored, audit: model.OutcomeAlreadyProcessed}, true
	}
	return decision{}, false
}

func (r *Relay) finishWebhook(ctx context.Context, webhookID, outcome string, isDuplicate bool) error {
	return asStorageError(
		r.datasource.UpdateWebhookOutcome(context.WithoutCancel(ctx), webhookID, outcome, isDuplicate),
		"failed to update webhook outcome",
	)
}

// abortWebhook marks the audit record as failed and surfaces cause.
func (r *Relay) abortWebhook(ctx context.Context, span trace.Span, webhookID, msg string, cause error) error {
	if err := r.finishWebhook(ctx, webhookID, model.OutcomeFailed, false); err != nil {
		logrus.WithError(err).WithField("webhook_id", webhookID).Error("failed to mark webhook as failed")
	}
	r.notifier.NotifyError(fmt.Errorf("webhook %s: %s: %w", webhookID, msg, cause))
	return logAndRecordError(span, msg, asStorageError(cause, msg))
}

func (r *Relay) orderPaid(ctx context.Context, txn *model.Transaction) {
	if r.hooks == nil {
		return
	}
	if err := r.hooks.DispatchOrderPaid(ctx, txn); err != nil {
		r.notifier.NotifyError(fmt.Errorf("failed to dispatch order hooks for transaction %s (order %s): %w",
			txn.TransactionID, txn.OrderRef, err))
	}
}

// GetWebhook returns one audit record.
func (r *Relay) GetWebhook(ctx context.Context, id string) (*model.WebhookRecord, error) {
	return r.datasource.GetWebhook(ctx, id)
}

// GetWebhooksByToken returns the most recent audit records for a token, newest first.
func (r *Relay) GetWebhooksByToken(ctx context.Context, token string) ([]model.WebhookRecord, error) {
	return r.datasource.GetWebhooksByToken(ctx, token, webhookHistoryLimit)
}
