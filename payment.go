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
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/blnkfinance/payrelay/gateway"
	"github.com/blnkfinance/payrelay/internal/apierror"
	"github.com/blnkfinance/payrelay/internal/metrics"
	"github.com/blnkfinance/payrelay/model"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/wacul/ptr"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const pendingTransactionsLimit = 50

func logAndRecordError(span trace.Span, msg string, err error) error {
	span.RecordError(err)
	logrus.WithError(err).Error(msg)
	return err
}

func (r *Relay) validatePayment(req *model.PaymentRequest) error {
	phone := model.NormalizePhone(req.Phone)

	err := validation.Errors{
		"order_ref":     validation.Validate(strings.TrimSpace(req.OrderRef), validation.Required),
		"customer_name": validation.Validate(strings.TrimSpace(req.CustomerName), validation.Required),
		"phone": validation.Validate(phone,
			validation.Required.Error("phone must contain digits"),
			validation.Length(r.policy.MinPhoneDigits, 0).Error(fmt.Sprintf("phone must have at least %d digits", r.policy.MinPhoneDigits)),
		),
		"amount": validation.Validate(req.Amount, validation.By(func(value interface{}) error {
			amount, _ := value.(decimal.Decimal)
			if !amount.GreaterThan(r.policy.MinimumAmount) {
				return fmt.Errorf("amount must be greater than %s", r.policy.MinimumAmount.String())
			}
			if !amount.IsInteger() {
				return errors.New("amount must be a whole number of currency units")
			}
			return nil
		})),
		"return_url": validation.Validate(strings.TrimSpace(req.ReturnURL), validation.Required, validation.By(func(value interface{}) error {
			raw, _ := value.(string)
			if raw == "" {
				return nil
			}
			u, err := url.ParseRequestURI(raw)
			if err != nil || u.Host == "" {
				return errors.New("must be an absolute URL")
			}
			return nil
		})),
	}.Filter()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), nil)
	}
	return nil
}

// InitiatePayment creates the transaction, opens a gateway session for it and records the
// outcome. Once the transaction exists the result is always returned, also alongside an error,
// so callers can report the transaction id.
//
// The gateway call and everything after it run detached from ctx cancellation: a request that
// may have reached the gateway always has its outcome recorded.
func (r *Relay) InitiatePayment(ctx context.Context, req model.PaymentRequest) (*model.PaymentResult, error) {
	ctx, span := tracer.Start(ctx, "InitiatePayment")
	defer span.End()

	if err := r.validatePayment(&req); err != nil {
		span.RecordError(err)
		return nil, err
	}

	now := r.clock.Now()
	orderNumber := strings.TrimSpace(req.OrderNumber)
	if orderNumber == "" {
		orderNumber = fmt.Sprintf("ORDER_%d", now.UnixNano())
	}

	txn, err := r.datasource.CreateTransaction(ctx, &model.Transaction{
		OrderRef:      strings.TrimSpace(req.OrderRef),
		OrderNumber:   orderNumber,
		Amount:        req.Amount,
		CustomerPhone: model.NormalizePhone(req.Phone),
		CustomerName:  strings.TrimSpace(req.CustomerName),
		ReturnURL:     strings.TrimSpace(req.ReturnURL),
		CreatedAt:     now,
	})
	if err != nil {
		return nil, logAndRecordError(span, "failed to create transaction", asStorageError(err, "failed to create transaction"))
	}
	span.SetAttributes(attribute.String("transaction.id", txn.TransactionID), attribute.String("order.ref", txn.OrderRef))

	fields := logrus.Fields{"transaction_id": txn.TransactionID, "order_ref": txn.OrderRef}
	detached := context.WithoutCancel(ctx)

	session, gwErr := r.gateway.CreateSession(detached, gateway.SessionRequest{
		TransactionID: txn.TransactionID,
		OrderRef:      txn.OrderRef,
		Amount:        txn.Amount,
		Phone:         txn.CustomerPhone,
		CustomerName:  txn.CustomerName,
		ReturnURL:     txn.ReturnURL,
	})
	if gwErr != nil {
		return r.failInitiation(detached, span, txn, gwErr)
	}

	if !session.Success {
		return r.declineInitiation(detached, span, txn, session)
	}

	if err := r.datasource.SetGatewayToken(detached, txn.TransactionID, session.Token, model.StatusPending, nil, r.clock.Now()); err != nil {
		return r.tokenNotRecorded(detached, span, txn, session.Token, err)
	}
	r.publishToken(detached, session.Token)

	metrics.PaymentsInitiated.WithLabelValues(model.StatusPending).Inc()
	logrus.WithFields(fields).WithField("token", session.Token).Info("payment session opened")

	return &model.PaymentResult{
		Success:       true,
		TransactionID: txn.TransactionID,
		Token:         session.Token,
		RedirectURL:   session.RedirectURL,
	}, nil
}

// failInitiation records a gateway call that produced no usable answer.
func (r *Relay) failInitiation(ctx context.Context, span trace.Span, txn *model.Transaction, gwErr error) (*model.PaymentResult, error) {
	message := gatewayErrorMessage(gwErr)
	result := &model.PaymentResult{TransactionID: txn.TransactionID, ErrorMessage: message}
	metrics.PaymentsInitiated.WithLabelValues(model.StatusFailed).Inc()

	if err := r.datasource.MarkTransactionFailed(ctx, txn.TransactionID, message, r.clock.Now()); err != nil {
		return result, logAndRecordError(span, "failed to record gateway failure", asStorageError(err, "failed to record gateway failure"))
	}

	logrus.WithFields(logrus.Fields{
		"transaction_id": txn.TransactionID,
		"order_ref":      txn.OrderRef,
		"error":          message,
	}).Warn("payment initiation failed at gateway")
	span.RecordError(gwErr)

	if gateway.IsKind(gwErr, gateway.KindTimeout) {
		return result, apierror.NewAPIError(apierror.ErrGatewayTimeout, message, nil)
	}
	return result, apierror.NewAPIError(apierror.ErrBadGateway, message, nil)
}

// declineInitiation records a well-formed refusal from the gateway.
func (r *Relay) declineInitiation(ctx context.Context, span trace.Span, txn *model.Transaction, session *gateway.Session) (*model.PaymentResult, error) {
	message := strings.TrimSpace(session.Message)
	if message == "" {
		message = "payment declined by gateway"
	}
	result := &model.PaymentResult{TransactionID: txn.TransactionID, Token: session.Token, ErrorMessage: message}
	metrics.PaymentsInitiated.WithLabelValues(model.StatusFailed).Inc()

	var err error
	if session.Token != "" {
		err = r.datasource.SetGatewayToken(ctx, txn.TransactionID, session.Token, model.StatusFailed, ptr.String(message), r.clock.Now())
		if err == nil {
			r.publishToken(ctx, session.Token)
		}
	} else {
		err = r.datasource.MarkTransactionFailed(ctx, txn.TransactionID, message, r.clock.Now())
	}
	if err != nil {
		return result, logAndRecordError(span, "failed to record declined payment", asStorageError(err, "failed to record declined payment"))
	}

	logrus.WithFields(logrus.Fields{
		"transaction_id": txn.TransactionID,
		"order_ref":      txn.OrderRef,
		"token":          session.Token,
		"error":          message,
	}).Warn("payment declined by gateway")
	return result, apierror.NewAPIError(apierror.ErrPaymentDeclined, message, nil)
}

// tokenNotRecorded handles a session the gateway opened but whose token could not be stored.
// The transaction is failed so it never stays initiating.
func (r *Relay) tokenNotRecorded(ctx context.Context, span trace.Span, txn *model.Transaction, token string, cause error) (*model.PaymentResult, error) {
	message := "failed to record gateway token"
	if apierror.Is(cause, apierror.ErrConflict) {
		message = "gateway token already assigned to another transaction"
	}
	result := &model.PaymentResult{TransactionID: txn.TransactionID, Token: token, ErrorMessage: message}
	metrics.PaymentsInitiated.WithLabelValues(model.StatusFailed).Inc()

	if err := r.datasource.MarkTransactionFailed(ctx, txn.TransactionID, message, r.clock.Now()); err != nil {
		logrus.WithError(err).WithField("transaction_id", txn.TransactionID).Error("failed to mark transaction failed")
	}
	r.notifier.NotifyError(fmt.Errorf("transaction %s: %s (token %s): %w", txn.TransactionID, message, token, cause))

	if apierror.Is(cause, apierror.ErrConflict) {
		return result, logAndRecordError(span, message, cause)
	}
	return result, logAndRecordError(span, message, asStorageError(cause, message))
}

func (r *Relay) publishToken(ctx context.Context, token string) {
	if r.signal == nil {
		return
	}
	if err := r.signal.Publish(ctx, token); err != nil {
		logrus.WithError(err).WithField("token", token).Warn("failed to publish token signal")
	}
}

func gatewayErrorMessage(err error) string {
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) {
		return gwErr.Error()
	}
	return err.Error()
}

// asStorageError keeps classified errors and wraps anything else as an internal error.
func asStorageError(err error, message string) error {
	if err == nil {
		return nil
	}
	var apiErr apierror.APIError
	if errors.As(err, &apiErr) {
		return err
	}
	return apierror.NewAPIError(apierror.ErrInternalServer, message, err)
}

// GetTransaction returns a transaction by its internal id.
func (r *Relay) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	ctx, span := tracer.Start(ctx, "GetTransaction")
	defer span.End()
	return r.datasource.GetTransaction(ctx, id)
}

// GetPendingTransactions returns the oldest transactions still waiting for the gateway.
func (r *Relay) GetPendingTransactions(ctx context.Context) ([]model.Transaction, error) {
	ctx, span := tracer.Start(ctx, "GetPendingTransactions")
	defer span.End()
	return r.datasource.GetPendingTransactions(ctx, pendingTransactionsLimit)
}

// VerifyPayment asks the gateway about token and pairs its answer with the local transaction,
// which may be absent.
func (r *Relay) VerifyPayment(ctx context.Context, token string) (*model.PaymentVerification, error) {
	ctx, span := tracer.Start(ctx, "VerifyPayment")
	defer span.End()

	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "token is required", nil)
	}

	verification, err := r.gateway.VerifySession(ctx, token)
	if err != nil {
		span.RecordError(err)
		if gateway.IsKind(err, gateway.KindTimeout) {
			return nil, apierror.NewAPIError(apierror.ErrGatewayTimeout, gatewayErrorMessage(err), nil)
		}
		return nil, apierror.NewAPIError(apierror.ErrBadGateway, gatewayErrorMessage(err), nil)
	}

	result := &model.PaymentVerification{Token: token, Verified: verification.Verified}
	if len(verification.Body) > 0 {
		result.Gateway = verification.Body
	}

	txn, err := r.datasource.GetTransactionByToken(ctx, token)
	switch {
	case err == nil:
		result.Transaction = txn
	case apierror.Is(err, apierror.ErrNotFound):
	default:
		return nil, logAndRecordError(span, "failed to load transaction for verification", err)
	}
	return result, nil
}

