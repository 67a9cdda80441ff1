package model

import (
	"errors"
	"net/url"

	"github.com/blnkfinance/payrelay/internal/hooks"
	"github.com/blnkfinance/payrelay/model"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"
)

func absoluteURL(value interface{}) error {
	raw, _ := value.(string)
	if raw == "" {
		return nil
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil || u.Host == "" {
		return errors.New("must be an absolute URL")
	}
	return nil
}

// ValidateInitiatePayment only checks the request shape. Business thresholds are applied by the relay.
func (p *InitiatePayment) ValidateInitiatePayment() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.OrderRef, validation.Required),
		validation.Field(&p.Amount, validation.By(func(value interface{}) error {
			amount, _ := value.(decimal.Decimal)
			if amount.IsZero() {
				return errors.New("cannot be blank")
			}
			return nil
		})),
		validation.Field(&p.Phone, validation.Required),
		validation.Field(&p.CustomerName, validation.Required),
		validation.Field(&p.ReturnURL, validation.Required),
	)
}

func (h *CreateHook) ValidateCreateHook() error {
	return validation.ValidateStruct(h,
		validation.Field(&h.Name, validation.Required),
		validation.Field(&h.URL, validation.Required, validation.By(absoluteURL)),
		validation.Field(&h.Type, validation.Required, validation.In(string(hooks.OrderPaid))),
		validation.Field(&h.Timeout, validation.Min(0), validation.Max(300)),
	)
}

func (p *InitiatePayment) ToPaymentRequest() model.PaymentRequest {
	return model.PaymentRequest{
		OrderRef:     p.OrderRef,
		OrderNumber:  p.OrderNumber,
		Amount:       p.Amount,
		Phone:        p.Phone,
		CustomerName: p.CustomerName,
		ReturnURL:    p.ReturnURL,
	}
}

// ToHook defaults a hook to active unless the request says otherwise.
func (h *CreateHook) ToHook() hooks.Hook {
	active := true
	if h.Active != nil {
		active = *h.Active
	}
	return hooks.Hook{
		Name:    h.Name,
		URL:     h.URL,
		Type:    hooks.HookType(h.Type),
		Active:  active,
		Timeout: h.Timeout,
	}
}
