package model

import (
	"github.com/shopspring/decimal"
)

type InitiatePayment struct {
	OrderRef     string          `json:"order_ref"`
	OrderNumber  string          `json:"order_number"`
	Amount       decimal.Decimal `json:"amount"`
	Phone        string          `json:"phone"`
	CustomerName string          `json:"customer_name"`
	ReturnURL    string          `json:"return_url"`
}

type CreateHook struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	Type    string `json:"type"`
	Active  *bool  `json:"active"`
	Timeout int    `json:"timeout"`
}
