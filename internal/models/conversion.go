package models

import (
	"errors"

	"github.com/shopspring/decimal"
)

// SettlementCurrency is the single currency all balances are held in.
const SettlementCurrency = "USD"

// MinorUnitScale is the number of decimal places of SettlementCurrency.
const MinorUnitScale = 2

var (
	// ErrUnsupportedCurrency is returned when the exchange rate provider does not know the currency.
	ErrUnsupportedCurrency = errors.New("unsupported currency")
)

// Conversion is a deposit amount expressed in the settlement currency.
type Conversion struct {
	Rate   decimal.Decimal `json:"rate"`   // Rate is source units per settlement unit
	Amount decimal.Decimal `json:"amount"` // Amount in SettlementCurrency
}
