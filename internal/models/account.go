package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// AccountDB represents an account row in the balance store
type AccountDB struct {
	Email     string          `db:"email"`      // Account key
	Balance   decimal.Decimal `db:"amount"`     // Current balance in SettlementCurrency
	CreatedAt time.Time       `db:"created_at"` // Timestamp of the first deposit
	UpdatedAt time.Time       `db:"updated_at"` // Timestamp of the last balance change
}

// BalanceResponse is returned by the balance query endpoint
type BalanceResponse struct {
	Email   string      `json:"email"`
	Balance json.Number `json:"balance"`
}

// ErrorResponse is the body of every non-2xx ops response
type ErrorResponse struct {
	Error string `json:"error"`
}
