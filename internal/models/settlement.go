package models

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// DepositSettled is emitted once a deposit has been credited to the account.
// Amount is the amount originally requested, Balance the balance after the credit.
type DepositSettled struct {
	Email   string          `json:"email"`
	Amount  decimal.Decimal `json:"amount"`
	Balance decimal.Decimal `json:"balance"`
}

// MarshalJSON writes amounts as JSON numbers, which is what the notification
// consumer expects.
func (e DepositSettled) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Email   string      `json:"email"`
		Amount  json.Number `json:"amount"`
		Balance json.Number `json:"balance"`
	}{
		Email:   e.Email,
		Amount:  json.Number(e.Amount.String()),
		Balance: json.Number(e.Balance.String()),
	})
}
