package handlers

//go:generate mockgen -source=balance.go -destination=balance_mock.go -package=handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/sbilibin2017/gw-deposit-settler/internal/logger"
	"github.com/sbilibin2017/gw-deposit-settler/internal/middlewares"
	"github.com/sbilibin2017/gw-deposit-settler/internal/models"
	"github.com/shopspring/decimal"
)

// BalanceReader defines the store method this handler needs.
type BalanceReader interface {
	Get(ctx context.Context, email string) (decimal.Decimal, bool, error)
}

// NewGetBalanceHandler returns an HTTP handler for GET /accounts/{email}/balance.
// The bearer token subject must be the account itself. An account that has never
// received a deposit reports a zero balance.
func NewGetBalanceHandler(reader BalanceReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		email, err := url.PathUnescape(chi.URLParam(r, "email"))
		if err != nil || email == "" {
			writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid account"})
			return
		}

		subject, ok := middlewares.SubjectFromContext(ctx)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Unauthorized"})
			return
		}
		if subject != email {
			logger.Log.Warnw("balance request for another account", "subject", subject, "email", email)
			writeJSON(w, http.StatusForbidden, models.ErrorResponse{Error: "Forbidden"})
			return
		}

		balance, _, err := reader.Get(ctx, email)
		if err != nil {
			logger.Log.Errorw("failed to get balance", "email", email, "error", err)
			writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Internal server error"})
			return
		}

		writeJSON(w, http.StatusOK, models.BalanceResponse{
			Email:   email,
			Balance: json.Number(balance.StringFixed(models.MinorUnitScale)),
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Log.Errorw("failed to write response", "error", err)
	}
}
