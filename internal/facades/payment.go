package facades

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sbilibin2017/gw-deposit-settler/internal/logger"
	"github.com/sbilibin2017/gw-deposit-settler/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v75"
)

// PaymentIntentCreator is the part of the stripe paymentintent client used here.
// *paymentintent.Client satisfies it.
type PaymentIntentCreator interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// PaymentStripeFacade captures deposits through Stripe payment intents.
type PaymentStripeFacade struct {
	intents PaymentIntentCreator
}

// NewPaymentStripeFacade creates a new facade around a payment intent client.
func NewPaymentStripeFacade(intents PaymentIntentCreator) *PaymentStripeFacade {
	return &PaymentStripeFacade{intents: intents}
}

// Capture charges amount (in currency major units) for the account.
// depositKey is sent as the Stripe idempotency key, so charging a redelivered
// deposit returns the original intent instead of a second charge.
//
// Declines come back as *models.CaptureRejection; any other error is transient.
func (f *PaymentStripeFacade) Capture(ctx context.Context, depositKey, email string, amount decimal.Decimal, currency string) (models.Capture, error) {
	minor := amount.Shift(models.MinorUnitScale).Round(0).IntPart()
	if minor <= 0 {
		return models.Capture{}, &models.CaptureRejection{
			Code:    string(stripe.ErrorCodeAmountTooSmall),
			Message: fmt.Sprintf("amount %s %s must be positive", amount, currency),
		}
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(minor),
		Currency: stripe.String(strings.ToLower(currency)),
	}
	params.Context = ctx
	params.SetIdempotencyKey(depositKey)
	params.AddMetadata("email", email)
	params.AddMetadata("deposit_key", depositKey)

	intent, err := f.intents.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeIdempotency {
			logger.Log.Errorw("payment intent conflicts with an earlier charge under the same deposit key",
				"deposit_key", depositKey, "amount_minor", minor, "currency", currency, "message", stripeErr.Msg)
			return models.Capture{}, fmt.Errorf("%w: %s", models.ErrCaptureConflict, stripeErr.Msg)
		}
		if errors.As(err, &stripeErr) && isDecline(stripeErr) {
			logger.Log.Warnw("payment intent declined",
				"deposit_key", depositKey, "type", stripeErr.Type, "code", stripeErr.Code, "message", stripeErr.Msg)
			return models.Capture{}, &models.CaptureRejection{
				Code:    string(stripeErr.Code),
				Message: stripeErr.Msg,
			}
		}
		logger.Log.Errorw("failed to create payment intent", "deposit_key", depositKey, "error", err)
		return models.Capture{}, fmt.Errorf("create payment intent: %w", err)
	}

	return models.Capture{IntentID: intent.ID, Status: string(intent.Status)}, nil
}

// isDecline reports whether Stripe refused the charge itself rather than
// failing to process it.
func isDecline(err *stripe.Error) bool {
	switch err.Type {
	case stripe.ErrorTypeCard, stripe.ErrorTypeInvalidRequest:
		return true
	}
	return false
}
