package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrMalformedDeposit is returned for deposit payloads that can never be processed.
	ErrMalformedDeposit = errors.New("malformed deposit")
)

// deliveryNamespace scopes the keys derived from queue coordinates.
var deliveryNamespace = uuid.MustParse("6f1c2a7e-3d0b-5a4e-9c61-2b8f4e7d9a10")

// Deposit is the message the ingress layer publishes to the deposits topic.
type Deposit struct {
	Email     string          `json:"email"`                // Email is the opaque account key
	Amount    decimal.Decimal `json:"amount"`               // Amount in the source currency, may be negative
	Currency  string          `json:"currency"`             // Currency is the ISO code of Amount
	RequestID string          `json:"request_id,omitempty"` // RequestID is the optional idempotency token set by the producer
}

// Validate reports whether the deposit can enter the pipeline at all.
// Amount is not checked; capture rejects non-positive amounts.
func (d Deposit) Validate() error {
	if strings.TrimSpace(d.Email) == "" {
		return fmt.Errorf("%w: email is required", ErrMalformedDeposit)
	}
	if strings.TrimSpace(d.Currency) == "" {
		return fmt.Errorf("%w: currency is required", ErrMalformedDeposit)
	}
	return nil
}

// IdempotencyKey returns the producer supplied request id, or fallback when the
// producer did not attach one.
func (d Deposit) IdempotencyKey(fallback string) string {
	if id := strings.TrimSpace(d.RequestID); id != "" {
		return id
	}
	return fallback
}

// DeliveryKey derives a stable key from the position of a message in the queue.
// A redelivery of the same message yields the same key.
func DeliveryKey(topic string, partition int, offset int64) string {
	name := fmt.Sprintf("%s/%d/%d", topic, partition, offset)
	return uuid.NewSHA1(deliveryNamespace, []byte(name)).String()
}
