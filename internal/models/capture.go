package models

import (
	"errors"
	"fmt"
)

// ErrCaptureConflict is returned when the payment provider already holds a
// charge under the deposit key with different parameters, typically another
// amount. Retrying cannot resolve it.
var ErrCaptureConflict = errors.New("payment capture conflicts with an earlier charge")

// Capture is the payment provider's confirmation of a charge.
type Capture struct {
	IntentID string `json:"intent_id"`
	Status   string `json:"status"`
}

// CaptureRejection is a business decline from the payment provider, such as an
// invalid amount or insufficient funds. It is never retried.
type CaptureRejection struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *CaptureRejection) Error() string {
	return fmt.Sprintf("payment capture rejected: %s: %s", e.Code, e.Message)
}
