package repositories

import (
	"errors"
	"strings"

	"github.com/sbilibin2017/gw-deposit-settler/internal/logger"
)

var (
	// ErrAccountExists is returned by Put when the account is already stored.
	ErrAccountExists = errors.New("account already exists")
	// ErrAccountNotFound is returned by Update when the account is absent.
	ErrAccountNotFound = errors.New("account not found")
)

// logQuery writes one debug entry per store round trip.
func logQuery(query string, args []any, result any, err error) {
	logger.Log.Debugw("query",
		"statement", strings.Join(strings.Fields(query), " "),
		"args", args,
		"result", result,
		"error", err,
	)
}
