package services

//go:generate mockgen -source=deposit.go -destination=deposit_mock.go -package=services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sbilibin2017/gw-deposit-settler/internal/logger"
	"github.com/sbilibin2017/gw-deposit-settler/internal/metrics"
	"github.com/sbilibin2017/gw-deposit-settler/internal/models"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
)

var (
	// ErrUnknownRejectionPolicy is returned for a capture rejection policy that is neither halt nor ignore.
	ErrUnknownRejectionPolicy = errors.New("unknown capture rejection policy")
	// ErrNeedsReview marks a deposit that cannot be settled automatically and
	// must not be retried.
	ErrNeedsReview = errors.New("deposit needs manual review")
)

// Outcome is the terminal result of processing one deposit message.
type Outcome string

const (
	OutcomeSettled   Outcome = "settled"   // balance credited and notification published
	OutcomeDuplicate Outcome = "duplicate" // deposit already credited, notification republished
	OutcomeRejected  Outcome = "rejected"  // payment capture declined, nothing applied
	OutcomeSkipped   Outcome = "skipped"   // message can never be processed
)

// RejectionPolicy decides what happens after the payment provider declines a capture.
type RejectionPolicy string

const (
	// RejectionHalt stops the deposit: no balance update and no notification.
	RejectionHalt RejectionPolicy = "halt"
	// RejectionIgnore logs the decline and settles the deposit anyway.
	RejectionIgnore RejectionPolicy = "ignore"
)

// ParseRejectionPolicy parses a policy name. An empty name selects RejectionHalt.
func ParseRejectionPolicy(s string) (RejectionPolicy, error) {
	switch RejectionPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", RejectionHalt:
		return RejectionHalt, nil
	case RejectionIgnore:
		return RejectionIgnore, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRejectionPolicy, s)
}

// Converter converts deposit amounts into the settlement currency.
type Converter interface {
	Convert(ctx context.Context, amount decimal.Decimal, currency string) (models.Conversion, error) // Returns the settlement amount and the rate used
}

// ConversionCache memoises the conversion applied to a deposit.
type ConversionCache interface {
	GetConversion(ctx context.Context, depositKey string) (models.Conversion, error)     // Returns the recorded conversion
	SetConversion(ctx context.Context, depositKey string, conv models.Conversion) (models.Conversion, error) // Records conv unless one is recorded; returns the recorded one
}

// Capturer charges the settlement amount through the payment provider.
type Capturer interface {
	Capture(ctx context.Context, depositKey, email string, amount decimal.Decimal, currency string) (models.Capture, error) // Returns *models.CaptureRejection on decline
}

// BalanceCreditor applies deposits to account balances.
type BalanceCreditor interface {
	Credit(ctx context.Context, depositKey, email string, amount decimal.Decimal) (decimal.Decimal, bool, error) // Returns the new balance and whether this call applied it
}

// Notifier publishes settled deposits.
type Notifier interface {
	Notify(ctx context.Context, event models.DepositSettled) error // Publishes one settlement event
}

// DepositOption configures a DepositService.
type DepositOption func(*DepositService)

// WithRejectionPolicy sets the capture rejection policy.
func WithRejectionPolicy(p RejectionPolicy) DepositOption {
	return func(s *DepositService) {
		s.policy = p
	}
}

// WithCallTimeout bounds every call to a collaborator.
func WithCallTimeout(d time.Duration) DepositOption {
	return func(s *DepositService) {
		if d > 0 {
			s.callTimeout = d
		}
	}
}

// DepositService settles deposit messages: convert, capture, credit, notify.
type DepositService struct {
	converter   Converter
	cache       ConversionCache
	capturer    Capturer
	balances    BalanceCreditor
	notifier    Notifier
	policy      RejectionPolicy
	callTimeout time.Duration
}

// NewDepositService creates a new DepositService. cache may be nil.
func NewDepositService(
	converter Converter,
	cache ConversionCache,
	capturer Capturer,
	balances BalanceCreditor,
	notifier Notifier,
	opts ...DepositOption,
) *DepositService {
	s := &DepositService{
		converter:   converter,
		cache:       cache,
		capturer:    capturer,
		balances:    balances,
		notifier:    notifier,
		policy:      RejectionHalt,
		callTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Process settles one deposit message.
//
// A nil error means the message is finished and its offset may be committed;
// the Outcome says how. A non-nil error is transient: nothing that was not
// already idempotent has been applied, and the same message should be
// processed again.
func (s *DepositService) Process(ctx context.Context, msg kafka.Message) (Outcome, error) {
	start := time.Now()
	defer func() {
		metrics.DepositProcessingSeconds.Observe(time.Since(start).Seconds())
	}()

	log := logger.Log.With("topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)

	var deposit models.Deposit
	if err := json.Unmarshal(msg.Value, &deposit); err != nil {
		log.Errorw("dropping undecodable deposit", "error", err)
		return s.finish(OutcomeSkipped), nil
	}
	if err := deposit.Validate(); err != nil {
		log.Errorw("dropping invalid deposit", "error", err)
		return s.finish(OutcomeSkipped), nil
	}

	key := deposit.IdempotencyKey(models.DeliveryKey(msg.Topic, msg.Partition, msg.Offset))
	log = log.With("deposit_key", key, "email", deposit.Email)

	conv, err := s.convert(ctx, key, deposit)
	if errors.Is(err, models.ErrUnsupportedCurrency) {
		log.Errorw("dropping deposit in unsupported currency", "currency", deposit.Currency, "error", err)
		return s.finish(OutcomeSkipped), nil
	}
	if err != nil {
		return "", fmt.Errorf("convert deposit %s: %w", key, err)
	}
	log.Infow("deposit converted", "amount", deposit.Amount, "currency", deposit.Currency,
		"rate", conv.Rate, "settlement_amount", conv.Amount)

	var capture models.Capture
	err = s.call(ctx, metrics.CallCapture, func(ctx context.Context) error {
		var err error
		capture, err = s.capturer.Capture(ctx, key, deposit.Email, conv.Amount, models.SettlementCurrency)
		return err
	})
	var rejection *models.CaptureRejection
	switch {
	case errors.As(err, &rejection) && s.policy == RejectionIgnore:
		log.Warnw("payment capture rejected, settling anyway", "code", rejection.Code, "reason", rejection.Message)
	case errors.As(err, &rejection):
		log.Warnw("payment capture rejected", "code", rejection.Code, "reason", rejection.Message)
		return s.finish(OutcomeRejected), nil
	case errors.Is(err, models.ErrCaptureConflict):
		log.Errorw("payment capture conflicts with an earlier charge, not crediting",
			"settlement_amount", conv.Amount, "error", err)
		return "", fmt.Errorf("%w: capture deposit %s: %w", ErrNeedsReview, key, err)
	case err != nil:
		return "", fmt.Errorf("capture deposit %s: %w", key, err)
	default:
		log.Infow("payment captured", "intent_id", capture.IntentID, "status", capture.Status)
	}

	var (
		balance decimal.Decimal
		applied bool
	)
	err = s.call(ctx, metrics.CallCredit, func(ctx context.Context) error {
		var err error
		balance, applied, err = s.balances.Credit(ctx, key, deposit.Email, conv.Amount)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("credit deposit %s: %w", key, err)
	}
	if applied {
		log.Infow("balance credited", "balance", balance)
	} else {
		log.Infow("deposit already credited", "balance", balance)
	}

	event := models.DepositSettled{
		Email:   deposit.Email,
		Amount:  deposit.Amount,
		Balance: balance,
	}
	err = s.call(ctx, metrics.CallNotify, func(ctx context.Context) error {
		return s.notifier.Notify(ctx, event)
	})
	if err != nil {
		return "", fmt.Errorf("notify deposit %s: %w", key, err)
	}

	if !applied {
		return s.finish(OutcomeDuplicate), nil
	}
	log.Infow("deposit settled")
	return s.finish(OutcomeSettled), nil
}

// convert returns the conversion memoised for key, asking the provider on a miss.
// Cache failures are treated as misses.
func (s *DepositService) convert(ctx context.Context, key string, deposit models.Deposit) (models.Conversion, error) {
	if s.cache != nil {
		conv, err := s.cache.GetConversion(ctx, key)
		if err == nil {
			return conv, nil
		}
		logger.Log.Debugw("conversion not memoised", "deposit_key", key, "error", err)
	}

	var conv models.Conversion
	err := s.call(ctx, metrics.CallConvert, func(ctx context.Context) error {
		var err error
		conv, err = s.converter.Convert(ctx, deposit.Amount, deposit.Currency)
		return err
	})
	if err != nil {
		return models.Conversion{}, err
	}

	if s.cache != nil {
		memo, err := s.cache.SetConversion(ctx, key, conv)
		if err != nil {
			logger.Log.Warnw("failed to memoise conversion", "deposit_key", key, "error", err)
			return conv, nil
		}
		if !memo.Amount.Equal(conv.Amount) {
			logger.Log.Infow("using conversion memoised by a concurrent delivery", "deposit_key", key,
				"fresh_amount", conv.Amount, "memoised_amount", memo.Amount)
		}
		conv = memo
	}
	return conv, nil
}

// call runs fn under the per-call timeout and counts its transient failures.
func (s *DepositService) call(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	err := fn(ctx)
	var rejection *models.CaptureRejection
	if err != nil && !errors.As(err, &rejection) && !errors.Is(err, models.ErrUnsupportedCurrency) {
		metrics.ExternalCallErrors.WithLabelValues(name).Inc()
	}
	return err
}

func (s *DepositService) finish(o Outcome) Outcome {
	metrics.DepositsProcessed.WithLabelValues(string(o)).Inc()
	return o
}
