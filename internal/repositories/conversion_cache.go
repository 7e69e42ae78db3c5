package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sbilibin2017/gw-deposit-settler/internal/logger"
	"github.com/sbilibin2017/gw-deposit-settler/internal/models"
)

// ErrConversionNotCached is returned when no conversion is stored for a deposit.
var ErrConversionNotCached = errors.New("conversion not cached")

// ConversionCacheRepository memoises the conversion applied to each deposit in Redis
type ConversionCacheRepository struct {
	client *redis.Client
	exp    time.Duration // expiration duration for memoised conversions
}

// NewConversionCacheRepository creates a new repository instance with the given TTL
func NewConversionCacheRepository(client *redis.Client, expiration time.Duration) *ConversionCacheRepository {
	return &ConversionCacheRepository{
		client: client,
		exp:    expiration,
	}
}

func conversionKey(depositKey string) string {
	return fmt.Sprintf("conversion:%s", depositKey)
}

// GetConversion fetches the conversion recorded for a deposit
func (r *ConversionCacheRepository) GetConversion(ctx context.Context, depositKey string) (models.Conversion, error) {
	key := conversionKey(depositKey)

	val, err := r.client.Get(ctx, key).Bytes()
	logger.Log.Debugw("cache get", "key", key, "error", err)
	if errors.Is(err, redis.Nil) {
		return models.Conversion{}, ErrConversionNotCached
	}
	if err != nil {
		return models.Conversion{}, err
	}

	var conv models.Conversion
	if err := json.Unmarshal(val, &conv); err != nil {
		return models.Conversion{}, fmt.Errorf("decode cached conversion %s: %w", key, err)
	}
	return conv, nil
}

// SetConversion records the conversion for a deposit unless one is already
// recorded, and returns the recorded one. The write and the read are a single
// SET NX GET, so concurrent redeliveries all get the first value stored.
func (r *ConversionCacheRepository) SetConversion(ctx context.Context, depositKey string, conv models.Conversion) (models.Conversion, error) {
	key := conversionKey(depositKey)

	val, err := json.Marshal(conv)
	if err != nil {
		return models.Conversion{}, err
	}

	prev, err := r.client.SetArgs(ctx, key, val, redis.SetArgs{Mode: "NX", TTL: r.exp, Get: true}).Result()
	logger.Log.Debugw("cache set", "key", key, "stored", errors.Is(err, redis.Nil), "error", err)
	if errors.Is(err, redis.Nil) {
		return conv, nil
	}
	if err != nil {
		return models.Conversion{}, err
	}

	var stored models.Conversion
	if err := json.Unmarshal([]byte(prev), &stored); err != nil {
		return models.Conversion{}, fmt.Errorf("decode cached conversion %s: %w", key, err)
	}
	return stored, nil
}
