package backtest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/halcyonquant/retune/internal/configstore"
	"github.com/halcyonquant/retune/internal/domain"
)

// CachedOracle wraps an Oracle with a Redis score cache so repeated grid
// evaluations of the same combination over the same window are served from
// cache. Cache failures degrade to a direct oracle call, never an error.
type CachedOracle struct {
	inner  Oracle
	client *redis.Client
	ttl    time.Duration
}

// NewCachedOracle wraps inner with a Redis cache. A nil client disables
// caching entirely.
func NewCachedOracle(inner Oracle, client *redis.Client, ttl time.Duration) *CachedOracle {
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &CachedOracle{inner: inner, client: client, ttl: ttl}
}

// cacheKey fingerprints a backtest request. The series is identified by its
// length and last timestamp: appending new observations changes the key.
func cacheKey(cfg *configstore.Configuration, series domain.Series, window int) string {
	var last int64
	if len(series) > 0 {
		last = series[len(series)-1].Timestamp.Unix()
	}
	return fmt.Sprintf("retune:backtest:%s:%d:%d:%.2f:%d:%d:%d",
		cfg.Horizon, cfg.ContextLength, cfg.NumSamples, cfg.Temperature, window, len(series), last)
}

// Backtest implements Oracle with read-through caching.
func (c *CachedOracle) Backtest(ctx context.Context, cfg *configstore.Configuration, series domain.Series, window int) (Metrics, error) {
	if c.client == nil {
		return c.inner.Backtest(ctx, cfg, series, window)
	}

	key := cacheKey(cfg, series, window)
	if data, err := c.client.Get(ctx, key).Bytes(); err == nil {
		var m Metrics
		if err := json.Unmarshal(data, &m); err == nil {
			return m, nil
		}
		log.Warn().Str("key", key).Msg("Discarding unparseable cached backtest score")
	} else if err != redis.Nil {
		log.Warn().Err(err).Msg("Backtest score cache read failed, falling through to oracle")
	}

	m, err := c.inner.Backtest(ctx, cfg, series, window)
	if err != nil {
		return Metrics{}, err
	}

	if data, err := json.Marshal(m); err == nil {
		if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
			log.Warn().Err(err).Msg("Backtest score cache write failed")
		}
	}
	return m, nil
}
