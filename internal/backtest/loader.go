package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"forex-trading-bot/internal/broker"
	"forex-trading-bot/internal/cache"
	"forex-trading-bot/internal/strategy"
)

// HistoryProvider fetches candles for a fixed time range.
type HistoryProvider interface {
	FetchCandlesRange(ctx context.Context, instrument string, granularity broker.Granularity, from, to time.Time) ([]broker.Candle, error)
}

// Loader fetches historical candles through an optional Redis cache.
// Closed ranges are immutable so cache hits skip the broker entirely.
type Loader struct {
	provider HistoryProvider
	cache    *cache.Cache
}

// NewLoader builds a loader. A nil cache disables caching.
func NewLoader(provider HistoryProvider, c *cache.Cache) *Loader {
	return &Loader{provider: provider, cache: c}
}

// Load returns the complete candles in [from, to) for one granularity.
func (l *Loader) Load(ctx context.Context, instrument string, granularity broker.Granularity, from, to time.Time) ([]broker.Candle, error) {
	key := cache.RangeKey(instrument, granularity, from, to)

	if l.cache != nil && l.cache.IsHealthy() {
		candles, err := l.cache.GetCandles(ctx, key)
		if err == nil {
			log.Debug().Str("key", key).Int("candles", len(candles)).Msg("candle cache hit")
			return candles, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			log.Warn().Err(err).Str("key", key).Msg("candle cache read failed")
		}
	}

	candles, err := l.provider.FetchCandlesRange(ctx, instrument, granularity, from, to)
	if err != nil {
		return nil, fmt.Errorf("loading %s %s history: %w", instrument, granularity, err)
	}

	if l.cache != nil && l.cache.IsHealthy() {
		if err := l.cache.SetCandles(ctx, key, candles, cache.DefaultHistoryTTL); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("candle cache write failed")
		}
	}
	return candles, nil
}

// LoadAll fetches every series a strategy requires, padding each
// granularity's start so the first in-range evaluation has a full
// warmup window. The padding doubles the bar span to absorb weekend
// and holiday gaps.
func (l *Loader) LoadAll(ctx context.Context, instrument string, requirements map[broker.Granularity]int, from, to time.Time) (strategy.MarketData, error) {
	data := make(strategy.MarketData, len(requirements))
	for g, need := range requirements {
		warmup := time.Duration(2*need) * g.Duration()
		series, err := l.Load(ctx, instrument, g, from.Add(-warmup), to)
		if err != nil {
			return nil, err
		}
		data[g] = series
	}
	return data, nil
}
