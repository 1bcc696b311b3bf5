package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"caregistrar/native/names"
	"caregistrar/observability"
)

// Source is a named price feed.
type Source interface {
	names.PriceFeed
	Name() string
}

// Aggregator consults sources in priority order and serves the first fresh
// quote. It implements names.PriceFeed.
type Aggregator struct {
	sources []Source
	timeout time.Duration
	logger  *slog.Logger
	metrics *observability.OracleMetrics
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithLogger installs a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Aggregator) {
		a.logger = l
	}
}

// WithTimeout bounds each upstream request.
func WithTimeout(d time.Duration) Option {
	return func(a *Aggregator) {
		a.timeout = d
	}
}

// WithMetrics overrides the metrics sink.
func WithMetrics(m *observability.OracleMetrics) Option {
	return func(a *Aggregator) {
		a.metrics = m
	}
}

// NewAggregator constructs an aggregator over the supplied sources.
func NewAggregator(sources []Source, opts ...Option) (*Aggregator, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("at least one source required")
	}
	agg := &Aggregator{
		sources: append([]Source{}, sources...),
		logger:  slog.Default(),
		metrics: observability.Oracle(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(agg)
		}
	}
	if agg.logger == nil {
		agg.logger = slog.Default()
	}
	return agg, nil
}

// Sources lists the configured source names in priority order.
func (a *Aggregator) Sources() []string {
	out := make([]string, len(a.sources))
	for i, src := range a.sources {
		out[i] = src.Name()
	}
	return out
}

// GetQuote implements names.PriceFeed. When every source fails the returned
// error wraps names.ErrInvalidPriceFeed together with each source's error.
func (a *Aggregator) GetQuote(ctx context.Context, feedID string, now int64, maxAge time.Duration) (names.PriceQuote, error) {
	var errs []error
	for _, src := range a.sources {
		quote, err := a.fetch(ctx, src, feedID, now, maxAge)
		if err != nil {
			a.metrics.RecordFailure(src.Name(), err)
			a.logger.Warn("price source failed", slog.String("source", src.Name()), slog.Any("error", err))
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		a.metrics.RecordQuoteAge(src.Name(), time.Duration(now-quote.PublishedAt)*time.Second)
		return quote, nil
	}
	joined := errors.Join(errs...)
	if errors.Is(joined, names.ErrInvalidPriceFeed) {
		return names.PriceQuote{}, joined
	}
	return names.PriceQuote{}, fmt.Errorf("%w: %w", names.ErrInvalidPriceFeed, joined)
}

func (a *Aggregator) fetch(ctx context.Context, src Source, feedID string, now int64, maxAge time.Duration) (names.PriceQuote, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	quote, err := src.GetQuote(ctx, feedID, now, maxAge)
	if err != nil {
		return names.PriceQuote{}, err
	}
	if err := names.CheckQuote(quote, now, maxAge); err != nil {
		return names.PriceQuote{}, err
	}
	return quote, nil
}

func label(name, fallback string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed != "" {
		return trimmed
	}
	return fallback
}
