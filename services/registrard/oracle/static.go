package oracle

import (
	"context"
	"fmt"
	"time"

	"caregistrar/native/names"
)

// StaticFeed serves a fixed price stamped with the caller's clock. It is meant
// for development networks and as a last-resort fallback after operators
// have pinned a price by hand.
type StaticFeed struct {
	name     string
	price    int64
	exponent int32
}

// NewStaticFeed returns a feed answering every request with price*10^exponent.
func NewStaticFeed(name string, price int64, exponent int32) *StaticFeed {
	return &StaticFeed{name: label(name, "static"), price: price, exponent: exponent}
}

// Name identifies the source in logs and metrics.
func (s *StaticFeed) Name() string { return s.name }

// GetQuote implements names.PriceFeed.
func (s *StaticFeed) GetQuote(ctx context.Context, feedID string, now int64, maxAge time.Duration) (names.PriceQuote, error) {
	if err := ctx.Err(); err != nil {
		return names.PriceQuote{}, err
	}
	if s.price <= 0 {
		return names.PriceQuote{}, fmt.Errorf("%w: static price not set", names.ErrInvalidPriceFeed)
	}
	return names.PriceQuote{Price: s.price, Exponent: s.exponent, PublishedAt: now, FeedID: feedID}, nil
}
