package names

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// PriceFeed supplies exchange-rate quotes. Implementations must reject quotes
// older than maxAge with ErrInvalidPriceFeed.
type PriceFeed interface {
	GetQuote(ctx context.Context, feedID string, now int64, maxAge time.Duration) (PriceQuote, error)
}

// ManualFeed serves operator-supplied quotes. It backs tests and incident
// overrides when upstream feeds are unavailable.
type ManualFeed struct {
	mu     sync.RWMutex
	quotes map[string]PriceQuote
}

// NewManualFeed returns an empty manual feed.
func NewManualFeed() *ManualFeed {
	return &ManualFeed{quotes: make(map[string]PriceQuote)}
}

// Set records the latest quote for its feed.
func (m *ManualFeed) Set(q PriceQuote) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q.FeedID = normaliseFeedID(q.FeedID)
	m.quotes[q.FeedID] = q
}

// GetQuote implements PriceFeed.
func (m *ManualFeed) GetQuote(ctx context.Context, feedID string, now int64, maxAge time.Duration) (PriceQuote, error) {
	if err := ctx.Err(); err != nil {
		return PriceQuote{}, err
	}
	m.mu.RLock()
	q, ok := m.quotes[normaliseFeedID(feedID)]
	m.mu.RUnlock()
	if !ok {
		return PriceQuote{}, fmt.Errorf("%w: no quote for feed %s", ErrInvalidPriceFeed, feedID)
	}
	if err := CheckQuote(q, now, maxAge); err != nil {
		return PriceQuote{}, err
	}
	return q, nil
}
