package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"caregistrar/native/names"
)

const testFeed = "ef0d8b6fda2ceba41da15d4095d1da392a0d2f8ed0c6c7bc0f4cfac8c280b56d"

type feedFunc struct {
	name string
	fn   func(ctx context.Context, feedID string, now int64, maxAge time.Duration) (names.PriceQuote, error)
}

func (f feedFunc) Name() string { return f.name }

func (f feedFunc) GetQuote(ctx context.Context, feedID string, now int64, maxAge time.Duration) (names.PriceQuote, error) {
	return f.fn(ctx, feedID, now, maxAge)
}

func hermesServer(t *testing.T, price string, expo int32, publishTime int64) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/updates/price/latest" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query()["ids[]"]; len(got) != 1 || got[0] != testFeed {
			t.Errorf("unexpected ids %v", got)
		}
		if got := r.URL.Query().Get("parsed"); got != "true" {
			t.Errorf("expected parsed=true, got %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"parsed": []map[string]interface{}{{
				"id": testFeed,
				"price": map[string]interface{}{
					"price":        price,
					"conf":         "1000",
					"expo":         expo,
					"publish_time": publishTime,
				},
			}},
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func TestHermesFeedParsesLatestPrice(t *testing.T) {
	now := time.Now().Unix()
	server := hermesServer(t, "14396000000", -8, now-3)
	feed := NewHermesFeed(server.Client(), "", server.URL+"/")

	quote, err := feed.GetQuote(context.Background(), "0x"+testFeed, now, time.Minute)
	if err != nil {
		t.Fatalf("get quote: %v", err)
	}
	if quote.Price != 14396000000 || quote.Exponent != -8 || quote.PublishedAt != now-3 {
		t.Fatalf("unexpected quote %+v", quote)
	}
	if quote.FeedID != testFeed {
		t.Fatalf("unexpected feed id %q", quote.FeedID)
	}
	if feed.Name() != "hermes" {
		t.Fatalf("unexpected name %q", feed.Name())
	}
}

func TestHermesFeedRejectsStaleQuote(t *testing.T) {
	now := time.Now().Unix()
	server := hermesServer(t, "14396000000", -8, now-120)
	feed := NewHermesFeed(server.Client(), "pyth", server.URL)
	if _, err := feed.GetQuote(context.Background(), testFeed, now, time.Minute); !errors.Is(err, names.ErrInvalidPriceFeed) {
		t.Fatalf("expected ErrInvalidPriceFeed, got %v", err)
	}
}

func TestHermesFeedRejectsMalformedPrice(t *testing.T) {
	now := time.Now().Unix()
	server := hermesServer(t, "not-a-number", -8, now)
	feed := NewHermesFeed(server.Client(), "pyth", server.URL)
	if _, err := feed.GetQuote(context.Background(), testFeed, now, time.Minute); !errors.Is(err, names.ErrInvalidPriceFeed) {
		t.Fatalf("expected ErrInvalidPriceFeed, got %v", err)
	}
}

func TestHermesFeedStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "feed unknown", http.StatusNotFound)
	}))
	defer server.Close()
	feed := NewHermesFeed(server.Client(), "pyth", server.URL)
	if _, err := feed.GetQuote(context.Background(), testFeed, time.Now().Unix(), time.Minute); err == nil {
		t.Fatalf("expected error for 404 response")
	}
}

func TestAggregatorFallsBackToNextSource(t *testing.T) {
	now := int64(1_700_000_000)
	primary := feedFunc{name: "primary", fn: func(context.Context, string, int64, time.Duration) (names.PriceQuote, error) {
		return names.PriceQuote{}, fmt.Errorf("primary down")
	}}
	agg, err := NewAggregator([]Source{primary, NewStaticFeed("pinned", 2000, -2)})
	if err != nil {
		t.Fatalf("new aggregator: %v", err)
	}
	quote, err := agg.GetQuote(context.Background(), testFeed, now, time.Minute)
	if err != nil {
		t.Fatalf("get quote: %v", err)
	}
	if quote.Price != 2000 || quote.Exponent != -2 || quote.PublishedAt != now {
		t.Fatalf("unexpected quote %+v", quote)
	}
	if got := agg.Sources(); len(got) != 2 || got[0] != "primary" || got[1] != "pinned" {
		t.Fatalf("unexpected sources %v", got)
	}
}

func TestAggregatorFiltersStaleQuotes(t *testing.T) {
	now := int64(1_700_000_000)
	stale := feedFunc{name: "stale", fn: func(_ context.Context, feedID string, now int64, _ time.Duration) (names.PriceQuote, error) {
		return names.PriceQuote{Price: 10, PublishedAt: now - 600, FeedID: feedID}, nil
	}}
	agg, err := NewAggregator([]Source{stale})
	if err != nil {
		t.Fatalf("new aggregator: %v", err)
	}
	_, err = agg.GetQuote(context.Background(), testFeed, now, time.Minute)
	if !errors.Is(err, names.ErrInvalidPriceFeed) {
		t.Fatalf("expected ErrInvalidPriceFeed, got %v", err)
	}
}

func TestAggregatorWrapsTransportErrors(t *testing.T) {
	down := feedFunc{name: "down", fn: func(context.Context, string, int64, time.Duration) (names.PriceQuote, error) {
		return names.PriceQuote{}, errors.New("connection refused")
	}}
	agg, err := NewAggregator([]Source{down}, WithTimeout(time.Second))
	if err != nil {
		t.Fatalf("new aggregator: %v", err)
	}
	_, err = agg.GetQuote(context.Background(), testFeed, time.Now().Unix(), time.Minute)
	if !errors.Is(err, names.ErrInvalidPriceFeed) {
		t.Fatalf("expected ErrInvalidPriceFeed, got %v", err)
	}
}

func TestAggregatorTimeoutBoundsSlowSource(t *testing.T) {
	now := int64(1_700_000_000)
	hung := feedFunc{name: "hung", fn: func(ctx context.Context, _ string, _ int64, _ time.Duration) (names.PriceQuote, error) {
		<-ctx.Done()
		return names.PriceQuote{}, ctx.Err()
	}}
	agg, err := NewAggregator([]Source{hung, NewStaticFeed("pinned", 2000, -2)}, WithTimeout(50*time.Millisecond))
	if err != nil {
		t.Fatalf("new aggregator: %v", err)
	}
	start := time.Now()
	quote, err := agg.GetQuote(context.Background(), testFeed, now, time.Minute)
	if err != nil {
		t.Fatalf("get quote: %v", err)
	}
	if quote.Price != 2000 {
		t.Fatalf("expected fallback quote, got %+v", quote)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("slow source held the caller for %s", elapsed)
	}
}

func TestRegistryBuild(t *testing.T) {
	reg := &Registry{HTTPClient: http.DefaultClient}
	src, err := reg.Build("", "hermes", "https://hermes.example", 0, 0)
	if err != nil || src.Name() != "hermes" {
		t.Fatalf("build hermes: %v %v", src, err)
	}
	if _, err := reg.Build("pinned", "static", "", 0, 0); err == nil {
		t.Fatalf("expected static source without price to fail")
	}
	if _, err := reg.Build("x", "chainlink", "", 0, 0); err == nil {
		t.Fatalf("expected unknown type to fail")
	}
	if _, err := NewAggregator(nil); err == nil {
		t.Fatalf("expected empty aggregator to fail")
	}
}
