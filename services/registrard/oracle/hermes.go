package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"caregistrar/native/names"
)

// HTTPDoer abstracts http.Client for tests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

const defaultHermesEndpoint = "https://hermes.pyth.network"

// HermesFeed fetches the latest parsed price update for a feed from a Pyth
// Hermes endpoint.
type HermesFeed struct {
	name     string
	client   HTTPDoer
	endpoint string
}

// NewHermesFeed constructs a Hermes adapter. When the client is nil
// http.DefaultClient is used.
func NewHermesFeed(client HTTPDoer, name, endpoint string) *HermesFeed {
	ep := strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if ep == "" {
		ep = defaultHermesEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HermesFeed{name: label(name, "hermes"), client: client, endpoint: ep}
}

// Name identifies the source in logs and metrics.
func (h *HermesFeed) Name() string { return h.name }

type hermesPrice struct {
	Price       string `json:"price"`
	Conf        string `json:"conf"`
	Expo        int32  `json:"expo"`
	PublishTime int64  `json:"publish_time"`
}

type hermesUpdate struct {
	ID    string      `json:"id"`
	Price hermesPrice `json:"price"`
}

type hermesResponse struct {
	Parsed []hermesUpdate `json:"parsed"`
}

// GetQuote implements names.PriceFeed.
func (h *HermesFeed) GetQuote(ctx context.Context, feedID string, now int64, maxAge time.Duration) (names.PriceQuote, error) {
	if h == nil {
		return names.PriceQuote{}, fmt.Errorf("hermes feed not configured")
	}
	id := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(feedID)), "0x")
	if id == "" {
		return names.PriceQuote{}, fmt.Errorf("%w: empty feed id", names.ErrInvalidPriceFeed)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.endpoint+"/v2/updates/price/latest", nil)
	if err != nil {
		return names.PriceQuote{}, err
	}
	values := url.Values{}
	values.Add("ids[]", id)
	values.Set("parsed", "true")
	req.URL.RawQuery = values.Encode()
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return names.PriceQuote{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return names.PriceQuote{}, fmt.Errorf("hermes: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload hermesResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return names.PriceQuote{}, fmt.Errorf("hermes: decode: %w", err)
	}
	for _, update := range payload.Parsed {
		if strings.TrimPrefix(strings.ToLower(update.ID), "0x") != id {
			continue
		}
		price, err := strconv.ParseInt(strings.TrimSpace(update.Price.Price), 10, 64)
		if err != nil {
			return names.PriceQuote{}, fmt.Errorf("%w: hermes price %q: %v", names.ErrInvalidPriceFeed, update.Price.Price, err)
		}
		quote := names.PriceQuote{
			Price:       price,
			Exponent:    update.Price.Expo,
			PublishedAt: update.Price.PublishTime,
			FeedID:      id,
		}
		if err := names.CheckQuote(quote, now, maxAge); err != nil {
			return names.PriceQuote{}, err
		}
		return quote, nil
	}
	return names.PriceQuote{}, fmt.Errorf("%w: hermes returned no update for %s", names.ErrInvalidPriceFeed, id)
}
