package oracle

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Registry constructs price sources based on configuration.
type Registry struct {
	HTTPClient HTTPDoer
}

// NewRegistry builds a registry whose HTTP client is traced with otelhttp.
func NewRegistry() *Registry {
	return &Registry{HTTPClient: &http.Client{
		Timeout:   10 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}}
}

// Build creates a source from the supplied configuration.
func (r *Registry) Build(name, typ, endpoint string, price int64, exponent int32) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(typ)) {
	case "hermes", "pyth":
		return NewHermesFeed(r.client(), name, endpoint), nil
	case "static":
		if price <= 0 {
			return nil, fmt.Errorf("static source %q: price must be positive", name)
		}
		return NewStaticFeed(name, price, exponent), nil
	default:
		return nil, fmt.Errorf("unknown oracle type %q", typ)
	}
}

func (r *Registry) client() HTTPDoer {
	if r.HTTPClient != nil {
		return r.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}
