package otel

import (
	"context"
	"testing"
)

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders(" api-key = abc ,broken,, =skip,x=1,auth=Basic%20dXNlcg==,plus=a+b")
	if len(headers) != 4 || headers["api-key"] != "abc" || headers["x"] != "1" {
		t.Fatalf("unexpected headers %v", headers)
	}
	if headers["auth"] != "Basic dXNlcg==" {
		t.Fatalf("expected percent-decoded value, got %q", headers["auth"])
	}
	if headers["plus"] != "a+b" {
		t.Fatalf("plus must survive decoding, got %q", headers["plus"])
	}
	if got := ParseHeaders(" , "); got != nil {
		t.Fatalf("expected nil for empty input, got %v", got)
	}
}

func TestCollectorTarget(t *testing.T) {
	cases := []struct {
		cfg      Config
		endpoint string
		insecure bool
	}{
		{Config{}, "localhost:4318", false},
		{Config{Endpoint: "collector:4318/", Insecure: true}, "collector:4318", true},
		{Config{Endpoint: "http://collector:4318"}, "collector:4318", true},
		{Config{Endpoint: "https://otel.example.com"}, "otel.example.com", false},
	}
	for _, tc := range cases {
		endpoint, insecure := tc.cfg.target()
		if endpoint != tc.endpoint || insecure != tc.insecure {
			t.Fatalf("%q: got %s insecure=%v", tc.cfg.Endpoint, endpoint, insecure)
		}
	}
}

func TestInitWithoutExportersIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "registrard"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if _, err := Init(context.Background(), Config{ServiceName: " "}); err == nil {
		t.Fatalf("expected missing service name to fail")
	}
}

func TestInitTracesBuildsProvider(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "registrard", Endpoint: "http://127.0.0.1:1", Traces: true, SampleRatio: 0.5})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = shutdown(ctx)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4318")
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "tenant=names")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.25")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "1")
	cfg := Config{ServiceName: "registrard"}
	cfg.ApplyEnv()
	if cfg.Endpoint != "collector:4318" || cfg.Headers["tenant"] != "names" || cfg.SampleRatio != 0.25 || !cfg.Insecure {
		t.Fatalf("unexpected config %+v", cfg)
	}

	explicit := Config{Endpoint: "mine:4318", SampleRatio: 1}
	explicit.ApplyEnv()
	if explicit.Endpoint != "mine:4318" || explicit.SampleRatio != 1 {
		t.Fatalf("explicit values overwritten: %+v", explicit)
	}
}
