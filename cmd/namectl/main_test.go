package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"caregistrar/crypto"
	"caregistrar/native/names"
	"caregistrar/services/registrard/registrar"
	"caregistrar/services/registrard/server"
	"caregistrar/storage"
)

type staticSecret string

func (s staticSecret) Get() (string, error) { return string(s), nil }

func TestFeeMatchesPricingEngine(t *testing.T) {
	var out bytes.Buffer
	if err := runFee([]string{"--base-cents", "500", "--price", "2000", "--expo", "-2", "--years", "2"}, &out); err != nil {
		t.Fatalf("fee: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "500000000" {
		t.Fatalf("expected 500000000, got %s", got)
	}
	if err := runFee([]string{"--price", "0"}, &out); err == nil {
		t.Fatalf("expected error for zero price")
	}
	if err := runFee([]string{"--price", "1", "--years", "100"}, &out); err == nil {
		t.Fatalf("expected error for 100 years")
	}
}

func TestTokenVerifiesAgainstServer(t *testing.T) {
	var who [20]byte
	who[19] = 7
	var out bytes.Buffer
	args := []string{"--subject", crypto.FormatIdentity(who), "--issuer", "ops", "--audience", "api", "--ttl", "10m"}
	if err := runToken(args, &out, staticSecret("s3cret"), time.Now); err != nil {
		t.Fatalf("token: %v", err)
	}
	auth, err := server.NewAuthenticator(server.AuthConfig{HMACSecret: "s3cret", Issuer: "ops", Audience: "api"}, nil)
	if err != nil {
		t.Fatalf("authenticator: %v", err)
	}
	got, err := auth.Verify(strings.TrimSpace(out.String()))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got != who {
		t.Fatalf("subject mismatch: %x", got)
	}
	if err := runToken(nil, &out, staticSecret("s3cret"), time.Now); err == nil {
		t.Fatalf("expected missing subject error")
	}
}

func TestKeygenWritesLoadableKeystore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "operator.json")
	var out bytes.Buffer
	if err := runKeygen([]string{"--keystore", path, "--light"}, &out, staticSecret("pw")); err != nil {
		t.Fatalf("keygen: %v", err)
	}
	key, err := crypto.LoadFromKeystore(path, "pw")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !strings.Contains(out.String(), key.PubKey().Address().String()) {
		t.Fatalf("output does not name identity: %s", out.String())
	}
	if err := runKeygen([]string{"--keystore", path, "--light"}, &out, staticSecret("pw")); err == nil {
		t.Fatalf("expected refusal to overwrite")
	}
}

func TestExportStore(t *testing.T) {
	store := names.NewStore(storage.NewMemDB())
	now := int64(1_700_000_000)
	feed := names.NewManualFeed()
	feed.Set(names.PriceQuote{Price: 2000, Exponent: -2, PublishedAt: now, FeedID: names.DefaultFeedID})
	reg, err := registrar.New(store, feed, registrar.WithClock(func() int64 { return now }))
	if err != nil {
		t.Fatalf("registrar: %v", err)
	}
	var authority [20]byte
	authority[0] = 1
	ctx := context.Background()
	if _, err := reg.Bootstrap(ctx, authority, 0, 86400); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	for _, name := range []string{"a", "b"} {
		if _, err := reg.Register(ctx, authority, name, 1, nil, authority); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	outPath := filepath.Join(t.TempDir(), "out.parquet")
	var out bytes.Buffer
	if err := exportStore(store, outPath, &out, func() time.Time { return time.Unix(now, 0) }); err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.Contains(out.String(), "exported 2 records") {
		t.Fatalf("unexpected output: %s", out.String())
	}
}

func TestUnknownCommand(t *testing.T) {
	if err := run("frobnicate", nil, &bytes.Buffer{}); err == nil {
		t.Fatalf("expected error")
	}
}
