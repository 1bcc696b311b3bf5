package registrard

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"caregistrar/core/events"
	"caregistrar/crypto"
	"caregistrar/native/names"
	"caregistrar/observability/logging"
	telemetry "caregistrar/observability/otel"
	"caregistrar/services/registrard/config"
	"caregistrar/services/registrard/dnsfront"
	"caregistrar/services/registrard/journal"
	"caregistrar/services/registrard/oracle"
	"caregistrar/services/registrard/registrar"
	"caregistrar/services/registrard/server"
	"caregistrar/services/registrard/stream"
	"caregistrar/storage"
)

// Main initialises and runs the registrar daemon.
func Main() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/registrard/config.yaml", "path to registrard configuration")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logOpts := []logging.Option{logging.WithLevel(logging.ParseLevel(cfg.Log.Level))}
	if cfg.Log.File != "" {
		logOpts = append(logOpts, logging.WithFile(cfg.Log.File, cfg.Log.MaxSizeMB, cfg.Log.MaxBackups))
	}
	logger := logging.Setup("registrard", cfg.Environment, logOpts...)

	telCfg := telemetry.Config{
		ServiceName: "registrard",
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	}
	telCfg.ApplyEnv()
	shutdownTelemetry, err := telemetry.Init(context.Background(), telCfg)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	db, err := storage.Open(cfg.Store.Backend, cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	feed, err := buildFeed(cfg, logger)
	if err != nil {
		return err
	}

	jrnl, err := journal.Open(cfg.Journal.Driver, cfg.Journal.DSN, logger)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer jrnl.Close()
	hub := stream.NewHub(logger)

	reg, err := registrar.New(names.NewStore(db), feed,
		registrar.WithSink(events.Fanout{jrnl, hub}),
		registrar.WithLogger(logger),
		registrar.WithVault(cfg.VaultIdentity()),
		registrar.WithPricer(names.Pricer{
			MaxQuoteAge:     cfg.Oracle.MaxAge.Duration,
			NativeBaseUnits: cfg.Pricing.NativeBaseUnits,
			FeedID:          cfg.Oracle.FeedID,
		}),
	)
	if err != nil {
		return fmt.Errorf("init registrar: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := bootstrap(ctx, cfg, reg, logger); err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		ListenAddress: cfg.ListenAddress,
		FeedID:        cfg.Oracle.FeedID,
		RateLimit: server.RateLimit{
			RequestsPerMinute: float64(cfg.RateLimit.RequestsPerMinute),
			Burst:             cfg.RateLimit.Burst,
		},
		Auth: server.AuthConfig{
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ClockSkew:  cfg.Auth.ClockSkew.Duration,
		},
	}, reg, jrnl, hub, logger)
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return srv.Run(groupCtx) })
	if cfg.DNS.Listen != "" {
		front, err := dnsfront.New(cfg.DNS.Zone, cfg.DNS.TTL.Duration, reg, logger)
		if err != nil {
			return fmt.Errorf("init dns: %w", err)
		}
		group.Go(func() error { return front.ListenAndServe(groupCtx, cfg.DNS.Listen) })
	}

	logger.Info("registrard started",
		slog.String("listen", cfg.ListenAddress),
		slog.String("store", cfg.Store.Backend),
		slog.String("journal", cfg.Journal.Driver),
		slog.String("vault", crypto.FormatIdentity(reg.Vault())))
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("registrard stopped")
	return nil
}

func buildFeed(cfg config.Config, logger *slog.Logger) (*oracle.Aggregator, error) {
	registry := oracle.NewRegistry()
	sources := make([]oracle.Source, 0, len(cfg.Oracle.Sources))
	for _, src := range cfg.Oracle.Sources {
		built, err := registry.Build(src.Name, src.Type, src.Endpoint, src.Price, src.Exponent)
		if err != nil {
			return nil, fmt.Errorf("oracle source %s: %w", src.Name, err)
		}
		sources = append(sources, built)
	}
	agg, err := oracle.NewAggregator(sources,
		oracle.WithLogger(logger),
		oracle.WithTimeout(cfg.Oracle.Timeout.Duration))
	if err != nil {
		return nil, fmt.Errorf("init oracle: %w", err)
	}
	return agg, nil
}

// bootstrap initialises the registry config on first start when an authority
// is configured.
func bootstrap(ctx context.Context, cfg config.Config, reg *registrar.Registrar, logger *slog.Logger) error {
	if cfg.Bootstrap.Authority == "" {
		if _, err := reg.Config(ctx); errors.Is(err, names.ErrRegistryNotInitialized) {
			logger.Warn("registry not initialised and no bootstrap authority configured; lifecycle operations will fail")
		}
		return nil
	}
	authority, err := crypto.ParseIdentity(cfg.Bootstrap.Authority)
	if err != nil {
		return fmt.Errorf("bootstrap authority: %w", err)
	}
	initialised, err := reg.Bootstrap(ctx, authority, cfg.Bootstrap.BasePriceUSDCents, int64(cfg.Bootstrap.GracePeriod.Duration/time.Second))
	if err != nil {
		return fmt.Errorf("bootstrap registry: %w", err)
	}
	if initialised {
		logger.Info("registry initialised",
			slog.String("authority", cfg.Bootstrap.Authority),
			slog.Uint64("base_price_usd_cents", cfg.Bootstrap.BasePriceUSDCents))
	}
	return nil
}
