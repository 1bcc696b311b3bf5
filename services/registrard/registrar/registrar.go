package registrar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"caregistrar/core/events"
	"caregistrar/crypto"
	"caregistrar/native/bank"
	"caregistrar/native/names"
	"caregistrar/observability"
	telemetry "caregistrar/observability/otel"
)

// Registrar hosts the names engine. Every mutation runs inside its own staged
// transaction under a single writer lock: the engine sees its own writes, the
// transaction commits atomically on success and is discarded on error, and
// buffered events are only published after the commit lands.
type Registrar struct {
	store   *names.Store
	feed    names.PriceFeed
	pricer  names.Pricer
	vault   [20]byte
	sink    events.Emitter
	logger  *slog.Logger
	metrics *observability.RegistrarMetrics
	tracer  trace.Tracer
	nowFn   func() int64

	mu sync.Mutex
}

// Option configures a Registrar.
type Option func(*Registrar)

// WithSink sets the emitter receiving committed events.
func WithSink(sink events.Emitter) Option {
	return func(r *Registrar) { r.sink = sink }
}

// WithLogger installs a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registrar) { r.logger = l }
}

// WithPricer overrides the pricing policy.
func WithPricer(p names.Pricer) Option {
	return func(r *Registrar) { r.pricer = p.Normalise() }
}

// WithVault sets the identity holding collected fees.
func WithVault(vault [20]byte) Option {
	return func(r *Registrar) { r.vault = vault }
}

// WithClock overrides the unix-seconds clock used by the engine.
func WithClock(now func() int64) Option {
	return func(r *Registrar) { r.nowFn = now }
}

// New constructs a registrar over store using feed for quotes.
func New(store *names.Store, feed names.PriceFeed, opts ...Option) (*Registrar, error) {
	if store == nil {
		return nil, fmt.Errorf("registrar: store required")
	}
	if feed == nil {
		return nil, fmt.Errorf("registrar: price feed required")
	}
	r := &Registrar{
		store:   store,
		feed:    feed,
		pricer:  names.DefaultPricer(),
		sink:    events.NoopEmitter{},
		logger:  slog.Default(),
		metrics: observability.Registrar(),
		tracer:  telemetry.Tracer("caregistrar/registrar"),
		nowFn:   func() int64 { return time.Now().Unix() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.sink == nil {
		r.sink = events.NoopEmitter{}
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r, nil
}

// Store exposes the underlying state for read-only consumers such as export.
func (r *Registrar) Store() *names.Store { return r.store }

// Vault returns the fee vault identity.
func (r *Registrar) Vault() [20]byte { return r.vault }

// Now returns the registrar clock in unix seconds.
func (r *Registrar) Now() int64 { return r.nowFn() }

func (r *Registrar) engine(txn *names.Txn, emitter events.Emitter) *names.Engine {
	eng := names.NewEngine()
	eng.SetState(txn)
	eng.SetPriceFeed(r.feed)
	eng.SetPricer(r.pricer)
	eng.SetCustody(bank.NewCustody(bank.NewLedger(txn), r.vault))
	eng.SetNowFunc(r.nowFn)
	if emitter != nil {
		eng.SetEmitter(emitter)
	}
	return eng
}

// mutate runs fn in a fresh transaction and publishes its events on commit.
// The write lock is held for the whole call, including any price quote fn
// fetches, so feed latency delays every other writer.
func (r *Registrar) mutate(ctx context.Context, op string, fn func(ctx context.Context, eng *names.Engine, txn *names.Txn) error) error {
	ctx, span := r.tracer.Start(ctx, "registrar."+op)
	defer span.End()
	start := time.Now()

	r.mu.Lock()
	txn := r.store.Begin()
	buf := &events.Buffer{}
	eng := r.engine(txn, buf)
	err := fn(ctx, eng, txn)
	if err != nil {
		txn.Discard()
		buf.Reset()
	} else if err = txn.Commit(); err != nil {
		buf.Reset()
		err = fmt.Errorf("registrar: commit %s: %w", op, err)
	}
	var cfg *names.RegistryConfig
	if err == nil {
		cfg, _ = r.readConfig()
	}
	r.mu.Unlock()

	r.metrics.Observe(op, time.Since(start), err, Code)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, Code(err))
		r.logger.Debug("registry operation rejected",
			slog.String("operation", op),
			slog.String("code", Code(err)),
			slog.Any("error", err))
		return err
	}
	if cfg != nil {
		r.metrics.SetRegistry(cfg.DomainsRegistered, cfg.Paused)
	}
	for _, evt := range buf.Events() {
		observability.Events().RecordPublished(evt.EventType())
	}
	buf.Flush(r.sink)
	return nil
}

// readConfig loads the config outside of any operation.
func (r *Registrar) readConfig() (*names.RegistryConfig, error) {
	txn := r.store.Begin()
	defer txn.Discard()
	cfg, ok, err := txn.ConfigGet()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, names.ErrRegistryNotInitialized
	}
	return cfg, nil
}

// view runs fn against a throwaway transaction.
func (r *Registrar) view(fn func(eng *names.Engine, txn *names.Txn) error) error {
	txn := r.store.Begin()
	defer txn.Discard()
	return fn(r.engine(txn, nil), txn)
}

func (r *Registrar) receiptOp(ctx context.Context, op string, name string, fn func(ctx context.Context, eng *names.Engine) (*names.Receipt, error)) (*names.Receipt, error) {
	var receipt *names.Receipt
	err := r.mutate(ctx, op, func(ctx context.Context, eng *names.Engine, _ *names.Txn) error {
		trace.SpanFromContext(ctx).SetAttributes(attribute.String("names.name", name))
		var err error
		receipt, err = fn(ctx, eng)
		return err
	})
	if err != nil {
		return nil, err
	}
	r.metrics.RecordFee(op, receipt.Fee)
	r.logger.Info("registry operation committed",
		slog.String("operation", op),
		slog.String("name", name),
		slog.String("owner", crypto.FormatIdentity(receipt.Record.Owner)),
		slog.Uint64("fee", receipt.Fee),
		slog.Int64("expiresAt", receipt.NewExpiry))
	return receipt, nil
}

// Register creates a new record paid for by payer.
func (r *Registrar) Register(ctx context.Context, payer [20]byte, name string, years uint64, addrs []names.ResolvedAddress, owner [20]byte) (*names.Receipt, error) {
	return r.receiptOp(ctx, "register", name, func(ctx context.Context, eng *names.Engine) (*names.Receipt, error) {
		return eng.Register(ctx, payer, name, years, addrs, owner)
	})
}

// Renew extends a record in Active or Grace.
func (r *Registrar) Renew(ctx context.Context, payer [20]byte, name string, years uint64) (*names.Receipt, error) {
	return r.receiptOp(ctx, "renew", name, func(ctx context.Context, eng *names.Engine) (*names.Receipt, error) {
		return eng.Renew(ctx, payer, name, years)
	})
}

// Buy takes over a Reclaimable record.
func (r *Registrar) Buy(ctx context.Context, payer [20]byte, name string, years uint64, addrs []names.ResolvedAddress, owner [20]byte) (*names.Receipt, error) {
	return r.receiptOp(ctx, "buy", name, func(ctx context.Context, eng *names.Engine) (*names.Receipt, error) {
		return eng.Buy(ctx, payer, name, years, addrs, owner)
	})
}

// Transfer hands a record to newOwner.
func (r *Registrar) Transfer(ctx context.Context, caller [20]byte, name string, newOwner [20]byte) (*names.Receipt, error) {
	return r.receiptOp(ctx, "transfer", name, func(_ context.Context, eng *names.Engine) (*names.Receipt, error) {
		return eng.Transfer(caller, name, newOwner)
	})
}

// UpdateAddresses replaces the resolved addresses of a record.
func (r *Registrar) UpdateAddresses(ctx context.Context, caller [20]byte, name string, addrs []names.ResolvedAddress) (*names.Receipt, error) {
	return r.receiptOp(ctx, "update_addresses", name, func(_ context.Context, eng *names.Engine) (*names.Receipt, error) {
		return eng.UpdateAddresses(caller, name, addrs)
	})
}

func (r *Registrar) configOp(ctx context.Context, op string, fn func(eng *names.Engine) (*names.RegistryConfig, error)) (*names.RegistryConfig, error) {
	var cfg *names.RegistryConfig
	err := r.mutate(ctx, op, func(_ context.Context, eng *names.Engine, _ *names.Txn) error {
		var err error
		cfg, err = fn(eng)
		return err
	})
	if err != nil {
		return nil, err
	}
	r.logger.Info("registry config updated", slog.String("operation", op))
	return cfg, nil
}

// Initialize creates the registry configuration.
func (r *Registrar) Initialize(ctx context.Context, authority [20]byte, basePriceCents uint64, graceSeconds int64) (*names.RegistryConfig, error) {
	return r.configOp(ctx, "initialize", func(eng *names.Engine) (*names.RegistryConfig, error) {
		return eng.Initialize(authority, basePriceCents, graceSeconds)
	})
}

// Bootstrap initialises the registry when no configuration exists yet. It
// reports whether initialisation happened.
func (r *Registrar) Bootstrap(ctx context.Context, authority [20]byte, basePriceCents uint64, graceSeconds int64) (bool, error) {
	if cfg, err := r.readConfig(); err == nil {
		r.metrics.SetRegistry(cfg.DomainsRegistered, cfg.Paused)
		return false, nil
	} else if !errors.Is(err, names.ErrRegistryNotInitialized) {
		return false, err
	}
	if _, err := r.Initialize(ctx, authority, basePriceCents, graceSeconds); err != nil {
		if errors.Is(err, names.ErrRegistryInitialized) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// SetBasePrice updates the yearly price in USD cents.
func (r *Registrar) SetBasePrice(ctx context.Context, caller [20]byte, cents uint64) (*names.RegistryConfig, error) {
	return r.configOp(ctx, "set_base_price", func(eng *names.Engine) (*names.RegistryConfig, error) {
		return eng.SetBasePrice(caller, cents)
	})
}

// SetGracePeriod updates the grace window.
func (r *Registrar) SetGracePeriod(ctx context.Context, caller [20]byte, seconds int64) (*names.RegistryConfig, error) {
	return r.configOp(ctx, "set_grace_period", func(eng *names.Engine) (*names.RegistryConfig, error) {
		return eng.SetGracePeriod(caller, seconds)
	})
}

// SetAuthority hands registry administration to next.
func (r *Registrar) SetAuthority(ctx context.Context, caller, next [20]byte) (*names.RegistryConfig, error) {
	return r.configOp(ctx, "set_authority", func(eng *names.Engine) (*names.RegistryConfig, error) {
		return eng.SetAuthority(caller, next)
	})
}

// SetPaused toggles the lifecycle pause flag.
func (r *Registrar) SetPaused(ctx context.Context, caller [20]byte, paused bool) (*names.RegistryConfig, error) {
	return r.configOp(ctx, "set_paused", func(eng *names.Engine) (*names.RegistryConfig, error) {
		return eng.SetPaused(caller, paused)
	})
}

// Withdraw pays collected fees to the authority; zero drains the vault.
func (r *Registrar) Withdraw(ctx context.Context, caller [20]byte, amount uint64) (uint64, error) {
	var paid uint64
	err := r.mutate(ctx, "withdraw", func(_ context.Context, eng *names.Engine, _ *names.Txn) error {
		var err error
		paid, err = eng.Withdraw(caller, amount)
		return err
	})
	if err != nil {
		return 0, err
	}
	r.logger.Info("fees withdrawn", slog.Uint64("amount", paid))
	return paid, nil
}

// SetExpiry overrides a record's expiry.
func (r *Registrar) SetExpiry(ctx context.Context, caller [20]byte, name string, expiresAt int64) (*names.DomainRecord, error) {
	var rec *names.DomainRecord
	err := r.mutate(ctx, "set_expiry", func(_ context.Context, eng *names.Engine, _ *names.Txn) error {
		var err error
		rec, err = eng.SetExpiry(caller, name, expiresAt)
		return err
	})
	if err != nil {
		return nil, err
	}
	r.logger.Warn("record expiry overridden", slog.String("name", name), slog.Int64("expiresAt", expiresAt))
	return rec, nil
}

// Credit mints native units into an account. Only the registry authority may
// fund accounts; it exists for development networks without a bridge.
func (r *Registrar) Credit(ctx context.Context, caller, to [20]byte, amount uint64) (*uint256.Int, error) {
	var balance *uint256.Int
	err := r.mutate(ctx, "credit", func(_ context.Context, _ *names.Engine, txn *names.Txn) error {
		cfg, ok, err := txn.ConfigGet()
		if err != nil {
			return err
		}
		if !ok {
			return names.ErrRegistryNotInitialized
		}
		if caller != cfg.Authority {
			return names.ErrNotRegistryAuthority
		}
		ledger := bank.NewLedger(txn)
		if err := ledger.Credit(to, amount); err != nil {
			return err
		}
		balance, err = ledger.Balance(to)
		return err
	})
	if err != nil {
		return nil, err
	}
	return balance, nil
}

// Resolve returns the record for name and its current phase.
func (r *Registrar) Resolve(ctx context.Context, name string) (*names.DomainRecord, names.Phase, error) {
	_, span := r.tracer.Start(ctx, "registrar.resolve", trace.WithAttributes(attribute.String("names.name", name)))
	defer span.End()
	var (
		rec   *names.DomainRecord
		phase names.Phase
	)
	err := r.view(func(eng *names.Engine, _ *names.Txn) error {
		var err error
		rec, phase, err = eng.Resolve(name)
		return err
	})
	return rec, phase, err
}

// Quote prices years of registration.
func (r *Registrar) Quote(ctx context.Context, years uint64) (uint64, error) {
	ctx, span := r.tracer.Start(ctx, "registrar.quote")
	defer span.End()
	var fee uint64
	err := r.view(func(eng *names.Engine, _ *names.Txn) error {
		var err error
		fee, err = eng.Quote(ctx, years)
		return err
	})
	if err != nil {
		span.RecordError(err)
	}
	return fee, err
}

// Config returns the registry configuration.
func (r *Registrar) Config(ctx context.Context) (*names.RegistryConfig, error) {
	var cfg *names.RegistryConfig
	err := r.view(func(eng *names.Engine, _ *names.Txn) error {
		var err error
		cfg, err = eng.Config()
		return err
	})
	return cfg, err
}

// Balance returns the native balance of addr.
func (r *Registrar) Balance(ctx context.Context, addr [20]byte) (*uint256.Int, error) {
	var bal *uint256.Int
	err := r.view(func(_ *names.Engine, txn *names.Txn) error {
		var err error
		bal, err = bank.NewLedger(txn).Balance(addr)
		return err
	})
	return bal, err
}
