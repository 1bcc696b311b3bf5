package names

import (
	"context"
	"errors"
	"fmt"
	"time"

	"caregistrar/core/events"
	"caregistrar/core/types"
	"caregistrar/native/common"
)

type engineState interface {
	DomainGet(name string) (*DomainRecord, bool, error)
	DomainCreate(rec *DomainRecord) error
	DomainPut(rec *DomainRecord) error
	ConfigGet() (*RegistryConfig, bool, error)
	ConfigPut(cfg *RegistryConfig) error
}

// Custody holds collected fees on behalf of the registry.
type Custody interface {
	Collect(from [20]byte, amount uint64) error
	Disburse(to [20]byte, amount uint64) error
	VaultBalance() (uint64, error)
}

// Engine evaluates lifecycle operations against a single state view. It does
// not lock: the host binds one engine per transaction and serialises writers.
type Engine struct {
	state   engineState
	feed    PriceFeed
	custody Custody
	emitter events.Emitter
	pricer  Pricer
	nowFn   func() int64
}

// NewEngine creates a names engine with a no-op emitter and the default
// pricing policy.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		pricer:  DefaultPricer(),
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the record and config store used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetPriceFeed configures the exchange-rate source.
func (e *Engine) SetPriceFeed(feed PriceFeed) { e.feed = feed }

// SetCustody configures where fees are collected.
func (e *Engine) SetCustody(custody Custody) { e.custody = custody }

// SetPricer overrides the pricing policy.
func (e *Engine) SetPricer(p Pricer) { e.pricer = p.Normalise() }

// Pricer returns the active pricing policy.
func (e *Engine) Pricer() Pricer { return e.pricer }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(namesEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) loadConfig() (*RegistryConfig, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	cfg, ok, err := e.state.ConfigGet()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrRegistryNotInitialized
	}
	return cfg, nil
}

// loadMutableConfig loads the config and applies the pause guard.
func (e *Engine) loadMutableConfig() (*RegistryConfig, error) {
	cfg, err := e.loadConfig()
	if err != nil {
		return nil, err
	}
	if err := common.Guard(cfg, ModuleName); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (e *Engine) loadDomain(name string) (*DomainRecord, error) {
	rec, ok, err := e.state.DomainGet(name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDomainNotFound, name)
	}
	return rec, nil
}

// fee obtains a quote and prices years of registration.
func (e *Engine) fee(ctx context.Context, cfg *RegistryConfig, years uint64, now int64) (uint64, error) {
	if e.feed == nil {
		return 0, errNilFeed
	}
	quote, err := e.feed.GetQuote(ctx, e.pricer.FeedID, now, e.pricer.MaxQuoteAge)
	if err != nil {
		if errors.Is(err, ErrInvalidPriceFeed) {
			return 0, err
		}
		return 0, fmt.Errorf("%w: %v", ErrInvalidPriceFeed, err)
	}
	return e.pricer.ComputeFee(cfg.BasePriceUSDCents, years, quote, now)
}

func (e *Engine) collect(payer [20]byte, amount uint64) error {
	if e.custody == nil {
		return errNilCustody
	}
	if err := e.custody.Collect(payer, amount); err != nil {
		return fmt.Errorf("%w: %w", ErrInsufficientPayment, err)
	}
	return nil
}

// Register creates a record for an unregistered name. payer funds the fee and
// owner receives the name.
func (e *Engine) Register(ctx context.Context, payer [20]byte, name string, years uint64, addrs []ResolvedAddress, owner [20]byte) (*Receipt, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := ValidateYears(years); err != nil {
		return nil, err
	}
	if err := ValidateAddresses(addrs); err != nil {
		return nil, err
	}
	cfg, err := e.loadMutableConfig()
	if err != nil {
		return nil, err
	}
	if _, exists, err := e.state.DomainGet(name); err != nil {
		return nil, err
	} else if exists {
		return nil, fmt.Errorf("%w: %s", ErrDomainAlreadyRegistered, name)
	}
	now := e.now()
	fee, err := e.fee(ctx, cfg, years, now)
	if err != nil {
		return nil, err
	}
	expires, err := FreshExpiry(now, years)
	if err != nil {
		return nil, err
	}
	if cfg.DomainsRegistered == ^uint64(0) {
		return nil, ErrMathOverflow
	}
	if err := e.collect(payer, fee); err != nil {
		return nil, err
	}
	rec := &DomainRecord{
		Name:         name,
		Owner:        owner,
		RegisteredAt: now,
		ExpiresAt:    expires,
		Addresses:    cloneAddresses(addrs),
	}
	if err := e.state.DomainCreate(rec); err != nil {
		return nil, err
	}
	cfg.DomainsRegistered++
	if err := e.state.ConfigPut(cfg); err != nil {
		return nil, err
	}
	e.emit(NewRegisteredEvent(rec, payer, years, fee))
	return &Receipt{Record: rec.Clone(), Fee: fee, NewExpiry: expires, Phase: PhaseActive}, nil
}

// Renew extends a record in Active or Grace. Any payer may renew any name.
func (e *Engine) Renew(ctx context.Context, payer [20]byte, name string, years uint64) (*Receipt, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := ValidateYears(years); err != nil {
		return nil, err
	}
	cfg, err := e.loadMutableConfig()
	if err != nil {
		return nil, err
	}
	rec, err := e.loadDomain(name)
	if err != nil {
		return nil, err
	}
	now := e.now()
	phase := PhaseAt(now, rec.ExpiresAt, cfg.GracePeriodSeconds)
	if phase == PhaseReclaimable {
		return nil, fmt.Errorf("%w: %s", ErrDomainExpiredBeyondGracePeriod, name)
	}
	fee, err := e.fee(ctx, cfg, years, now)
	if err != nil {
		return nil, err
	}
	expires, err := RenewedExpiry(now, rec.ExpiresAt, years)
	if err != nil {
		return nil, err
	}
	if err := e.collect(payer, fee); err != nil {
		return nil, err
	}
	oldExpiry := rec.ExpiresAt
	rec.ExpiresAt = expires
	if err := e.state.DomainPut(rec); err != nil {
		return nil, err
	}
	e.emit(NewRenewedEvent(rec, payer, years, fee, oldExpiry))
	return &Receipt{Record: rec.Clone(), Fee: fee, OldExpiry: oldExpiry, NewExpiry: expires, Phase: phase}, nil
}

// Buy reclaims a name that is past its grace period. The previous owner's
// addresses are discarded and the record restarts from now.
func (e *Engine) Buy(ctx context.Context, payer [20]byte, name string, years uint64, addrs []ResolvedAddress, owner [20]byte) (*Receipt, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := ValidateYears(years); err != nil {
		return nil, err
	}
	if err := ValidateAddresses(addrs); err != nil {
		return nil, err
	}
	cfg, err := e.loadMutableConfig()
	if err != nil {
		return nil, err
	}
	rec, err := e.loadDomain(name)
	if err != nil {
		return nil, err
	}
	now := e.now()
	phase := PhaseAt(now, rec.ExpiresAt, cfg.GracePeriodSeconds)
	if phase != PhaseReclaimable {
		return nil, fmt.Errorf("%w: %s is %s", ErrDomainNotAvailableForPurchase, name, phase)
	}
	fee, err := e.fee(ctx, cfg, years, now)
	if err != nil {
		return nil, err
	}
	expires, err := FreshExpiry(now, years)
	if err != nil {
		return nil, err
	}
	if err := e.collect(payer, fee); err != nil {
		return nil, err
	}
	oldExpiry := rec.ExpiresAt
	previousOwner := rec.Owner
	next := &DomainRecord{
		Name:         rec.Name,
		Owner:        owner,
		RegisteredAt: now,
		ExpiresAt:    expires,
		Addresses:    cloneAddresses(addrs),
	}
	if err := e.state.DomainPut(next); err != nil {
		return nil, err
	}
	e.emit(NewPurchasedEvent(next, previousOwner, payer, years, fee))
	return &Receipt{Record: next.Clone(), Fee: fee, OldExpiry: oldExpiry, NewExpiry: expires, Phase: phase}, nil
}

// loadOwned loads a record for an owner-only mutation. Ownership is checked
// before the lifecycle phase.
func (e *Engine) loadOwned(caller [20]byte, name string) (*DomainRecord, Phase, error) {
	cfg, err := e.loadMutableConfig()
	if err != nil {
		return nil, PhaseUnregistered, err
	}
	rec, err := e.loadDomain(name)
	if err != nil {
		return nil, PhaseUnregistered, err
	}
	if rec.Owner != caller {
		return nil, PhaseUnregistered, fmt.Errorf("%w: %s", ErrNotDomainOwner, name)
	}
	phase := PhaseAt(e.now(), rec.ExpiresAt, cfg.GracePeriodSeconds)
	if phase == PhaseReclaimable {
		return nil, phase, fmt.Errorf("%w: %s", ErrDomainExpired, name)
	}
	return rec, phase, nil
}

// Transfer hands a name to newOwner. Addresses and expiry are untouched.
func (e *Engine) Transfer(caller [20]byte, name string, newOwner [20]byte) (*Receipt, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	rec, phase, err := e.loadOwned(caller, name)
	if err != nil {
		return nil, err
	}
	previousOwner := rec.Owner
	rec.Owner = newOwner
	if err := e.state.DomainPut(rec); err != nil {
		return nil, err
	}
	e.emit(NewTransferredEvent(rec, previousOwner))
	return &Receipt{Record: rec.Clone(), OldExpiry: rec.ExpiresAt, NewExpiry: rec.ExpiresAt, Phase: phase}, nil
}

// UpdateAddresses replaces the resolved address list wholesale.
func (e *Engine) UpdateAddresses(caller [20]byte, name string, addrs []ResolvedAddress) (*Receipt, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := ValidateAddresses(addrs); err != nil {
		return nil, err
	}
	rec, phase, err := e.loadOwned(caller, name)
	if err != nil {
		return nil, err
	}
	rec.Addresses = cloneAddresses(addrs)
	if err := e.state.DomainPut(rec); err != nil {
		return nil, err
	}
	e.emit(NewAddressesUpdatedEvent(rec))
	return &Receipt{Record: rec.Clone(), OldExpiry: rec.ExpiresAt, NewExpiry: rec.ExpiresAt, Phase: phase}, nil
}

// Resolve returns the record for name and its current phase.
func (e *Engine) Resolve(name string) (*DomainRecord, Phase, error) {
	if err := ValidateName(name); err != nil {
		return nil, PhaseUnregistered, err
	}
	cfg, err := e.loadConfig()
	if err != nil {
		return nil, PhaseUnregistered, err
	}
	rec, err := e.loadDomain(name)
	if err != nil {
		return nil, PhaseUnregistered, err
	}
	return rec, PhaseAt(e.now(), rec.ExpiresAt, cfg.GracePeriodSeconds), nil
}

// Quote prices years of registration at the current base price without
// collecting anything.
func (e *Engine) Quote(ctx context.Context, years uint64) (uint64, error) {
	if err := ValidateYears(years); err != nil {
		return 0, err
	}
	cfg, err := e.loadConfig()
	if err != nil {
		return 0, err
	}
	return e.fee(ctx, cfg, years, e.now())
}

// Config returns a copy of the registry configuration.
func (e *Engine) Config() (*RegistryConfig, error) {
	cfg, err := e.loadConfig()
	if err != nil {
		return nil, err
	}
	return cfg.Clone(), nil
}
