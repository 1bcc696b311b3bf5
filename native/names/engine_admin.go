package names

import "fmt"

// Initialize creates the singleton registry configuration.
func (e *Engine) Initialize(authority [20]byte, basePriceCents uint64, graceSeconds int64) (*RegistryConfig, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if graceSeconds < 0 {
		return nil, ErrInvalidGracePeriod
	}
	if _, exists, err := e.state.ConfigGet(); err != nil {
		return nil, err
	} else if exists {
		return nil, ErrRegistryInitialized
	}
	cfg := &RegistryConfig{
		Authority:          authority,
		BasePriceUSDCents:  basePriceCents,
		GracePeriodSeconds: graceSeconds,
	}
	if err := e.state.ConfigPut(cfg); err != nil {
		return nil, err
	}
	e.emit(NewConfigUpdatedEvent(cfg, "initialize"))
	return cfg.Clone(), nil
}

// loadAuthorised loads the config and checks caller against the authority.
// Admin operations ignore the pause flag.
func (e *Engine) loadAuthorised(caller [20]byte) (*RegistryConfig, error) {
	cfg, err := e.loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Authority != caller {
		return nil, ErrNotRegistryAuthority
	}
	return cfg, nil
}

func (e *Engine) updateConfig(caller [20]byte, field string, apply func(*RegistryConfig) error) (*RegistryConfig, error) {
	cfg, err := e.loadAuthorised(caller)
	if err != nil {
		return nil, err
	}
	if err := apply(cfg); err != nil {
		return nil, err
	}
	if err := e.state.ConfigPut(cfg); err != nil {
		return nil, err
	}
	e.emit(NewConfigUpdatedEvent(cfg, field))
	return cfg.Clone(), nil
}

// SetBasePrice changes the yearly price in USD cents.
func (e *Engine) SetBasePrice(caller [20]byte, cents uint64) (*RegistryConfig, error) {
	return e.updateConfig(caller, "basePriceUsdCents", func(cfg *RegistryConfig) error {
		cfg.BasePriceUSDCents = cents
		return nil
	})
}

// SetGracePeriod changes the post-expiry grace window.
func (e *Engine) SetGracePeriod(caller [20]byte, seconds int64) (*RegistryConfig, error) {
	return e.updateConfig(caller, "gracePeriodSeconds", func(cfg *RegistryConfig) error {
		if seconds < 0 {
			return ErrInvalidGracePeriod
		}
		cfg.GracePeriodSeconds = seconds
		return nil
	})
}

// SetAuthority hands registry administration to next.
func (e *Engine) SetAuthority(caller, next [20]byte) (*RegistryConfig, error) {
	return e.updateConfig(caller, "authority", func(cfg *RegistryConfig) error {
		cfg.Authority = next
		return nil
	})
}

// SetPaused toggles the lifecycle pause guard.
func (e *Engine) SetPaused(caller [20]byte, paused bool) (*RegistryConfig, error) {
	return e.updateConfig(caller, "paused", func(cfg *RegistryConfig) error {
		cfg.Paused = paused
		return nil
	})
}

// Withdraw pays collected fees to the authority. An amount of zero drains the
// vault. It returns the amount paid.
func (e *Engine) Withdraw(caller [20]byte, amount uint64) (uint64, error) {
	cfg, err := e.loadAuthorised(caller)
	if err != nil {
		return 0, err
	}
	if e.custody == nil {
		return 0, errNilCustody
	}
	available, err := e.custody.VaultBalance()
	if err != nil {
		return 0, err
	}
	if amount == 0 {
		amount = available
	}
	if amount > available {
		return 0, fmt.Errorf("%w: vault holds %d, requested %d", ErrInsufficientPayment, available, amount)
	}
	if amount == 0 {
		return 0, nil
	}
	if err := e.custody.Disburse(cfg.Authority, amount); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInsufficientPayment, err)
	}
	e.emit(NewFeesWithdrawnEvent(cfg.Authority, amount))
	return amount, nil
}

// SetExpiry overwrites a record's expiry. It exists to correct records and
// bypasses the lifecycle phase checks.
func (e *Engine) SetExpiry(caller [20]byte, name string, expiresAt int64) (*DomainRecord, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if _, err := e.loadAuthorised(caller); err != nil {
		return nil, err
	}
	rec, err := e.loadDomain(name)
	if err != nil {
		return nil, err
	}
	if expiresAt < rec.RegisteredAt {
		return nil, fmt.Errorf("%w: %d < %d", ErrInvalidExpiry, expiresAt, rec.RegisteredAt)
	}
	oldExpiry := rec.ExpiresAt
	rec.ExpiresAt = expiresAt
	if err := e.state.DomainPut(rec); err != nil {
		return nil, err
	}
	e.emit(NewExpiryOverriddenEvent(rec, oldExpiry))
	return rec.Clone(), nil
}
