package names

import (
	"errors"

	"caregistrar/native/common"
)

var (
	ErrInvalidDomainLength            = errors.New("names: domain name must be 1-253 bytes")
	ErrInvalidRegisterYears           = errors.New("names: registration years must be 1-99")
	ErrTooManyAddresses               = errors.New("names: too many resolved addresses")
	ErrInvalidAddress                 = errors.New("names: resolved address must be 1-64 bytes")
	ErrDomainAlreadyRegistered        = errors.New("names: domain already registered")
	ErrDomainNotFound                 = errors.New("names: domain not found")
	ErrDomainExpiredBeyondGracePeriod = errors.New("names: domain expired beyond grace period, use buy instead")
	ErrDomainNotAvailableForPurchase  = errors.New("names: domain not available for purchase")
	ErrDomainExpired                  = errors.New("names: domain expired")
	ErrNotDomainOwner                 = errors.New("names: caller is not the domain owner")
	ErrInvalidPriceFeed               = errors.New("names: invalid price feed")
	ErrMathOverflow                   = errors.New("names: math overflow")
	ErrInsufficientPayment            = errors.New("names: insufficient payment")
	ErrRegistryInitialized            = errors.New("names: registry already initialized")
	ErrRegistryNotInitialized         = errors.New("names: registry not initialized")
	ErrInvalidGracePeriod             = errors.New("names: grace period must not be negative")
	ErrNotRegistryAuthority           = errors.New("names: caller is not the registry authority")
	ErrInvalidExpiry                  = errors.New("names: expiry precedes registration")

	// ErrModulePaused is returned by lifecycle mutations while the registry is
	// paused.
	ErrModulePaused = common.ErrModulePaused

	errNilState   = errors.New("names engine: state not configured")
	errNilFeed    = errors.New("names engine: price feed not configured")
	errNilCustody = errors.New("names engine: custody not configured")
)
