package registrar

import (
	"errors"

	"caregistrar/native/bank"
	"caregistrar/native/names"
)

var errorCodes = []struct {
	err  error
	code string
}{
	{names.ErrInvalidDomainLength, "invalid_domain_length"},
	{names.ErrInvalidRegisterYears, "invalid_register_years"},
	{names.ErrTooManyAddresses, "too_many_addresses"},
	{names.ErrInvalidAddress, "invalid_address"},
	{names.ErrDomainAlreadyRegistered, "domain_already_registered"},
	{names.ErrDomainNotFound, "domain_not_found"},
	{names.ErrDomainExpiredBeyondGracePeriod, "domain_expired_beyond_grace_period"},
	{names.ErrDomainNotAvailableForPurchase, "domain_not_available_for_purchase"},
	{names.ErrDomainExpired, "domain_expired"},
	{names.ErrNotDomainOwner, "not_domain_owner"},
	{names.ErrInvalidPriceFeed, "invalid_price_feed"},
	{names.ErrMathOverflow, "math_overflow"},
	{names.ErrInsufficientPayment, "insufficient_payment"},
	{bank.ErrInsufficientFunds, "insufficient_payment"},
	{names.ErrRegistryInitialized, "registry_initialized"},
	{names.ErrRegistryNotInitialized, "registry_not_initialized"},
	{names.ErrInvalidGracePeriod, "invalid_grace_period"},
	{names.ErrNotRegistryAuthority, "not_registry_authority"},
	{names.ErrInvalidExpiry, "invalid_expiry"},
	{names.ErrModulePaused, "module_paused"},
	{bank.ErrBalanceOverflow, "math_overflow"},
}

// Code returns the stable machine-readable code for err, or "internal" when
// err matches none of the registry's error kinds.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, entry := range errorCodes {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return "internal"
}
