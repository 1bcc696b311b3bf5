package names

import (
	"fmt"
	"strings"
)

const (
	// ModuleName is the pause-guard key for lifecycle mutations.
	ModuleName = "names"

	// SecondsPerYear is the registration unit (365 days).
	SecondsPerYear int64 = 31_536_000

	MinNameLength    = 1
	MaxNameLength    = 253
	MinYears         = 1
	MaxYears         = 99
	MaxAddresses     = 10
	MaxAddressLength = 64
)

// ResolvedAddress is one (chain, address) pair a domain resolves to.
type ResolvedAddress struct {
	ChainID uint8  `json:"chainId"`
	Address string `json:"address"`
}

// DomainRecord is the persisted state of a registered name.
type DomainRecord struct {
	Name         string
	Owner        [20]byte
	RegisteredAt int64
	ExpiresAt    int64
	Addresses    []ResolvedAddress
}

// Clone returns a deep copy of the record.
func (r *DomainRecord) Clone() *DomainRecord {
	if r == nil {
		return nil
	}
	out := *r
	if r.Addresses != nil {
		out.Addresses = make([]ResolvedAddress, len(r.Addresses))
		copy(out.Addresses, r.Addresses)
	}
	return &out
}

// RegistryConfig is the singleton registry policy.
type RegistryConfig struct {
	Authority          [20]byte
	BasePriceUSDCents  uint64
	GracePeriodSeconds int64
	DomainsRegistered  uint64
	Paused             bool
}

// Clone returns a copy of the configuration.
func (c *RegistryConfig) Clone() *RegistryConfig {
	if c == nil {
		return nil
	}
	out := *c
	return &out
}

// IsPaused implements common.PauseView.
func (c *RegistryConfig) IsPaused(module string) bool {
	return c != nil && c.Paused && module == ModuleName
}

// Receipt summarises the outcome of a lifecycle operation.
type Receipt struct {
	Record    *DomainRecord
	Fee       uint64
	OldExpiry int64
	NewExpiry int64
	Phase     Phase
}

// ValidateName checks the byte length of a domain name. Names are opaque byte
// strings; no case folding or normalisation is applied.
func ValidateName(name string) error {
	if l := len(name); l < MinNameLength || l > MaxNameLength {
		return fmt.Errorf("%w: %d bytes", ErrInvalidDomainLength, l)
	}
	return nil
}

// ValidateYears checks the requested registration duration.
func ValidateYears(years uint64) error {
	if years < MinYears || years > MaxYears {
		return fmt.Errorf("%w: %d", ErrInvalidRegisterYears, years)
	}
	return nil
}

// ValidateAddresses checks the resolved address list of a record.
func ValidateAddresses(addrs []ResolvedAddress) error {
	if len(addrs) > MaxAddresses {
		return fmt.Errorf("%w: %d > %d", ErrTooManyAddresses, len(addrs), MaxAddresses)
	}
	for i, addr := range addrs {
		if strings.TrimSpace(addr.Address) == "" || len(addr.Address) > MaxAddressLength {
			return fmt.Errorf("%w: entry %d", ErrInvalidAddress, i)
		}
	}
	return nil
}

func cloneAddresses(addrs []ResolvedAddress) []ResolvedAddress {
	out := make([]ResolvedAddress, len(addrs))
	copy(out, addrs)
	return out
}
