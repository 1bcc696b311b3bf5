package bank

import "math"

// Custody holds collected registry fees in a vault identity until the
// registry authority withdraws them.
type Custody struct {
	ledger *Ledger
	vault  [20]byte
}

// NewCustody binds a vault identity to the ledger.
func NewCustody(ledger *Ledger, vault [20]byte) *Custody {
	return &Custody{ledger: ledger, vault: vault}
}

// Vault returns the identity holding collected fees.
func (c *Custody) Vault() [20]byte { return c.vault }

// Collect moves amount from payer into the vault.
func (c *Custody) Collect(from [20]byte, amount uint64) error {
	if c == nil || c.ledger == nil {
		return errNilStore
	}
	return c.ledger.Transfer(from, c.vault, amount)
}

// Disburse pays amount out of the vault.
func (c *Custody) Disburse(to [20]byte, amount uint64) error {
	if c == nil || c.ledger == nil {
		return errNilStore
	}
	return c.ledger.Transfer(c.vault, to, amount)
}

// VaultBalance reports the vault balance. Balances above MaxUint64 saturate
// so a full withdrawal drains the vault in representable chunks.
func (c *Custody) VaultBalance() (uint64, error) {
	if c == nil || c.ledger == nil {
		return 0, errNilStore
	}
	bal, err := c.ledger.Balance(c.vault)
	if err != nil {
		return 0, err
	}
	if !bal.IsUint64() {
		return math.MaxUint64, nil
	}
	return bal.Uint64(), nil
}
