package bank

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

var (
	// ErrInsufficientFunds is returned when a debit exceeds the account balance.
	ErrInsufficientFunds = errors.New("bank: insufficient funds")
	// ErrBalanceOverflow is returned when a credit would exceed 256 bits or a
	// balance no longer fits the requested width.
	ErrBalanceOverflow = errors.New("bank: balance overflow")
	errNilStore        = errors.New("bank: balance store not configured")
)

// BalanceStore persists native balances keyed by 20-byte identity.
type BalanceStore interface {
	BalanceGet(addr [20]byte) (*uint256.Int, error)
	BalancePut(addr [20]byte, amount *uint256.Int) error
}

// Ledger moves native base units between identities.
type Ledger struct {
	store BalanceStore
}

// NewLedger wraps the supplied store.
func NewLedger(store BalanceStore) *Ledger {
	return &Ledger{store: store}
}

// Balance returns the current balance of addr. Unknown accounts hold zero.
func (l *Ledger) Balance(addr [20]byte) (*uint256.Int, error) {
	if l == nil || l.store == nil {
		return nil, errNilStore
	}
	bal, err := l.store.BalanceGet(addr)
	if err != nil {
		return nil, err
	}
	if bal == nil {
		return new(uint256.Int), nil
	}
	return bal.Clone(), nil
}

// Credit mints amount into addr.
func (l *Ledger) Credit(addr [20]byte, amount uint64) error {
	bal, err := l.Balance(addr)
	if err != nil {
		return err
	}
	next, overflow := new(uint256.Int).AddOverflow(bal, uint256.NewInt(amount))
	if overflow {
		return ErrBalanceOverflow
	}
	return l.store.BalancePut(addr, next)
}

// Transfer debits from and credits to. Nothing is written when from cannot
// cover amount.
func (l *Ledger) Transfer(from, to [20]byte, amount uint64) error {
	src, err := l.Balance(from)
	if err != nil {
		return err
	}
	value := uint256.NewInt(amount)
	if src.Lt(value) {
		return fmt.Errorf("%w: balance %s, need %d", ErrInsufficientFunds, src.Dec(), amount)
	}
	if amount == 0 || from == to {
		return nil
	}
	dst, err := l.Balance(to)
	if err != nil {
		return err
	}
	credited, overflow := new(uint256.Int).AddOverflow(dst, value)
	if overflow {
		return ErrBalanceOverflow
	}
	if err := l.store.BalancePut(from, new(uint256.Int).Sub(src, value)); err != nil {
		return err
	}
	return l.store.BalancePut(to, credited)
}
