package names

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"caregistrar/storage"
)

var (
	domainPrefix  = []byte("names/domain/")
	configKey     = []byte("names/config")
	balancePrefix = []byte("bank/balance/")

	errTxnClosed = errors.New("names store: transaction already closed")
)

type storedRecord struct {
	Name         string
	Owner        [20]byte
	RegisteredAt uint64
	ExpiresAt    uint64
	Addresses    []ResolvedAddress
}

type storedConfig struct {
	Authority          [20]byte
	BasePriceUSDCents  uint64
	GracePeriodSeconds uint64
	DomainsRegistered  uint64
	Paused             bool
}

func domainKey(name string) []byte {
	key := make([]byte, 0, len(domainPrefix)+len(name))
	key = append(key, domainPrefix...)
	return append(key, name...)
}

func balanceKey(addr [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", balancePrefix, addr[:]))
}

// EncodeRecord returns the canonical RLP encoding of rec.
func EncodeRecord(rec *DomainRecord) ([]byte, error) {
	if rec == nil {
		return nil, fmt.Errorf("names store: nil record")
	}
	addrs := rec.Addresses
	if addrs == nil {
		addrs = []ResolvedAddress{}
	}
	return rlp.EncodeToBytes(storedRecord{
		Name:         rec.Name,
		Owner:        rec.Owner,
		RegisteredAt: uint64(rec.RegisteredAt),
		ExpiresAt:    uint64(rec.ExpiresAt),
		Addresses:    addrs,
	})
}

// DecodeRecord parses a record produced by EncodeRecord.
func DecodeRecord(raw []byte) (*DomainRecord, error) {
	var stored storedRecord
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, fmt.Errorf("names store: decode record: %w", err)
	}
	return &DomainRecord{
		Name:         stored.Name,
		Owner:        stored.Owner,
		RegisteredAt: int64(stored.RegisteredAt),
		ExpiresAt:    int64(stored.ExpiresAt),
		Addresses:    stored.Addresses,
	}, nil
}

// Store persists registry state in a key-value database.
type Store struct {
	db storage.Database
}

// NewStore wraps db.
func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

// Begin opens a staged transaction. Reads see the transaction's own pending
// writes; nothing reaches the database until Commit.
func (s *Store) Begin() *Txn {
	return &Txn{db: s.db, pending: make(map[string][]byte)}
}

// Domains visits every stored record in name order until fn returns false.
func (s *Store) Domains(fn func(*DomainRecord) (bool, error)) error {
	return s.db.Iterate(domainPrefix, func(_, value []byte) (bool, error) {
		rec, err := DecodeRecord(value)
		if err != nil {
			return false, err
		}
		return fn(rec)
	})
}

// Txn is a staged set of writes applied as one atomic batch.
type Txn struct {
	db      storage.Database
	pending map[string][]byte
	closed  bool
}

func (t *Txn) get(key []byte) ([]byte, bool, error) {
	if t.closed {
		return nil, false, errTxnClosed
	}
	if value, ok := t.pending[string(key)]; ok {
		return value, true, nil
	}
	value, err := t.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (t *Txn) put(key, value []byte) error {
	if t.closed {
		return errTxnClosed
	}
	t.pending[string(key)] = value
	return nil
}

// DomainGet loads the record for name.
func (t *Txn) DomainGet(name string) (*DomainRecord, bool, error) {
	raw, ok, err := t.get(domainKey(name))
	if err != nil || !ok {
		return nil, false, err
	}
	rec, err := DecodeRecord(raw)
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// DomainCreate stores a new record and fails if the name is taken.
func (t *Txn) DomainCreate(rec *DomainRecord) error {
	_, exists, err := t.get(domainKey(rec.Name))
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrDomainAlreadyRegistered, rec.Name)
	}
	return t.DomainPut(rec)
}

// DomainPut overwrites the record for rec.Name.
func (t *Txn) DomainPut(rec *DomainRecord) error {
	raw, err := EncodeRecord(rec)
	if err != nil {
		return err
	}
	return t.put(domainKey(rec.Name), raw)
}

// ConfigGet loads the registry configuration.
func (t *Txn) ConfigGet() (*RegistryConfig, bool, error) {
	raw, ok, err := t.get(configKey)
	if err != nil || !ok {
		return nil, false, err
	}
	var stored storedConfig
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, false, fmt.Errorf("names store: decode config: %w", err)
	}
	return &RegistryConfig{
		Authority:          stored.Authority,
		BasePriceUSDCents:  stored.BasePriceUSDCents,
		GracePeriodSeconds: int64(stored.GracePeriodSeconds),
		DomainsRegistered:  stored.DomainsRegistered,
		Paused:             stored.Paused,
	}, true, nil
}

// ConfigPut stores the registry configuration.
func (t *Txn) ConfigPut(cfg *RegistryConfig) error {
	raw, err := rlp.EncodeToBytes(storedConfig{
		Authority:          cfg.Authority,
		BasePriceUSDCents:  cfg.BasePriceUSDCents,
		GracePeriodSeconds: uint64(cfg.GracePeriodSeconds),
		DomainsRegistered:  cfg.DomainsRegistered,
		Paused:             cfg.Paused,
	})
	if err != nil {
		return err
	}
	return t.put(configKey, raw)
}

// BalanceGet implements bank.BalanceStore.
func (t *Txn) BalanceGet(addr [20]byte) (*uint256.Int, error) {
	raw, ok, err := t.get(balanceKey(addr))
	if err != nil {
		return nil, err
	}
	if !ok {
		return new(uint256.Int), nil
	}
	return new(uint256.Int).SetBytes(raw), nil
}

// BalancePut implements bank.BalanceStore.
func (t *Txn) BalancePut(addr [20]byte, amount *uint256.Int) error {
	if amount == nil {
		amount = new(uint256.Int)
	}
	return t.put(balanceKey(addr), amount.Bytes())
}

// Pending reports the number of staged keys.
func (t *Txn) Pending() int { return len(t.pending) }

// Commit writes all staged keys in one batch and closes the transaction.
func (t *Txn) Commit() error {
	if t.closed {
		return errTxnClosed
	}
	t.closed = true
	if len(t.pending) == 0 {
		return nil
	}
	keys := make([]string, 0, len(t.pending))
	for key := range t.pending {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	batch := storage.NewBatch()
	for _, key := range keys {
		batch.Put([]byte(key), t.pending[key])
	}
	t.pending = nil
	return t.db.Write(batch)
}

// Discard drops all staged writes. It is safe to call after Commit.
func (t *Txn) Discard() {
	t.closed = true
	t.pending = nil
}
