package names

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/holiman/uint256"

	"caregistrar/storage"
)

func TestTxnCommitIsAtomicAndVisible(t *testing.T) {
	db := storage.NewMemDB()
	store := NewStore(db)
	txn := store.Begin()
	rec := &DomainRecord{Name: "atomic", Owner: testAddr(1), RegisteredAt: 10, ExpiresAt: 20}
	if err := txn.DomainCreate(rec); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := txn.BalancePut(testAddr(1), uint256.NewInt(42)); err != nil {
		t.Fatalf("balance put: %v", err)
	}
	if _, ok, _ := txn.DomainGet("atomic"); !ok {
		t.Fatalf("txn should read its own writes")
	}
	if _, ok, _ := store.Begin().DomainGet("atomic"); ok {
		t.Fatalf("uncommitted record visible to another txn")
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := txn.DomainPut(rec); !errors.Is(err, errTxnClosed) {
		t.Fatalf("expected closed txn error, got %v", err)
	}
	reader := store.Begin()
	got, ok, err := reader.DomainGet("atomic")
	if err != nil || !ok || got.ExpiresAt != 20 || got.Owner != testAddr(1) {
		t.Fatalf("unexpected committed record %+v %v", got, err)
	}
	bal, err := reader.BalanceGet(testAddr(1))
	if err != nil || bal.Uint64() != 42 {
		t.Fatalf("unexpected balance %v %v", bal, err)
	}
}

func TestTxnDiscardDropsWrites(t *testing.T) {
	store := NewStore(storage.NewMemDB())
	txn := store.Begin()
	if err := txn.ConfigPut(&RegistryConfig{BasePriceUSDCents: 1}); err != nil {
		t.Fatalf("config put: %v", err)
	}
	txn.Discard()
	if _, ok, _ := store.Begin().ConfigGet(); ok {
		t.Fatalf("discarded config persisted")
	}
}

func TestDomainCreateRejectsDuplicate(t *testing.T) {
	txn := NewStore(storage.NewMemDB()).Begin()
	rec := &DomainRecord{Name: "dup"}
	if err := txn.DomainCreate(rec); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := txn.DomainCreate(rec); !errors.Is(err, ErrDomainAlreadyRegistered) {
		t.Fatalf("expected ErrDomainAlreadyRegistered, got %v", err)
	}
}

func TestStoreRoundTripOnBolt(t *testing.T) {
	db, err := storage.NewBoltDB(filepath.Join(t.TempDir(), "names.db"))
	if err != nil {
		t.Fatalf("open bolt: %v", err)
	}
	defer db.Close()
	store := NewStore(db)
	txn := store.Begin()
	cfg := &RegistryConfig{Authority: testAddr(9), BasePriceUSDCents: 500, GracePeriodSeconds: 86_400, DomainsRegistered: 2, Paused: true}
	if err := txn.ConfigPut(cfg); err != nil {
		t.Fatalf("config put: %v", err)
	}
	for _, name := range []string{"b", "a"} {
		rec := &DomainRecord{
			Name:      name,
			Owner:     testAddr(1),
			ExpiresAt: 100,
			Addresses: []ResolvedAddress{{ChainID: 7, Address: "addr-" + name}},
		}
		if err := txn.DomainPut(rec); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	got, ok, err := store.Begin().ConfigGet()
	if err != nil || !ok || *got != *cfg {
		t.Fatalf("config round trip mismatch %+v %v", got, err)
	}
	var seen []string
	err = store.Domains(func(rec *DomainRecord) (bool, error) {
		seen = append(seen, rec.Name)
		if rec.Addresses[0].ChainID != 7 {
			t.Fatalf("address lost in round trip: %+v", rec.Addresses)
		}
		return true, nil
	})
	if err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if len(seen) != 2 || seen[0] != "a" || seen[1] != "b" {
		t.Fatalf("unexpected iteration order %v", seen)
	}
}
