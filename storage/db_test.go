package storage

import (
	"errors"
	"path/filepath"
	"testing"
)

func backends(t *testing.T) map[string]Database {
	t.Helper()
	dir := t.TempDir()
	level, err := NewLevelDB(filepath.Join(dir, "level"))
	if err != nil {
		t.Fatalf("open leveldb: %v", err)
	}
	bolt, err := NewBoltDB(filepath.Join(dir, "state.db"))
	if err != nil {
		t.Fatalf("open bolt: %v", err)
	}
	dbs := map[string]Database{
		"memory":  NewMemDB(),
		"leveldb": level,
		"bolt":    bolt,
	}
	t.Cleanup(func() {
		for _, db := range dbs {
			_ = db.Close()
		}
	})
	return dbs
}

func TestDatabaseGetMissing(t *testing.T) {
	for name, db := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := db.Get([]byte("missing")); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			ok, err := db.Has([]byte("missing"))
			if err != nil || ok {
				t.Fatalf("expected Has=false, got %v %v", ok, err)
			}
		})
	}
}

func TestDatabaseBatchAppliesAllOps(t *testing.T) {
	for name, db := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if err := db.Put([]byte("a/stale"), []byte("x")); err != nil {
				t.Fatalf("put: %v", err)
			}
			batch := NewBatch()
			batch.Put([]byte("a/1"), []byte("one"))
			batch.Put([]byte("a/2"), []byte("two"))
			batch.Delete([]byte("a/stale"))
			batch.Put([]byte("b/1"), []byte("other"))
			if err := db.Write(batch); err != nil {
				t.Fatalf("write: %v", err)
			}
			value, err := db.Get([]byte("a/2"))
			if err != nil || string(value) != "two" {
				t.Fatalf("unexpected a/2: %q %v", value, err)
			}
			if ok, _ := db.Has([]byte("a/stale")); ok {
				t.Fatalf("expected a/stale to be deleted")
			}

			var keys []string
			err = db.Iterate([]byte("a/"), func(key, value []byte) (bool, error) {
				keys = append(keys, string(key))
				return true, nil
			})
			if err != nil {
				t.Fatalf("iterate: %v", err)
			}
			if len(keys) != 2 || keys[0] != "a/1" || keys[1] != "a/2" {
				t.Fatalf("unexpected keys %v", keys)
			}
		})
	}
}

func TestDatabaseIterateStopsEarly(t *testing.T) {
	for name, db := range backends(t) {
		t.Run(name, func(t *testing.T) {
			batch := NewBatch()
			for _, k := range []string{"p/a", "p/b", "p/c"} {
				batch.Put([]byte(k), []byte(k))
			}
			if err := db.Write(batch); err != nil {
				t.Fatalf("write: %v", err)
			}
			visited := 0
			err := db.Iterate([]byte("p/"), func(key, value []byte) (bool, error) {
				visited++
				return visited < 2, nil
			})
			if err != nil {
				t.Fatalf("iterate: %v", err)
			}
			if visited != 2 {
				t.Fatalf("expected 2 visits, got %d", visited)
			}
		})
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	if _, err := Open("redis", ""); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
	db, err := Open("memory", "")
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	_ = db.Close()
}
