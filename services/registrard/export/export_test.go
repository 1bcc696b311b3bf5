package export

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	"caregistrar/crypto"
	"caregistrar/native/names"
)

type sliceSource []*names.DomainRecord

func (s sliceSource) Domains(fn func(*names.DomainRecord) (bool, error)) error {
	for _, rec := range s {
		more, err := fn(rec)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}

func TestWriteParquetRoundTrip(t *testing.T) {
	var owner [20]byte
	owner[0] = 0x01
	const now = 1_700_000_000
	src := sliceSource{
		{Name: "alice", Owner: owner, RegisteredAt: now - 10, ExpiresAt: now + 100,
			Addresses: []names.ResolvedAddress{{ChainID: 1, Address: "So1anaAddr"}}},
		{Name: "bob", Owner: owner, RegisteredAt: now - 1000, ExpiresAt: now - 50},
		{Name: "carol", Owner: owner, RegisteredAt: now - 1000, ExpiresAt: now - 500},
	}
	path := filepath.Join(t.TempDir(), "registry.parquet")
	res, err := WriteParquet(path, src, now, 100)
	require.NoError(t, err)
	require.Equal(t, 3, res.Rows)

	fr, err := local.NewLocalFileReader(path)
	require.NoError(t, err)
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, new(Row), 1)
	require.NoError(t, err)
	defer pr.ReadStop()
	require.Equal(t, int64(3), pr.GetNumRows())

	rows := make([]Row, 3)
	require.NoError(t, pr.Read(&rows))
	require.Equal(t, "alice", rows[0].Name)
	require.Equal(t, crypto.FormatIdentity(owner), rows[0].Owner)
	require.Equal(t, "active", rows[0].Phase)
	require.JSONEq(t, `[{"chainId":1,"address":"So1anaAddr"}]`, rows[0].Addresses)
	require.Equal(t, "grace", rows[1].Phase)
	require.Equal(t, "[]", rows[1].Addresses)
	require.Equal(t, "reclaimable", rows[2].Phase)
	require.Equal(t, int64(now-500), rows[2].ExpiresAt)
}

type failingSource struct{}

func (failingSource) Domains(func(*names.DomainRecord) (bool, error)) error {
	return errors.New("iterator broke")
}

func TestWriteParquetPropagatesSourceErrors(t *testing.T) {
	_, err := WriteParquet(filepath.Join(t.TempDir(), "x.parquet"), failingSource{}, 0, 0)
	require.ErrorContains(t, err, "iterator broke")
}
