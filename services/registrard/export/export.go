// Package export writes registry snapshots as parquet files.
package export

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"caregistrar/crypto"
	"caregistrar/native/names"
)

// Row is one exported domain record.
type Row struct {
	Name         string `parquet:"name=name, type=BYTE_ARRAY, convertedtype=UTF8"`
	Owner        string `parquet:"name=owner, type=BYTE_ARRAY, convertedtype=UTF8"`
	RegisteredAt int64  `parquet:"name=registered_at, type=INT64"`
	ExpiresAt    int64  `parquet:"name=expires_at, type=INT64"`
	Phase        string `parquet:"name=phase, type=BYTE_ARRAY, convertedtype=UTF8"`
	Addresses    string `parquet:"name=addresses, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// Source iterates stored records.
type Source interface {
	Domains(fn func(*names.DomainRecord) (bool, error)) error
}

// Result summarises a completed export.
type Result struct {
	Path string
	Rows int
}

// NewRow converts rec into an export row using the phase at now.
func NewRow(rec *names.DomainRecord, now, grace int64) (*Row, error) {
	addrs := rec.Addresses
	if addrs == nil {
		addrs = []names.ResolvedAddress{}
	}
	encoded, err := json.Marshal(addrs)
	if err != nil {
		return nil, fmt.Errorf("export: encode addresses for %q: %w", rec.Name, err)
	}
	return &Row{
		Name:         rec.Name,
		Owner:        crypto.FormatIdentity(rec.Owner),
		RegisteredAt: rec.RegisteredAt,
		ExpiresAt:    rec.ExpiresAt,
		Phase:        names.RecordPhase(rec, now, grace).String(),
		Addresses:    string(encoded),
	}, nil
}

// WriteParquet writes every record in src to path. Phases are derived at now
// using the supplied grace period.
func WriteParquet(path string, src Source, now, grace int64) (*Result, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("export: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(Row), 1)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("export: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	rows := 0
	iterErr := src.Domains(func(rec *names.DomainRecord) (bool, error) {
		row, err := NewRow(rec, now, grace)
		if err != nil {
			return false, err
		}
		if err := pw.Write(row); err != nil {
			return false, fmt.Errorf("export: write row: %w", err)
		}
		rows++
		return true, nil
	})
	if iterErr != nil {
		_ = pw.WriteStop()
		file.Close()
		return nil, iterErr
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return nil, fmt.Errorf("export: finalise parquet: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("export: close parquet: %w", err)
	}
	return &Result{Path: path, Rows: rows}, nil
}
