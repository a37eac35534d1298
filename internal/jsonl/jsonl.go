// Package jsonl exports stored rows to a JSONL file and imports them back.
// Each line holds one row: {"type": ..., "id": ..., "fields": {...}}.
// Writes are atomic (temp file, fsync, rename) and malformed lines are
// skipped on read.
package jsonl

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mesh-intelligence/larder/pkg/types"
)

// ErrNoDump is returned by Export when the storage cannot list its rows.
var ErrNoDump = errors.New("storage cannot list its rows")

type line struct {
	Type   string          `json:"type"`
	ID     any             `json:"id"`
	Fields json.RawMessage `json:"fields"`
}

// Encode renders one row as a JSON line without the trailing newline.
func Encode(row types.StoredRow) ([]byte, error) {
	fields, err := types.EncodeFields(row.Fields)
	if err != nil {
		return nil, err
	}
	return json.Marshal(line{Type: row.Type, ID: row.ID, Fields: fields})
}

// Decode parses one JSON line. Integral ids become int64.
func Decode(data []byte) (types.StoredRow, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var l line
	if err := dec.Decode(&l); err != nil {
		return types.StoredRow{}, err
	}
	if l.Type == "" {
		return types.StoredRow{}, fmt.Errorf("%w: row without type", types.ErrInvalidEntity)
	}
	id := l.ID
	if n, ok := id.(json.Number); ok {
		v, err := n.Int64()
		if err != nil {
			return types.StoredRow{}, fmt.Errorf("%w: %s", types.ErrInvalidID, n)
		}
		id = v
	}
	key, err := types.NewKey(l.Type, id)
	if err != nil {
		return types.StoredRow{}, err
	}
	fields := types.Fields{}
	if len(l.Fields) > 0 && string(l.Fields) != "null" {
		if fields, err = types.DecodeFields(l.Fields); err != nil {
			return types.StoredRow{}, err
		}
	}
	return types.StoredRow{Type: key.Type, ID: key.ID, Fields: fields}, nil
}

// Read returns the rows in r and how many lines were skipped as
// malformed. Blank lines are ignored.
func Read(r io.Reader) ([]types.StoredRow, int, error) {
	var (
		rows    []types.StoredRow
		skipped int
	)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		data := bytes.TrimSpace(scanner.Bytes())
		if len(data) == 0 {
			continue
		}
		row, err := Decode(data)
		if err != nil {
			skipped++
			continue
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, skipped, fmt.Errorf("scanning: %w", err)
	}
	return rows, skipped, nil
}

// ReadFile reads the rows of the file at path.
func ReadFile(path string) ([]types.StoredRow, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	return Read(f)
}

// WriteFile atomically replaces path with one line per row.
func WriteFile(path string, rows []types.StoredRow) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".jsonl-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	fail := func(err error) error {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}

	w := bufio.NewWriter(tmp)
	if err := Write(w, rows); err != nil {
		return fail(err)
	}
	if err := w.Flush(); err != nil {
		return fail(fmt.Errorf("flushing buffer: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		return fail(fmt.Errorf("syncing temp file: %w", err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// Write writes one line per row to w.
func Write(w io.Writer, rows []types.StoredRow) error {
	for _, row := range rows {
		data, err := Encode(row)
		if err != nil {
			return fmt.Errorf("encoding %s:%v: %w", row.Type, row.ID, err)
		}
		data = append(data, '\n')
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("writing record: %w", err)
		}
	}
	return nil
}

// Export lists every row of storage. It fails with ErrNoDump when the
// storage is not a types.Dumper.
func Export(ctx context.Context, storage types.Storage) ([]types.StoredRow, error) {
	d, ok := storage.(types.Dumper)
	if !ok {
		return nil, ErrNoDump
	}
	return d.Dump(ctx)
}

// Import inserts rows into storage. With a transactional storage either
// every row is inserted or none is.
func Import(ctx context.Context, storage types.Storage, rows []types.StoredRow) error {
	target := storage
	var tx types.StorageTx
	if tr, ok := storage.(types.Transactor); ok {
		var err error
		if tx, err = tr.Begin(ctx); err != nil {
			return fmt.Errorf("beginning import: %w", err)
		}
		defer tx.Rollback()
		target = tx
	}
	for _, row := range rows {
		if _, err := target.Insert(ctx, row.Type, row.ID, row.Fields); err != nil {
			return fmt.Errorf("importing %s:%v: %w", row.Type, row.ID, err)
		}
	}
	if tx != nil {
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing import: %w", err)
		}
	}
	return nil
}
