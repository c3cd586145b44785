// Package backup dumps every entity as zstd compressed JSON lines and
// replays such a dump through the importer.
package backup

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"specforge/internal/core/apperror"
	"specforge/internal/domain"
	"specforge/internal/domain/exchange"
	"specforge/internal/domain/importer"
	"specforge/pkg/logger"
)

// FormatVersion identifies the line layout.
const FormatVersion = 1

// Header is the first line of a dump.
type Header struct {
	Format        int       `json:"format"`
	SchemaVersion int64     `json:"schemaVersion"`
	CreatedAt     time.Time `json:"createdAt"`
	// Entities lists the dumped entities in dependency order.
	Entities []string `json:"entities"`
}

// line is one record of a dump.
type line struct {
	Entity string        `json:"entity"`
	Record domain.Record `json:"record"`
}

// Writer streams dumps.
type Writer struct {
	exporter *exchange.Exporter
	schemas  exchange.SchemaSource
	now      func() time.Time
}

// NewWriter creates a dump writer.
func NewWriter(schemas exchange.SchemaSource, exporter *exchange.Exporter) *Writer {
	return &Writer{exporter: exporter, schemas: schemas, now: time.Now}
}

// Write dumps every clean record in dependency order to w.
func (bw *Writer) Write(ctx context.Context, w io.Writer) (*Header, error) {
	batches, err := bw.exporter.ExportAll(ctx, exchange.Options{})
	if err != nil {
		return nil, err
	}

	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	out := json.NewEncoder(enc)

	h := &Header{Format: FormatVersion, CreatedAt: bw.now().UTC()}
	if sc := bw.schemas.Current(); sc != nil {
		h.SchemaVersion = sc.Version
	}
	for _, b := range batches {
		h.Entities = append(h.Entities, b.Entity)
	}
	if err := out.Encode(h); err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("write header: %w", err)
	}

	total := 0
	for _, b := range batches {
		for _, rec := range b.Records {
			if err := out.Encode(line{Entity: b.Entity, Record: rec}); err != nil {
				_ = enc.Close()
				return nil, fmt.Errorf("write %s record: %w", b.Entity, err)
			}
			total++
		}
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("flush zstd stream: %w", err)
	}
	logger.Info(ctx, "backup written", "entities", len(batches), "records", total)
	return h, nil
}

// WriteFile dumps into a new timestamped file in dir and returns its path.
func (bw *Writer) WriteFile(ctx context.Context, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}
	name := filepath.Join(dir, fmt.Sprintf("specforge-%s.jsonl.zst", bw.now().UTC().Format("20060102T150405Z")))
	f, err := os.Create(name)
	if err != nil {
		return "", fmt.Errorf("create backup file: %w", err)
	}
	bufw := bufio.NewWriter(f)
	if _, err := bw.Write(ctx, bufw); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return "", err
	}
	if err := bufw.Flush(); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write backup file: %w", err)
	}
	return name, f.Close()
}

// Loader is the part of the importer a restore needs.
type Loader interface {
	LoadAll(ctx context.Context, batches []importer.Batch) ([]*importer.Result, error)
}

// RestoreOptions control how a dump is replayed.
type RestoreOptions struct {
	AcceptQL int
	DryRun   bool
}

// Reader replays dumps.
type Reader struct {
	loader Loader
}

// NewReader creates a dump reader.
func NewReader(loader Loader) *Reader {
	return &Reader{loader: loader}
}

// Read decodes a dump into per-entity batches in the recorded order.
func Read(r io.Reader) (*Header, []importer.Batch, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer dec.Close()

	in := json.NewDecoder(dec)
	var h Header
	if err := in.Decode(&h); err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	if h.Format != FormatVersion {
		return nil, nil, fmt.Errorf("unsupported backup format %d", h.Format)
	}

	index := make(map[string]int, len(h.Entities))
	batches := make([]importer.Batch, len(h.Entities))
	for i, name := range h.Entities {
		index[name] = i
		batches[i] = importer.Batch{Entity: name}
	}
	for {
		var l line
		err := in.Decode(&l)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read record: %w", err)
		}
		i, ok := index[l.Entity]
		if !ok {
			return nil, nil, fmt.Errorf("record of %s not listed in header", l.Entity)
		}
		batches[i].Records = append(batches[i].Records, l.Record)
	}
	return &h, batches, nil
}

// Restore replays a dump through the importer in dependency order.
func (br *Reader) Restore(ctx context.Context, r io.Reader, opts RestoreOptions) ([]*importer.Result, error) {
	h, batches, err := Read(r)
	if err != nil {
		return nil, apperror.NewValidation("invalid backup").WithCause(err)
	}
	for i := range batches {
		batches[i].AcceptQL = opts.AcceptQL
		batches[i].DryRun = opts.DryRun
	}
	logger.Info(ctx, "restoring backup", "schema_version", h.SchemaVersion, "created_at", h.CreatedAt, "entities", len(batches))
	return br.loader.LoadAll(ctx, batches)
}

// RestoreFile replays a dump file.
func (br *Reader) RestoreFile(ctx context.Context, path string, opts RestoreOptions) ([]*importer.Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open backup: %w", err)
	}
	defer f.Close()
	return br.Restore(ctx, bufio.NewReader(f), opts)
}
