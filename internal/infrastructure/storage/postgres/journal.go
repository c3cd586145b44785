package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/klauspost/compress/zstd"

	"specforge/internal/domain/importer"
)

// CompressionAlgo specifies the compression algorithm used.
type CompressionAlgo string

const (
	CompressionNone CompressionAlgo = "none"
	CompressionZstd CompressionAlgo = "zstd"
)

const journalTable = "specforge_import_log"

// JournalDDL creates the import journal table.
const JournalDDL = `CREATE TABLE IF NOT EXISTS ` + journalTable + ` (
	batch_id          text PRIMARY KEY,
	entity            text NOT NULL,
	loaded            integer NOT NULL,
	updated           integer NOT NULL,
	rejected          integer NOT NULL,
	failed            integer NOT NULL,
	result            jsonb,
	result_compressed bytea,
	compression_algo  text NOT NULL,
	created_at        timestamptz NOT NULL
)`

// JournalEntry is one committed import batch.
type JournalEntry struct {
	BatchID          string          `db:"batch_id"`
	Entity           string          `db:"entity"`
	Loaded           int             `db:"loaded"`
	Updated          int             `db:"updated"`
	Rejected         int             `db:"rejected"`
	Failed           int             `db:"failed"`
	Result           json.RawMessage `db:"result"`
	ResultCompressed []byte          `db:"result_compressed"`
	CompressionAlgo  CompressionAlgo `db:"compression_algo"`
	CreatedAt        time.Time       `db:"created_at"`
}

// Journal records import results in the batch's own transaction, so a
// rolled-back batch leaves no entry.
type Journal struct {
	txManager         *TxManager
	encoder           *zstd.Encoder
	decoder           *zstd.Decoder
	compressThreshold int
	now               func() time.Time
}

var _ importer.Journal = (*Journal)(nil)

// NewJournal creates an import journal.
func NewJournal(txManager *TxManager) (*Journal, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Journal{
		txManager:         txManager,
		encoder:           encoder,
		decoder:           decoder,
		compressThreshold: 10 * 1024,
		now:               time.Now,
	}, nil
}

// EnsureTable creates the journal table.
func (j *Journal) EnsureTable(ctx context.Context) error {
	_, err := j.txManager.GetQuerier(ctx).Exec(ctx, JournalDDL)
	return err
}

// Record stores a batch result. Large results (many itemized errors or
// fuzzy matches) are zstd compressed.
func (j *Journal) Record(ctx context.Context, res *importer.Result) error {
	sql, args, err := j.insertQuery(res)
	if err != nil {
		return err
	}
	if _, err := j.txManager.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("record import %s: %w", res.BatchID, err)
	}
	return nil
}

func (j *Journal) insertQuery(res *importer.Result) (string, []any, error) {
	payload, err := json.Marshal(res)
	if err != nil {
		return "", nil, fmt.Errorf("marshal result: %w", err)
	}

	var compressed []byte
	algo := CompressionNone
	if len(payload) > j.compressThreshold {
		compressed = j.encoder.EncodeAll(payload, nil)
		payload = nil
		algo = CompressionZstd
	}

	return Builder().
		Insert(journalTable).
		Columns("batch_id", "entity", "loaded", "updated", "rejected", "failed",
			"result", "result_compressed", "compression_algo", "created_at").
		Values(res.BatchID, res.Entity, res.Loaded, res.Updated, res.Rejected, res.Failed,
			payload, compressed, algo, j.now().UTC()).
		ToSql()
}

// Recent returns the latest journal entries, newest first, optionally for
// one entity. Compressed results are inflated.
func (j *Journal) Recent(ctx context.Context, entity string, limit int) ([]importer.Result, error) {
	q := Builder().
		Select("batch_id", "entity", "loaded", "updated", "rejected", "failed",
			"result", "result_compressed", "compression_algo", "created_at").
		From(journalTable).
		OrderBy("created_at DESC").
		Limit(uint64(limit))
	if entity != "" {
		q = q.Where(squirrel.Eq{"entity": entity})
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := j.txManager.GetQuerier(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var out []importer.Result
	for rows.Next() {
		var e JournalEntry
		if err := rows.Scan(&e.BatchID, &e.Entity, &e.Loaded, &e.Updated, &e.Rejected, &e.Failed,
			&e.Result, &e.ResultCompressed, &e.CompressionAlgo, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		res, err := j.decode(e)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func (j *Journal) decode(e JournalEntry) (importer.Result, error) {
	payload := []byte(e.Result)
	if e.CompressionAlgo == CompressionZstd && len(e.ResultCompressed) > 0 {
		inflated, err := j.decoder.DecodeAll(e.ResultCompressed, nil)
		if err != nil {
			return importer.Result{}, fmt.Errorf("decompress %s: %w", e.BatchID, err)
		}
		payload = inflated
	}
	var res importer.Result
	if err := json.Unmarshal(payload, &res); err != nil {
		return importer.Result{}, fmt.Errorf("decode %s: %w", e.BatchID, err)
	}
	return res, nil
}
