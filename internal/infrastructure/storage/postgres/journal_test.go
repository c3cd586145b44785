package postgres

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"specforge/internal/domain/importer"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := NewJournal(nil)
	require.NoError(t, err)
	j.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return j
}

func TestJournalInsertQuery(t *testing.T) {
	j := newTestJournal(t)
	res := &importer.Result{Entity: "Task", BatchID: "b1", Loaded: 3, Rejected: 1}

	sql, args, err := j.insertQuery(res)
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO specforge_import_log (batch_id,entity,loaded,updated,rejected,failed,result,result_compressed,compression_algo,created_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)", sql)
	require.Len(t, args, 10)
	assert.Equal(t, CompressionNone, args[8])
	assert.Nil(t, args[7])

	var back importer.Result
	require.NoError(t, json.Unmarshal(args[6].([]byte), &back))
	assert.Equal(t, 3, back.Loaded)
}

func TestJournalCompressesLargeResults(t *testing.T) {
	j := newTestJournal(t)
	res := &importer.Result{Entity: "Task", BatchID: "b2"}
	for i := 0; i < 500; i++ {
		res.Errors = append(res.Errors, importer.RowError{Row: i, Code: "RECORD_REJECTED", Message: strings.Repeat("x", 40)})
	}

	_, args, err := j.insertQuery(res)
	require.NoError(t, err)
	assert.Equal(t, CompressionZstd, args[8])
	assert.Nil(t, args[6])

	back, err := j.decode(JournalEntry{BatchID: "b2", ResultCompressed: args[7].([]byte), CompressionAlgo: CompressionZstd})
	require.NoError(t, err)
	assert.Len(t, back.Errors, 500)
}
