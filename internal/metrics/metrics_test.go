package metrics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectors(t *testing.T) {
	m := New()
	reg := prometheus.NewRegistry()
	m.MustRegister(reg)

	m.AddRecords("Task", "loaded", 3)
	m.AddRecords("Task", "loaded", 0)
	m.AddRecords("Task", "rejected", 1)
	m.FuzzyMatch("Project")
	m.FuzzyMatch("Project")
	m.Unresolved("Employee")
	m.ObserveCompile(20*time.Millisecond, 4, nil)
	m.ObserveCompile(time.Millisecond, 5, errors.New("boom"))

	assert.Equal(t, 3.0, testutil.ToFloat64(m.records.WithLabelValues("Task", "loaded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.records.WithLabelValues("Task", "rejected")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.fuzzyMatches.WithLabelValues("Project")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.unresolvedFKs.WithLabelValues("Employee")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.schemaVersion), "failed compiles keep the version")

	n, err := testutil.GatherAndCount(reg, "specforge_schema_compile_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPoolCollector(t *testing.T) {
	stats := PoolStats{TotalConns: 4, AcquiredConns: 1, IdleConns: 3, MaxConns: 10, AcquireCount: 7, AcquireDuration: 1500 * time.Millisecond}
	c := NewPoolCollector(func() PoolStats { return stats })
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))

	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	expected := `
# HELP specforge_db_pool_acquired_connections Connections currently in use.
# TYPE specforge_db_pool_acquired_connections gauge
specforge_db_pool_acquired_connections 1
# HELP specforge_db_pool_acquire_duration_seconds_total Time spent waiting for connections.
# TYPE specforge_db_pool_acquire_duration_seconds_total counter
specforge_db_pool_acquire_duration_seconds_total 1.5
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"specforge_db_pool_acquired_connections", "specforge_db_pool_acquire_duration_seconds_total"))

	// values are read on every scrape
	stats.AcquiredConns = 2
	assert.Equal(t, 1, testutil.CollectAndCount(c, "specforge_db_pool_acquired_connections"))
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(strings.Replace(expected, "connections 1\n", "connections 2\n", 1)),
		"specforge_db_pool_acquired_connections", "specforge_db_pool_acquire_duration_seconds_total"))
}
