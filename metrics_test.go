package sftpmirror

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.fetched(10)
		m.skipped("present")
		m.directoryDone(StatusSucceeded)
		m.attempted()
		m.reconnected()
		m.mismatched()
		m.finished(time.Now())
	})
}

func TestMetrics_Register(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.fetched(100)
	m.fetched(50)
	m.skipped("present")
	m.directoryDone(StatusExhausted)
	m.attempted()
	m.reconnected()
	m.mismatched()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.filesFetched))
	assert.Equal(t, 150.0, testutil.ToFloat64(m.bytesFetched))

	expected := `
# HELP sftpmirror_files_fetched_total Files downloaded from the remote host.
# TYPE sftpmirror_files_fetched_total counter
sftpmirror_files_fetched_total 2
# HELP sftpmirror_reconnects_total Session reconnects after connection errors.
# TYPE sftpmirror_reconnects_total counter
sftpmirror_reconnects_total 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"sftpmirror_files_fetched_total", "sftpmirror_reconnects_total"))

	count, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 8, count, "six scalar series plus one child in each vector")
}

func TestMetrics_DoubleRegisterPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)

	assert.Panics(t, func() { NewMetrics(reg) })
}
