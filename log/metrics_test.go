package log

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestLoggingIncrementsEventCounter(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithHandler(slog.NewJSONHandler(&buf, nil)).Module("statecache")

	before := testutil.ToFloat64(eventsByLevel.WithLabelValues("info", "statecache"))
	l.Info("regen cache hit")
	after := testutil.ToFloat64(eventsByLevel.WithLabelValues("info", "statecache"))

	require.Equal(t, before+1, after)
}
