package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	r, err := New(reg)
	require.NoError(t, err)

	r.ObserveFlush(5 * time.Millisecond)
	r.ObserveAction("insert")
	r.ObserveAction("insert")
	r.ObserveAction("delete")
	r.ObserveStorage("load", nil)
	r.ObserveStorage("insert", errors.New("boom"))
	r.ObserveLookup(true)
	r.ObserveLookup(false)
	r.ObserveLookup(false)
	r.ObserveIDBlock()
	r.ObserveUnitOfWork("committed")

	assert.Equal(t, 1.0, testutil.ToFloat64(r.flushes))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.actions.WithLabelValues("insert")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.actions.WithLabelValues("delete")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.storageCalls.WithLabelValues("insert", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.storageCalls.WithLabelValues("load", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.identityLookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.idBlocks))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.unitsOfWork.WithLabelValues("committed")))
}

func TestRecorderSharesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := New(reg)
	require.NoError(t, err)
	b, err := New(reg)
	require.NoError(t, err)

	a.ObserveIDBlock()
	b.ObserveIDBlock()
	assert.Equal(t, 2.0, testutil.ToFloat64(a.idBlocks))
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.ObserveFlush(time.Second)
		r.ObserveAction("insert")
		r.ObserveStorage("load", nil)
		r.ObserveLookup(true)
		r.ObserveIDBlock()
		r.ObserveUnitOfWork("rolled_back")
	})
}

func TestNewWithoutRegistry(t *testing.T) {
	r, err := New(nil)
	require.NoError(t, err)
	r.ObserveIDBlock()
	assert.Equal(t, 1.0, testutil.ToFloat64(r.idBlocks))
}
