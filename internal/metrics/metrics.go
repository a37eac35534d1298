// Package metrics exposes persistence-context activity as Prometheus
// collectors. A nil *Recorder is valid and records nothing.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "larder"

// Recorder holds the collectors updated by the persistence engine.
type Recorder struct {
	flushes         prometheus.Counter
	flushDuration   prometheus.Histogram
	actions         *prometheus.CounterVec
	storageCalls    *prometheus.CounterVec
	identityLookups *prometheus.CounterVec
	idBlocks        prometheus.Counter
	unitsOfWork     *prometheus.CounterVec
}

// New creates a Recorder and registers its collectors with reg. An
// already-registered collector of the same name is reused, so several
// factories can share one registry.
func New(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushes_total",
			Help:      "Completed flushes of a persistence context.",
		}),
		flushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_duration_seconds",
			Help:      "Time spent computing and applying one flush.",
			Buckets:   prometheus.DefBuckets,
		}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Storage actions applied by flushes, by kind.",
		}, []string{"kind"}),
		storageCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_calls_total",
			Help:      "Calls made to the storage collaborator, by operation and outcome.",
		}, []string{"op", "outcome"}),
		identityLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "identity_map_lookups_total",
			Help:      "Find lookups against the identity map, by result.",
		}, []string{"result"}),
		idBlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "id_blocks_allocated_total",
			Help:      "Sequence id blocks reserved from storage.",
		}),
		unitsOfWork: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_of_work_total",
			Help:      "Finished units of work, by outcome.",
		}, []string{"outcome"}),
	}
	if reg == nil {
		return r, nil
	}

	var err error
	r.flushes = register(reg, r.flushes, &err)
	r.flushDuration = register(reg, r.flushDuration, &err)
	r.actions = register(reg, r.actions, &err)
	r.storageCalls = register(reg, r.storageCalls, &err)
	r.identityLookups = register(reg, r.identityLookups, &err)
	r.idBlocks = register(reg, r.idBlocks, &err)
	r.unitsOfWork = register(reg, r.unitsOfWork, &err)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C, errp *error) C {
	if *errp != nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		*errp = err
	}
	return c
}

// ObserveFlush records one successful flush.
func (r *Recorder) ObserveFlush(d time.Duration) {
	if r == nil {
		return
	}
	r.flushes.Inc()
	r.flushDuration.Observe(d.Seconds())
}

// ObserveAction counts one applied action of the given kind.
func (r *Recorder) ObserveAction(kind string) {
	if r == nil {
		return
	}
	r.actions.WithLabelValues(kind).Inc()
}

// ObserveStorage counts one storage call.
func (r *Recorder) ObserveStorage(op string, err error) {
	if r == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	r.storageCalls.WithLabelValues(op, outcome).Inc()
}

// ObserveLookup counts an identity-map lookup.
func (r *Recorder) ObserveLookup(hit bool) {
	if r == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	r.identityLookups.WithLabelValues(result).Inc()
}

// ObserveIDBlock counts one reserved id block.
func (r *Recorder) ObserveIDBlock() {
	if r == nil {
		return
	}
	r.idBlocks.Inc()
}

// ObserveUnitOfWork counts a finished unit of work. outcome is
// "committed" or "rolled_back".
func (r *Recorder) ObserveUnitOfWork(outcome string) {
	if r == nil {
		return
	}
	r.unitsOfWork.WithLabelValues(outcome).Inc()
}
