package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "cart"

// Load outcomes.
const (
	LoadMissing = "missing"
	LoadOK      = "ok"
	LoadCorrupt = "corrupt"
	LoadError   = "error"
)

// Sync outcomes.
const (
	SyncApplied = "applied"
	SyncIgnored = "ignored"
)

// Metrics records cart session activity. A nil *Metrics is valid and records nothing.
type Metrics struct {
	loads   *prometheus.CounterVec
	saves   *prometheus.CounterVec
	dropped prometheus.Counter
	syncs   *prometheus.CounterVec
	actions *prometheus.CounterVec
}

// New registers the cart metrics on the provided registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	m := &Metrics{
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loads_total",
			Help:      "Cart loads from durable storage by outcome.",
		}, []string{"outcome"}),
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "saves_total",
			Help:      "Cart writes to durable storage by result.",
		}, []string{"result"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_entries_total",
			Help:      "Malformed line items discarded while decoding stored carts.",
		}),
		syncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_events_total",
			Help:      "Change notifications from other contexts by outcome.",
		}, []string{"outcome"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Dispatched cart actions by type.",
		}, []string{"action"}),
	}
	reg.MustRegister(m.loads, m.saves, m.dropped, m.syncs, m.actions)
	return m
}

func (m *Metrics) ObserveLoad(outcome string) {
	if m == nil {
		return
	}
	m.loads.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveSave(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.saves.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveDropped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.dropped.Add(float64(n))
}

func (m *Metrics) ObserveSync(outcome string) {
	if m == nil {
		return
	}
	m.syncs.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveAction(name string) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(name).Inc()
}
