package metrics

import (
	"kibaeon/internal/rooms"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kibaeon"

// StatsFunc reports the number of live rooms and seated players.
type StatsFunc func() (rooms, players int)

type Metrics struct {
	reg        *prometheus.Registry
	ops        *prometheus.CounterVec
	departures prometheus.Counter
}

// New registers the room gauges, operation counters and Go runtime collectors
// on a private registry.
func New(stats StatsFunc) *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "room_operations_total",
			Help:      "Room operations by name and outcome.",
		}, []string{"op", "result"}),
		departures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presence_departures_total",
			Help:      "Users removed from their room after the disconnect grace period.",
		}),
	}
	m.reg.MustRegister(
		m.ops,
		m.departures,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms",
			Help:      "Live rooms.",
		}, func() float64 {
			n, _ := stats()
			return float64(n)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "seated_players",
			Help:      "Users currently in a room.",
		}, func() float64 {
			_, n := stats()
			return float64(n)
		}),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Observe counts one operation. A nil error is recorded as "ok", anything
// else by its error kind.
func (m *Metrics) Observe(op string, err error) {
	result := "ok"
	if err != nil {
		result = rooms.Kind(err)
	}
	m.ops.WithLabelValues(op, result).Inc()
}

func (m *Metrics) Departed() {
	m.departures.Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
