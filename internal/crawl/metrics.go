package crawl

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Crawl outcomes, used both for Stats and as the "outcome" metric label.
const (
	outcomeFetched     = "fetched"
	outcomeSkipped     = "skipped"
	outcomeHTTPFailed  = "http_failed"
	outcomeMalformed   = "malformed"
	outcomeRetried     = "retried"
	outcomeAbandoned   = "abandoned"
	outcomeBlacklisted = "blacklisted"
	outcomeForeign     = "foreign"
	outcomeInvalid     = "invalid"
)

// Stats is a point-in-time copy of a crawl's counters.
type Stats struct {
	Fetched     int64 `json:"fetched"`
	Skipped     int64 `json:"skipped"`
	HTTPFailed  int64 `json:"http_failed"`
	Malformed   int64 `json:"malformed"`
	Retried     int64 `json:"retried"`
	Abandoned   int64 `json:"abandoned"`
	Blacklisted int64 `json:"blacklisted"`
	Foreign     int64 `json:"foreign"`
	Invalid     int64 `json:"invalid"`
	Triples     int64 `json:"triples"`
}

type counters struct {
	fetched, skipped, httpFailed, malformed, retried atomic.Int64
	abandoned, blacklisted, foreign, invalid, triples atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Fetched:     c.fetched.Load(),
		Skipped:     c.skipped.Load(),
		HTTPFailed:  c.httpFailed.Load(),
		Malformed:   c.malformed.Load(),
		Retried:     c.retried.Load(),
		Abandoned:   c.abandoned.Load(),
		Blacklisted: c.blacklisted.Load(),
		Foreign:     c.foreign.Load(),
		Invalid:     c.invalid.Load(),
		Triples:     c.triples.Load(),
	}
}

// Metrics exports crawl counters to Prometheus.
type Metrics struct {
	resources *prometheus.CounterVec
	triples   prometheus.Counter
}

// NewMetrics registers crawl metrics on reg. A nil registerer yields nil
// Metrics, which the crawler treats as disabled.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}

	m := &Metrics{
		resources: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dngsync",
			Subsystem: "crawl",
			Name:      "resources_total",
			Help:      "Resources visited by the crawler, by outcome",
		}, []string{"outcome"}),
		triples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dngsync",
			Subsystem: "crawl",
			Name:      "triples_total",
			Help:      "Triples written to the crawl sink",
		}),
	}

	for _, c := range []prometheus.Collector{m.resources, m.triples} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) observe(outcome string) {
	if m == nil {
		return
	}

	m.resources.WithLabelValues(outcome).Inc()
}

func (m *Metrics) addTriples(n int) {
	if m == nil {
		return
	}

	m.triples.Add(float64(n))
}
