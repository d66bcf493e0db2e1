package prometheus

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "shortlink"

// Label values shared by the service and the HTTP layer.
const (
	KindGenerated = "generated"
	KindAlias     = "alias"

	ResultFound    = "found"
	ResultNotFound = "not_found"
	ResultError    = "error"

	ResultApplied = "applied"
	ResultDropped = "dropped"
	ResultFailed  = "failed"

	ResultOK = "ok"
)

// Metrics holds the service's collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	LinksCreated   *prometheus.CounterVec
	CodeCollisions prometheus.Counter
	Redirects      *prometheus.CounterVec
	Clicks         *prometheus.CounterVec
	QRCodes        *prometheus.CounterVec
	HTTPDuration   *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LinksCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "links_created_total",
			Help:      "Short links created, by code kind.",
		}, []string{"kind"}),
		CodeCollisions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "code_collisions_total",
			Help:      "Generated codes rejected because they were already taken.",
		}),
		Redirects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redirects_total",
			Help:      "Short link resolutions, by result.",
		}, []string{"result"}),
		Clicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clicks_total",
			Help:      "Click events handled by the click pipeline, by result.",
		}, []string{"result"}),
		QRCodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "qr_codes_total",
			Help:      "QR code renderings, by result.",
		}, []string{"result"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency, by method, route and status.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"method", "route", "status"}),
	}

	reg.MustRegister(m.LinksCreated, m.CodeCollisions, m.Redirects, m.Clicks, m.QRCodes, m.HTTPDuration)
	return m
}

func (m *Metrics) LinkCreated(kind string) {
	if m == nil {
		return
	}
	m.LinksCreated.WithLabelValues(kind).Inc()
}

func (m *Metrics) CodeCollision() {
	if m == nil {
		return
	}
	m.CodeCollisions.Inc()
}

func (m *Metrics) Redirect(result string) {
	if m == nil {
		return
	}
	m.Redirects.WithLabelValues(result).Inc()
}

func (m *Metrics) Click(result string) {
	if m == nil {
		return
	}
	m.Clicks.WithLabelValues(result).Inc()
}

func (m *Metrics) QRCode(result string) {
	if m == nil {
		return
	}
	m.QRCodes.WithLabelValues(result).Inc()
}

// ObserveRequest records one served request. route is the matched pattern, not the raw path.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
