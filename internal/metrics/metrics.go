// Package metrics collects boot and module load telemetry.
package metrics

import (
	"net/http"
	"time"

	"github.com/nfps-dev/nfp-bootloader/internal/loader"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nfp"

// Collector owns a private registry. A nil *Collector records nothing.
type Collector struct {
	registry *prometheus.Registry

	boots        *prometheus.CounterVec
	bootDuration prometheus.Histogram
	bootState    prometheus.Gauge
	loads        *prometheus.CounterVec
	moduleBytes  prometheus.Histogram
}

func NewCollector() *Collector {
	c := &Collector{registry: prometheus.NewRegistry()}

	c.boots = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "boots_total",
			Help:      "Boot attempts by result",
		},
		[]string{"result"},
	)
	c.bootDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "boot_duration_seconds",
			Help:      "Time from connecting to connected or failed",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
	)
	c.bootState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "boot_state",
			Help:      "Current boot state (0=idle, 1=connecting, 2=connected, 3=failed)",
		},
	)
	c.loads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "module_loads_total",
			Help:      "Module loads by package and result",
		},
		[]string{"package", "result"},
	)
	c.moduleBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "module_bytes",
			Help:      "Size of loaded module code",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 8), // 1KiB to 16MiB
		},
	)

	c.registry.MustRegister(
		c.boots,
		c.bootDuration,
		c.bootState,
		c.loads,
		c.moduleBytes,
		prometheus.NewGoCollector(),
	)
	return c
}

func result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// ObserveBoot records a finished boot attempt.
func (c *Collector) ObserveBoot(elapsed time.Duration, err error) {
	if c == nil {
		return
	}
	c.boots.WithLabelValues(result(err)).Inc()
	c.bootDuration.Observe(elapsed.Seconds())
}

func (c *Collector) SetBootState(state int) {
	if c == nil {
		return
	}
	c.bootState.Set(float64(state))
}

// ObserveLoad implements loader.Observer.
func (c *Collector) ObserveLoad(pkg loader.Package, m *loader.Module, err error) {
	if c == nil {
		return
	}
	c.loads.WithLabelValues(pkg.ID, result(err)).Inc()
	if m != nil {
		c.moduleBytes.Observe(float64(len(m.Code)))
	}
}

func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
