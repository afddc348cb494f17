package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// prometheusCollector adapts a Registry to prometheus.Collector by
// snapshotting it on every scrape. Histograms are exported as their five
// summary statistics rather than true Prometheus buckets, matching what
// Histogram itself tracks.
type prometheusCollector struct {
	reg *Registry
}

// NewPrometheusCollector wraps reg so it can be registered with a
// prometheus.Registerer.
func NewPrometheusCollector(reg *Registry) prometheus.Collector {
	return &prometheusCollector{reg: reg}
}

func (c *prometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	// Metric set is dynamic (Registry creates metrics on first use), so
	// Describe intentionally emits nothing; Collect is unchecked.
}

func (c *prometheusCollector) Collect(ch chan<- prometheus.Metric) {
	for name, v := range c.reg.Snapshot() {
		switch val := v.(type) {
		case int64:
			desc := prometheus.NewDesc(sanitizeMetricName(name), name, nil, nil)
			ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(val))
		case map[string]interface{}:
			for stat, sv := range val {
				f, ok := sv.(float64)
				if !ok {
					if i, ok := sv.(int64); ok {
						f = float64(i)
					}
				}
				desc := prometheus.NewDesc(sanitizeMetricName(name+"_"+stat), name+" "+stat, nil, nil)
				ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, f)
			}
		}
	}
}

// sanitizeMetricName rewrites dots (the Registry's usual name separator,
// e.g. "triesync.scheduler.active") into underscores so the name is valid
// Prometheus exposition syntax.
func sanitizeMetricName(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			out[i] = c
		} else {
			out[i] = '_'
		}
	}
	return string(out)
}

// Handler returns an http.Handler serving reg's metrics in Prometheus
// exposition format at whatever path the caller mounts it under.
func Handler(reg *Registry) http.Handler {
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(NewPrometheusCollector(reg))
	return promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})
}
