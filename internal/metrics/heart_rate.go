package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"screen-hr-sync/internal/models"
)

// LatestHeartRates reports the most recent reading of every device
type LatestHeartRates interface {
	Devices() []string
	LatestFor(deviceName string) (models.HeartRateEvent, bool)
}

// heartRateCollector reads the live values at scrape time
type heartRateCollector struct {
	src  LatestHeartRates
	desc *prometheus.Desc
}

func (c *heartRateCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *heartRateCollector) Collect(ch chan<- prometheus.Metric) {
	for _, device := range c.src.Devices() {
		event, ok := c.src.LatestFor(device)
		if !ok {
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, event.HeartRate, device)
	}
}

// WatchHeartRate exports the latest reading per device as heart_rate_bpm.
func (m *Metrics) WatchHeartRate(src LatestHeartRates) error {
	return m.registry.Register(&heartRateCollector{
		src: src,
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(m.namespace, "", "heart_rate_bpm"),
			"Latest heart rate per device in beats per minute",
			[]string{"device"}, nil,
		),
	})
}
