package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/xsync/xsync/internal/models"
)

// SyncCollector records collection, publish and persistence telemetry. It
// satisfies ingestion.Recorder.
type SyncCollector struct {
	collected      *prometheus.CounterVec
	channelFailure *prometheus.CounterVec
	publish        *prometheus.CounterVec
	persist        *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	lastSuccess    *prometheus.GaugeVec
}

// NewSyncCollector creates the sync metrics and registers them with reg.
func NewSyncCollector(reg prometheus.Registerer) (*SyncCollector, error) {
	c := &SyncCollector{
		collected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "interactions_collected_total",
			Help:      "Interactions returned by channel fetchers before deduplication.",
		}, []string{"channel"}),
		channelFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "channel_failures_total",
			Help:      "Channel fetches that yielded no data because of an upstream failure.",
		}, []string{"channel", "reason"}),
		publish: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "publish_total",
			Help:      "Relay publish attempts by outcome.",
		}, []string{"outcome"}),
		persist: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "persist_total",
			Help:      "Interaction persistence results by outcome.",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "run_duration_seconds",
			Help:      "Duration of sync runs.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"trigger", "status"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last run that completed without error.",
		}, []string{"trigger"}),
	}

	for _, col := range []prometheus.Collector{
		c.collected,
		c.channelFailure,
		c.publish,
		c.persist,
		c.runDuration,
		c.lastSuccess,
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *SyncCollector) ChannelCollected(channel models.InteractionType, n int) {
	c.collected.WithLabelValues(string(channel)).Add(float64(n))
}

func (c *SyncCollector) ChannelFailed(channel models.InteractionType, reason string) {
	c.channelFailure.WithLabelValues(string(channel), reason).Inc()
}

func (c *SyncCollector) PublishOutcome(outcome string) {
	c.publish.WithLabelValues(outcome).Inc()
}

func (c *SyncCollector) PersistOutcome(outcome string) {
	c.persist.WithLabelValues(outcome).Inc()
}

func (c *SyncCollector) RunFinished(trigger string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	} else {
		c.lastSuccess.WithLabelValues(trigger).SetToCurrentTime()
	}
	c.runDuration.WithLabelValues(trigger, status).Observe(d.Seconds())
}
