// Package metrics exposes Prometheus instrumentation for the room runtime.
// Every method is safe to call on a nil *Metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the room runtime collectors.
type Metrics struct {
	pollRequests   *prometheus.CounterVec
	pollDuration   prometheus.Histogram
	pushEvents     *prometheus.CounterVec
	mergedMessages prometheus.Counter
	timelineSize   prometheus.Gauge
	uploads        *prometheus.CounterVec
	recordings     *prometheus.CounterVec
	presence       *prometheus.GaugeVec
	syncMode       *prometheus.GaugeVec
}

// New registers the collectors on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		pollRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "roomsync_poll_requests_total",
			Help: "Timeline poll requests by result.",
		}, []string{"result"}),
		pollDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "roomsync_poll_duration_seconds",
			Help:    "Timeline poll request latency.",
			Buckets: prometheus.DefBuckets,
		}),
		pushEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "roomsync_push_events_total",
			Help: "Push channel events received by kind.",
		}, []string{"kind"}),
		mergedMessages: f.NewCounter(prometheus.CounterOpts{
			Name: "roomsync_merged_messages_total",
			Help: "Messages folded into the timeline.",
		}),
		timelineSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "roomsync_timeline_messages",
			Help: "Messages currently displayed.",
		}),
		uploads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "roomsync_uploads_total",
			Help: "Outbound messages by type and result.",
		}, []string{"type", "result"}),
		recordings: f.NewCounterVec(prometheus.CounterOpts{
			Name: "roomsync_voice_recordings_total",
			Help: "Voice recordings delivered to the upload pipeline.",
		}, []string{"result"}),
		presence: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "roomsync_presence_active",
			Help: "Members currently typing or recording.",
		}, []string{"kind"}),
		syncMode: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "roomsync_sync_mode",
			Help: "1 for the current sync mode, 0 otherwise.",
		}, []string{"mode"}),
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObservePoll records one poll request.
func (m *Metrics) ObservePoll(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.pollRequests.WithLabelValues(result(err)).Inc()
	m.pollDuration.Observe(d.Seconds())
}

// PushEvent counts one decoded push event.
func (m *Metrics) PushEvent(kind string) {
	if m == nil {
		return
	}
	m.pushEvents.WithLabelValues(kind).Inc()
}

// Merged records n applied messages and the resulting timeline length.
func (m *Metrics) Merged(n, size int) {
	if m == nil {
		return
	}
	m.mergedMessages.Add(float64(n))
	m.timelineSize.Set(float64(size))
}

// TimelineSize sets the displayed message count.
func (m *Metrics) TimelineSize(size int) {
	if m == nil {
		return
	}
	m.timelineSize.Set(float64(size))
}

// Upload counts one outbound message.
func (m *Metrics) Upload(typ string, err error) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(typ, result(err)).Inc()
}

// Recording counts one finalized voice recording.
func (m *Metrics) Recording(err error) {
	if m == nil {
		return
	}
	m.recordings.WithLabelValues(result(err)).Inc()
}

// Presence sets the active member count of one presence map.
func (m *Metrics) Presence(kind string, n int) {
	if m == nil {
		return
	}
	m.presence.WithLabelValues(kind).Set(float64(n))
}

// SyncMode marks mode as current and every other known mode as inactive.
func (m *Metrics) SyncMode(mode string, all ...string) {
	if m == nil {
		return
	}
	for _, other := range all {
		m.syncMode.WithLabelValues(other).Set(0)
	}
	m.syncMode.WithLabelValues(mode).Set(1)
}
