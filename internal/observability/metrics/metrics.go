package metrics

import "github.com/prometheus/client_golang/prometheus"

// MessagingMetrics exposes counters/histograms for inbound and reply flows.
type MessagingMetrics struct {
	inboundTotal  *prometheus.CounterVec
	repliesTotal  *prometheus.CounterVec
	ingestLatency *prometheus.HistogramVec
	replyLatency  prometheus.Histogram
}

func NewMessagingMetrics(reg prometheus.Registerer) *MessagingMetrics {
	m := &MessagingMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "textdesk",
			Subsystem: "messaging",
			Name:      "inbound_total",
			Help:      "Total inbound messages by channel and status",
		}, []string{"channel", "status"}),
		repliesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "textdesk",
			Subsystem: "messaging",
			Name:      "replies_total",
			Help:      "Total automated reply decisions by outcome",
		}, []string{"outcome"}),
		ingestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "textdesk",
			Subsystem: "messaging",
			Name:      "ingest_latency_seconds",
			Help:      "Latency of inbound message ingestion",
			Buckets:   prometheus.DefBuckets,
		}, []string{"channel"}),
		replyLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "textdesk",
			Subsystem: "messaging",
			Name:      "reply_latency_seconds",
			Help:      "End-to-end latency of automated replies",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 45},
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.repliesTotal, m.ingestLatency, m.replyLatency)
	return m
}

func (m *MessagingMetrics) ObserveInbound(channel, status string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(channel, status).Inc()
}

func (m *MessagingMetrics) ObserveReply(outcome string) {
	if m == nil {
		return
	}
	m.repliesTotal.WithLabelValues(outcome).Inc()
}

func (m *MessagingMetrics) ObserveIngestLatency(channel string, seconds float64) {
	if m == nil {
		return
	}
	m.ingestLatency.WithLabelValues(channel).Observe(seconds)
}

func (m *MessagingMetrics) ObserveReplyLatency(seconds float64) {
	if m == nil {
		return
	}
	m.replyLatency.Observe(seconds)
}
