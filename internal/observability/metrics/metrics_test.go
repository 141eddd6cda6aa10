package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMessagingMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMessagingMetrics(reg)
	m.ObserveInbound("sms", "stored")
	m.ObserveReply("sent")
	m.ObserveIngestLatency("mms", 0.05)
	m.ObserveReplyLatency(2.4)
}

func TestMessagingMetricsNilSafe(t *testing.T) {
	var m *MessagingMetrics
	m.ObserveInbound("sms", "stored")
	m.ObserveReply("suppressed")
	m.ObserveIngestLatency("sms", 0.1)
	m.ObserveReplyLatency(0.1)
}
