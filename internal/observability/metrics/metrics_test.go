package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestWebhookMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWebhookMetrics(reg)
	m.ObserveInbound("text", "processed")
	m.ObserveOutbound("sent", "template")
	m.ObserveLatency("text", 0.5)
}

func TestBookingMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBookingMetrics(reg)
	m.ObserveFinalized("chat", true)
	m.ObserveLostSlot("directory")
}

func TestMetricsNilSafe(t *testing.T) {
	var w *WebhookMetrics
	w.ObserveInbound("text", "processed")
	w.ObserveOutbound("sent", "text")
	w.ObserveLatency("text", 0.1)

	var b *BookingMetrics
	b.ObserveFinalized("chat", false)
	b.ObserveLostSlot("chat")
}
