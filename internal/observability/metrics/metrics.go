package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebhookMetrics exposes counters/histograms for the chat webhook surface.
type WebhookMetrics struct {
	inboundTotal   *prometheus.CounterVec
	outboundTotal  *prometheus.CounterVec
	webhookLatency *prometheus.HistogramVec
}

func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	m := &WebhookMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "citas",
			Subsystem: "webhook",
			Name:      "inbound_total",
			Help:      "Total inbound chat webhook messages",
		}, []string{"message_type", "status"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "citas",
			Subsystem: "webhook",
			Name:      "outbound_total",
			Help:      "Total outbound chat sends",
		}, []string{"status", "kind"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "citas",
			Subsystem: "webhook",
			Name:      "latency_seconds",
			Help:      "Latency of chat webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"message_type"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.outboundTotal, m.webhookLatency)
	return m
}

func (m *WebhookMetrics) ObserveInbound(messageType, status string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(messageType, status).Inc()
}

func (m *WebhookMetrics) ObserveOutbound(status, kind string) {
	if m == nil {
		return
	}
	m.outboundTotal.WithLabelValues(status, kind).Inc()
}

func (m *WebhookMetrics) ObserveLatency(messageType string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(messageType).Observe(seconds)
}

// BookingMetrics counts booking pipeline outcomes.
type BookingMetrics struct {
	finalizedTotal *prometheus.CounterVec
	lostSlotsTotal *prometheus.CounterVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		finalizedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "citas",
			Subsystem: "booking",
			Name:      "finalized_total",
			Help:      "Bookings finalized, by source and payment path",
		}, []string{"source", "paid"}),
		lostSlotsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "citas",
			Subsystem: "booking",
			Name:      "lost_slots_total",
			Help:      "Finalizations aborted because the slot was taken",
		}, []string{"source"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.finalizedTotal, m.lostSlotsTotal)
	return m
}

func (m *BookingMetrics) ObserveFinalized(source string, paid bool) {
	if m == nil {
		return
	}
	label := "false"
	if paid {
		label = "true"
	}
	m.finalizedTotal.WithLabelValues(source, label).Inc()
}

func (m *BookingMetrics) ObserveLostSlot(source string) {
	if m == nil {
		return
	}
	m.lostSlotsTotal.WithLabelValues(source).Inc()
}
