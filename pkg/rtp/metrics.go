package rtp

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsConfig конфигурация Prometheus метрик RTP конвейера
type MetricsConfig struct {
	// Namespace префикс метрик
	Namespace string
	// Subsystem подсистема метрик
	Subsystem string
}

// DefaultMetricsConfig возвращает конфигурацию по умолчанию
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "rcs_media",
		Subsystem: "rtp",
	}
}

// Metrics Prometheus метрики RTP потоков и процессоров.
// Все методы безопасны для nil получателя: без метрик ничего не пишется.
type Metrics struct {
	packetsSent      prometheus.Counter
	packetsReceived  prometheus.Counter
	bytesSent        prometheus.Counter
	bytesReceived    prometheus.Counter
	packetsDropped   *prometheus.CounterVec
	rtcpPackets      *prometheus.CounterVec
	processorsActive *prometheus.GaugeVec
	buffersProcessed *prometheus.CounterVec
	codecFailures    *prometheus.CounterVec
}

// NewMetrics регистрирует метрики в переданном registerer.
// Тесты передают собственный prometheus.NewRegistry().
func NewMetrics(reg prometheus.Registerer, config MetricsConfig) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		packetsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "packets_sent_total",
			Help:      "Количество отправленных RTP пакетов",
		}),
		packetsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "packets_received_total",
			Help:      "Количество принятых RTP пакетов",
		}),
		bytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "bytes_sent_total",
			Help:      "Объем отправленной RTP полезной нагрузки",
		}),
		bytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "bytes_received_total",
			Help:      "Объем принятой RTP полезной нагрузки",
		}),
		packetsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "packets_dropped_total",
			Help:      "Отброшенные входящие пакеты по причинам",
		}, []string{"reason"}),
		rtcpPackets: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "rtcp_packets_total",
			Help:      "RTCP пакеты по направлению",
		}, []string{"direction"}),
		processorsActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "processors_active",
			Help:      "Количество работающих процессоров",
		}, []string{"stream"}),
		buffersProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "buffers_processed_total",
			Help:      "Буферы, прошедшие цепочку кодеков и записанные в выходной поток",
		}, []string{"stream"}),
		codecFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "codec_failures_total",
			Help:      "Фатальные ошибки цепочки кодеков",
		}, []string{"stream"}),
	}
}

// Причины отбрасывания входящих пакетов
const (
	dropReasonMalformed = "malformed"
	dropReasonPayload   = "filtered_payload_type"
	dropReasonStale     = "stale_sequence"
	dropReasonDuplicate = "duplicate_sequence"
)

func (m *Metrics) packetSent(payloadLen int) {
	if m == nil {
		return
	}
	m.packetsSent.Inc()
	m.bytesSent.Add(float64(payloadLen))
}

func (m *Metrics) packetReceived(payloadLen int) {
	if m == nil {
		return
	}
	m.packetsReceived.Inc()
	m.bytesReceived.Add(float64(payloadLen))
}

func (m *Metrics) packetDropped(reason string) {
	if m == nil {
		return
	}
	m.packetsDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) rtcpPacket(direction string) {
	if m == nil {
		return
	}
	m.rtcpPackets.WithLabelValues(direction).Inc()
}

func (m *Metrics) processorStarted(stream string) {
	if m == nil {
		return
	}
	m.processorsActive.WithLabelValues(stream).Inc()
}

func (m *Metrics) processorStopped(stream string) {
	if m == nil {
		return
	}
	m.processorsActive.WithLabelValues(stream).Dec()
}

func (m *Metrics) bufferProcessed(stream string) {
	if m == nil {
		return
	}
	m.buffersProcessed.WithLabelValues(stream).Inc()
}

func (m *Metrics) codecFailure(stream string) {
	if m == nil {
		return
	}
	m.codecFailures.WithLabelValues(stream).Inc()
}
