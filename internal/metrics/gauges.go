// =============================================================================
// 文件: internal/metrics/gauges.go
// 描述: 实时埋点指标（Counter/Gauge/Histogram），作为会话观察者接入 host / peer
// =============================================================================
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mrcgq/netplay/internal/session"
)

const namespace = "netplay"

// NetplayMetrics 会话事件指标集合，实现 session.Observer
type NetplayMetrics struct {
	// 会话相关
	ActiveSessions prometheus.Gauge
	SessionsTotal  *prometheus.CounterVec
	Rejections     prometheus.Counter

	// 流量相关
	PacketsTotal   *prometheus.CounterVec
	BytesTotal     *prometheus.CounterVec
	PacketSize     *prometheus.HistogramVec
	PacketsDropped *prometheus.CounterVec

	// 可靠性相关
	Deliveries *prometheus.CounterVec

	// 复制相关
	ReplicationCommands *prometheus.CounterVec
	ReplicationBatch    prometheus.Histogram

	// 输入相关
	InputSamples *prometheus.CounterVec
}

var _ session.Observer = (*NetplayMetrics)(nil)

// NewNetplayMetrics 创建指标集合并注册到 registry
func NewNetplayMetrics(registry prometheus.Registerer) *NetplayMetrics {
	m := &NetplayMetrics{
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of currently connected sessions",
		}),

		SessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of session state changes",
		}, []string{"event", "reason"}),

		Rejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_rejections_total",
			Help:      "Total number of rejected connection attempts",
		}),

		PacketsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_total",
			Help:      "Total packets processed",
		}, []string{"kind", "direction"}),

		BytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_total",
			Help:      "Total bytes processed",
		}, []string{"direction"}),

		PacketSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "packet_size_bytes",
			Help:      "Datagram size distribution",
			Buckets:   []float64{16, 32, 64, 128, 256, 512, 1024, 1280},
		}, []string{"direction"}),

		PacketsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_dropped_total",
			Help:      "Total inbound packets dropped",
		}, []string{"reason"}),

		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "resolved_total",
			Help:      "Tracked packets resolved as delivered or lost",
		}, []string{"outcome"}),

		ReplicationCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "commands_total",
			Help:      "Replication commands flushed or replayed after loss",
		}, []string{"action"}),

		ReplicationBatch: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "batch_commands",
			Help:      "Commands per replication packet",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
		}),

		InputSamples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "input",
			Name:      "samples_total",
			Help:      "Input samples applied or discarded by the host",
		}, []string{"result"}),
	}

	registry.MustRegister(
		m.ActiveSessions,
		m.SessionsTotal,
		m.Rejections,
		m.PacketsTotal,
		m.BytesTotal,
		m.PacketSize,
		m.PacketsDropped,
		m.Deliveries,
		m.ReplicationCommands,
		m.ReplicationBatch,
		m.InputSamples,
	)

	return m
}

// SessionOpened 会话建立
func (m *NetplayMetrics) SessionOpened() {
	m.ActiveSessions.Inc()
	m.SessionsTotal.WithLabelValues("opened", "").Inc()
}

// SessionClosed 会话结束
func (m *NetplayMetrics) SessionClosed(reason string) {
	m.ActiveSessions.Dec()
	m.SessionsTotal.WithLabelValues("closed", reason).Inc()
}

// SessionRejected 连接被拒绝
func (m *NetplayMetrics) SessionRejected() {
	m.Rejections.Inc()
}

// PacketSent 发送一个数据报
func (m *NetplayMetrics) PacketSent(kind string, bytes int) {
	m.PacketsTotal.WithLabelValues(kind, "out").Inc()
	m.BytesTotal.WithLabelValues("out").Add(float64(bytes))
	m.PacketSize.WithLabelValues("out").Observe(float64(bytes))
}

// PacketReceived 收到一个可识别的数据报
func (m *NetplayMetrics) PacketReceived(kind string, bytes int) {
	m.PacketsTotal.WithLabelValues(kind, "in").Inc()
	m.BytesTotal.WithLabelValues("in").Add(float64(bytes))
	m.PacketSize.WithLabelValues("in").Observe(float64(bytes))
}

// PacketDropped 丢弃一个入站数据报
func (m *NetplayMetrics) PacketDropped(reason string) {
	m.PacketsDropped.WithLabelValues(reason).Inc()
}

// DeliveryResolved 投递结果
func (m *NetplayMetrics) DeliveryResolved(outcome string) {
	m.Deliveries.WithLabelValues(outcome).Inc()
}

// ReplicationFlushed 刷新一批复制命令
func (m *NetplayMetrics) ReplicationFlushed(commands int) {
	m.ReplicationCommands.WithLabelValues("flushed").Add(float64(commands))
	m.ReplicationBatch.Observe(float64(commands))
}

// ReplicationReplayed 丢失后重新入队的命令
func (m *NetplayMetrics) ReplicationReplayed(commands int) {
	m.ReplicationCommands.WithLabelValues("replayed").Add(float64(commands))
}

// InputApplied 输入批次处理结果
func (m *NetplayMetrics) InputApplied(applied, discarded int) {
	m.InputSamples.WithLabelValues("applied").Add(float64(applied))
	m.InputSamples.WithLabelValues("discarded").Add(float64(discarded))
}
