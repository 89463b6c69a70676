// =============================================================================
// 文件: internal/metrics/collectors.go
// 描述: Prometheus 指标收集器定义 - 抓取时读取 host / peer / 传输层快照
// =============================================================================
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mrcgq/netplay/internal/session"
	"github.com/mrcgq/netplay/internal/transport"
)

var sessionStates = []session.State{session.Stopped, session.Connecting, session.Connected, session.Listening}

// =============================================================================
// Host 收集器
// =============================================================================

// HostSnapshotter host 快照来源
type HostSnapshotter interface {
	Snapshot() session.Snapshot
}

// HostCollector Host 指标收集器
type HostCollector struct {
	source HostSnapshotter

	// 描述符
	stateDesc           *prometheus.Desc
	capacityDesc        *prometheus.Desc
	connectedDesc       *prometheus.Desc
	availableDesc       *prometheus.Desc
	acceptedDesc        *prometheus.Desc
	rejectedDesc        *prometheus.Desc
	timedOutDesc        *prometheus.Desc
	resetsDesc          *prometheus.Desc
	delayedDestroysDesc *prometheus.Desc

	// 连接相关
	connSilenceDesc     *prometheus.Desc
	connOutstandingDesc *prometheus.Desc
	connPendingLogDesc  *prometheus.Desc
	connDeliveredDesc   *prometheus.Desc
	connLostDesc        *prometheus.Desc
	connLastInputDesc   *prometheus.Desc
	connLatencyDesc     *prometheus.Desc
}

// NewHostCollector 创建 Host 收集器
func NewHostCollector(source HostSnapshotter) *HostCollector {
	subsystem := "host"
	connLabels := []string{"conn_id", "name"}

	return &HostCollector{
		source: source,

		stateDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "state"),
			"Current host state (1 = active)",
			[]string{"state"}, nil,
		),
		capacityDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "capacity"),
			"Maximum number of connections",
			nil, nil,
		),
		connectedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "connections"),
			"Number of connected peers",
			nil, nil,
		),
		availableDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "available_slots"),
			"Number of free connection slots",
			nil, nil,
		),
		acceptedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "accepted_total"),
			"Total accepted connections",
			nil, nil,
		),
		rejectedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "rejected_total"),
			"Total rejected connection attempts",
			nil, nil,
		),
		timedOutDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "timeouts_total"),
			"Total connections closed by silence timeout",
			nil, nil,
		),
		resetsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "resets_total"),
			"Total connections closed by transport reset",
			nil, nil,
		),
		delayedDestroysDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "delayed_destroys"),
			"Pending delayed network destroys",
			nil, nil,
		),

		connSilenceDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "connection_silence_seconds"),
			"Time since the last packet from this peer",
			connLabels, nil,
		),
		connOutstandingDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "connection_outstanding_packets"),
			"Replication packets awaiting acknowledgment",
			connLabels, nil,
		),
		connPendingLogDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "connection_pending_commands"),
			"Replication commands waiting for the next flush",
			connLabels, nil,
		),
		connDeliveredDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "connection_delivered_total"),
			"Replication packets acknowledged by this peer",
			connLabels, nil,
		),
		connLostDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "connection_lost_total"),
			"Replication packets declared lost for this peer",
			connLabels, nil,
		),
		connLastInputDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "connection_last_input"),
			"Sequence of the last applied input sample",
			connLabels, nil,
		),
		connLatencyDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "connection_ack_latency_seconds"),
			"Smoothed time from sending a replication packet to its acknowledgment",
			connLabels, nil,
		),
	}
}

// Describe 实现 prometheus.Collector 接口
func (c *HostCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.stateDesc
	ch <- c.capacityDesc
	ch <- c.connectedDesc
	ch <- c.availableDesc
	ch <- c.acceptedDesc
	ch <- c.rejectedDesc
	ch <- c.timedOutDesc
	ch <- c.resetsDesc
	ch <- c.delayedDestroysDesc
	ch <- c.connSilenceDesc
	ch <- c.connOutstandingDesc
	ch <- c.connPendingLogDesc
	ch <- c.connDeliveredDesc
	ch <- c.connLostDesc
	ch <- c.connLastInputDesc
	ch <- c.connLatencyDesc
}

// Collect 实现 prometheus.Collector 接口
func (c *HostCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.source.Snapshot()
	stats := snap.Stats

	collectState(ch, c.stateDesc, stats.State)

	ch <- prometheus.MustNewConstMetric(c.capacityDesc, prometheus.GaugeValue, float64(stats.Capacity))
	ch <- prometheus.MustNewConstMetric(c.connectedDesc, prometheus.GaugeValue, float64(stats.Connected))
	ch <- prometheus.MustNewConstMetric(c.availableDesc, prometheus.GaugeValue, float64(stats.Available))
	ch <- prometheus.MustNewConstMetric(c.delayedDestroysDesc, prometheus.GaugeValue, float64(stats.DelayedDestroys))

	ch <- prometheus.MustNewConstMetric(c.acceptedDesc, prometheus.CounterValue, float64(stats.Accepted))
	ch <- prometheus.MustNewConstMetric(c.rejectedDesc, prometheus.CounterValue, float64(stats.Rejected))
	ch <- prometheus.MustNewConstMetric(c.timedOutDesc, prometheus.CounterValue, float64(stats.TimedOut))
	ch <- prometheus.MustNewConstMetric(c.resetsDesc, prometheus.CounterValue, float64(stats.Resets))

	// 各连接统计
	for _, conn := range snap.Connections {
		id := strconv.FormatUint(uint64(conn.ID), 10)
		ch <- prometheus.MustNewConstMetric(c.connSilenceDesc, prometheus.GaugeValue,
			conn.Silence.Seconds(), id, conn.Name)
		ch <- prometheus.MustNewConstMetric(c.connOutstandingDesc, prometheus.GaugeValue,
			float64(conn.Outstanding), id, conn.Name)
		ch <- prometheus.MustNewConstMetric(c.connPendingLogDesc, prometheus.GaugeValue,
			float64(conn.PendingLog), id, conn.Name)
		ch <- prometheus.MustNewConstMetric(c.connDeliveredDesc, prometheus.CounterValue,
			float64(conn.Delivery.Delivered), id, conn.Name)
		ch <- prometheus.MustNewConstMetric(c.connLostDesc, prometheus.CounterValue,
			float64(conn.Delivery.Lost), id, conn.Name)
		ch <- prometheus.MustNewConstMetric(c.connLastInputDesc, prometheus.GaugeValue,
			float64(conn.LastInput), id, conn.Name)
		ch <- prometheus.MustNewConstMetric(c.connLatencyDesc, prometheus.GaugeValue,
			conn.Delivery.Latency.Smoothed.Seconds(), id, conn.Name)
	}
}

// =============================================================================
// Peer 收集器
// =============================================================================

// PeerSnapshotter peer 快照来源
type PeerSnapshotter interface {
	Snapshot() session.PeerStats
}

// PeerCollector Peer 指标收集器
type PeerCollector struct {
	source PeerSnapshotter

	stateDesc           *prometheus.Desc
	lastReplicationDesc *prometheus.Desc
	appliedDesc         *prometheus.Desc
	staleDesc           *prometheus.Desc
	inputsSentDesc      *prometheus.Desc
	inputsDroppedDesc   *prometheus.Desc
	pendingInputsDesc   *prometheus.Desc
}

// NewPeerCollector 创建 Peer 收集器
func NewPeerCollector(source PeerSnapshotter) *PeerCollector {
	subsystem := "peer"

	return &PeerCollector{
		source: source,

		stateDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "state"),
			"Current peer state (1 = active)",
			[]string{"state"}, nil,
		),
		lastReplicationDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "last_replication_sequence"),
			"Sequence of the most recent replication packet",
			nil, nil,
		),
		appliedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "replications_applied_total"),
			"Replication packets applied",
			nil, nil,
		),
		staleDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "replications_stale_total"),
			"Replication packets dropped as stale",
			nil, nil,
		),
		inputsSentDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "input_batches_sent_total"),
			"Input batches sent to the host",
			nil, nil,
		),
		inputsDroppedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "inputs_dropped_total"),
			"Input samples dropped because the buffer was full",
			nil, nil,
		),
		pendingInputsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "pending_inputs"),
			"Input samples not yet applied by the host",
			nil, nil,
		),
	}
}

// Describe 实现 prometheus.Collector 接口
func (c *PeerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.stateDesc
	ch <- c.lastReplicationDesc
	ch <- c.appliedDesc
	ch <- c.staleDesc
	ch <- c.inputsSentDesc
	ch <- c.inputsDroppedDesc
	ch <- c.pendingInputsDesc
}

// Collect 实现 prometheus.Collector 接口
func (c *PeerCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.source.Snapshot()

	collectState(ch, c.stateDesc, stats.State)

	ch <- prometheus.MustNewConstMetric(c.lastReplicationDesc, prometheus.GaugeValue, float64(stats.LastReplication))
	ch <- prometheus.MustNewConstMetric(c.appliedDesc, prometheus.CounterValue, float64(stats.ReplicationsApplied))
	ch <- prometheus.MustNewConstMetric(c.staleDesc, prometheus.CounterValue, float64(stats.ReplicationsStale))
	ch <- prometheus.MustNewConstMetric(c.inputsSentDesc, prometheus.CounterValue, float64(stats.InputsSent))
	ch <- prometheus.MustNewConstMetric(c.inputsDroppedDesc, prometheus.CounterValue, float64(stats.InputsDropped))
	ch <- prometheus.MustNewConstMetric(c.pendingInputsDesc, prometheus.GaugeValue, float64(stats.PendingInputs))
}

// =============================================================================
// 传输层收集器
// =============================================================================

// TransportCollector 传输层指标收集器
type TransportCollector struct {
	mode   string
	source transport.StatsProvider

	packetsDesc *prometheus.Desc
	bytesDesc   *prometheus.Desc
	droppedDesc *prometheus.Desc
	resetsDesc  *prometheus.Desc
}

// NewTransportCollector 创建传输层收集器，mode 作为常量标签
func NewTransportCollector(mode string, source transport.StatsProvider) *TransportCollector {
	subsystem := "transport"
	constLabels := prometheus.Labels{"mode": mode}

	return &TransportCollector{
		mode:   mode,
		source: source,

		packetsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "packets_total"),
			"Datagrams moved by the transport",
			[]string{"direction"}, constLabels,
		),
		bytesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "bytes_total"),
			"Bytes moved by the transport",
			[]string{"direction"}, constLabels,
		),
		droppedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "queue_dropped_total"),
			"Datagrams dropped because the inbound queue was full",
			nil, constLabels,
		),
		resetsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "resets_total"),
			"Connection reset notifications",
			nil, constLabels,
		),
	}
}

// Describe 实现 prometheus.Collector 接口
func (c *TransportCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.packetsDesc
	ch <- c.bytesDesc
	ch <- c.droppedDesc
	ch <- c.resetsDesc
}

// Collect 实现 prometheus.Collector 接口
func (c *TransportCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.GetStats()

	ch <- prometheus.MustNewConstMetric(c.packetsDesc, prometheus.CounterValue, float64(s.PacketsRecv), "in")
	ch <- prometheus.MustNewConstMetric(c.packetsDesc, prometheus.CounterValue, float64(s.PacketsSent), "out")
	ch <- prometheus.MustNewConstMetric(c.bytesDesc, prometheus.CounterValue, float64(s.BytesRecv), "in")
	ch <- prometheus.MustNewConstMetric(c.bytesDesc, prometheus.CounterValue, float64(s.BytesSent), "out")
	ch <- prometheus.MustNewConstMetric(c.droppedDesc, prometheus.CounterValue, float64(s.PacketsDropped))
	ch <- prometheus.MustNewConstMetric(c.resetsDesc, prometheus.CounterValue, float64(s.Resets))
}

// collectState 按状态输出 0/1 gauge
func collectState(ch chan<- prometheus.Metric, desc *prometheus.Desc, current session.State) {
	for _, state := range sessionStates {
		val := 0.0
		if state == current {
			val = 1.0
		}
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, val, state.String())
	}
}
