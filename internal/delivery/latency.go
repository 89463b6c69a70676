// =============================================================================
// 文件: internal/delivery/latency.go
// 描述: 确认延迟估计 - 平滑 RTT 与方差
// =============================================================================

package delivery

import "time"

const (
	latencyAlpha = 0.125 // 平滑因子 (1/8)
	latencyBeta  = 0.25  // 方差因子 (1/4)
)

// Latency 确认延迟统计 (RFC 6298 平滑)。
// 样本为发送到确认之间的 tick 时间，包含对端心跳间隔。
type Latency struct {
	Smoothed time.Duration
	Variance time.Duration
	Min      time.Duration
	Max      time.Duration
	Latest   time.Duration
	Samples  uint64
}

// observe 加入一个样本
func (l *Latency) observe(sample time.Duration) {
	if sample < 0 {
		return
	}
	l.Latest = sample
	if l.Samples == 0 || sample < l.Min {
		l.Min = sample
	}
	if sample > l.Max {
		l.Max = sample
	}

	if l.Samples == 0 {
		l.Smoothed = sample
		l.Variance = sample / 2
	} else {
		// RTTVAR = (1 - beta) * RTTVAR + beta * |SRTT - R|
		diff := l.Smoothed - sample
		if diff < 0 {
			diff = -diff
		}
		l.Variance = time.Duration(float64(l.Variance)*(1-latencyBeta) + float64(diff)*latencyBeta)

		// SRTT = (1 - alpha) * SRTT + alpha * R
		l.Smoothed = time.Duration(float64(l.Smoothed)*(1-latencyAlpha) + float64(sample)*latencyAlpha)
	}
	l.Samples++
}
