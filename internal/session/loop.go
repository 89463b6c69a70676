// =============================================================================
// 文件: internal/session/loop.go
// 描述: 固定间隔 tick 驱动
// =============================================================================

package session

import (
	"context"
	"time"
)

// Run 以固定间隔在当前协程中调用 tick，直到 ctx 结束。
// dt 为两次调用之间实际经过的时间。
func Run(ctx context.Context, interval time.Duration, tick func(dt time.Duration)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			dt := now.Sub(last)
			last = now
			tick(dt)
		}
	}
}

// TickInterval 由每秒 tick 数计算间隔
func TickInterval(rate int) time.Duration {
	if rate <= 0 {
		rate = 60
	}
	return time.Second / time.Duration(rate)
}
