// =============================================================================
// 文件: internal/protocol/sequence.go
// 描述: 序列号比较 - 模 2^32 环形回绕
// =============================================================================

package protocol

// IsMoreRecent 判断序列号 a 是否比 b 更新 (按模 2^32 环形比较)。
// a 位于 b 之后半个数值空间以内时返回 true，回绕无需特殊处理。
func IsMoreRecent(a, b uint32) bool {
	return int32(a-b) > 0
}

// Distance 从 b 到 a 的有符号距离
func Distance(a, b uint32) int32 {
	return int32(a - b)
}
