// =============================================================================
// 文件: internal/replication/apply.go
// 描述: 复制命令应用 - 接收端影子实体表
// =============================================================================

package replication

// ShadowTable 接收端的影子实体表
type ShadowTable interface {
	HasShadow(id uint32) bool
	CreateShadow(id uint32, state []byte) error
	UpdateShadow(id uint32, state []byte) error
	DestroyShadow(id uint32) bool
}

// ApplyStats 一次 Apply 的结果
type ApplyStats struct {
	Created   int
	Updated   int
	Destroyed int
	Ignored   int
	Failed    int
}

// Apply 将解码后的命令应用到影子实体表。
// 对已存在 id 的 Create 视为 Update；未知 id 的 Update/Destroy 被忽略。
func Apply(cmds []Command, table ShadowTable) ApplyStats {
	var s ApplyStats
	for _, c := range cmds {
		switch c.Kind {
		case Create:
			if table.HasShadow(c.ID) {
				if err := table.UpdateShadow(c.ID, c.State); err != nil {
					s.Failed++
					continue
				}
				s.Updated++
				continue
			}
			if err := table.CreateShadow(c.ID, c.State); err != nil {
				s.Failed++
				continue
			}
			s.Created++
		case Update:
			if !table.HasShadow(c.ID) {
				s.Ignored++
				continue
			}
			if err := table.UpdateShadow(c.ID, c.State); err != nil {
				s.Failed++
				continue
			}
			s.Updated++
		case Destroy:
			if !table.DestroyShadow(c.ID) {
				s.Ignored++
				continue
			}
			s.Destroyed++
		}
	}
	return s
}
