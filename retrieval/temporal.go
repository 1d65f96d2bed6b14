package retrieval

import (
	"time"

	"go.uber.org/zap"
)

// TemporalFilter 依据有效区间判断图谱事实在参考时间是否有效。
type TemporalFilter struct {
	logger *zap.Logger
}

// NewTemporalFilter 创建时效过滤器。
func NewTemporalFilter(logger *zap.Logger) *TemporalFilter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TemporalFilter{
		logger: logger.With(zap.String("component", "temporal_filter")),
	}
}

// IsCurrentlyValid 报告证据在 referenceTime 是否有效。
//
//   - 非图谱来源（向量文本块）没有时效语义，始终有效
//   - 图谱来源但未携带 valid_at 的元素视为始终有效
//   - 携带 valid_at 的元素有效当且仅当 valid_at <= referenceTime
//     且（invalid_at 未设置或 invalid_at > referenceTime）且未标记过期
//
// 畸形区间（invalid_at <= valid_at）按无效处理并记录数据质量告警，
// 不会中断查询。
func (f *TemporalFilter) IsCurrentlyValid(item EvidenceItem, referenceTime time.Time) bool {
	if !item.Origin.IsGraph() {
		return true
	}
	if item.Expired {
		return false
	}
	if item.ValidAt == nil {
		return true
	}
	if item.InvalidAt != nil && !item.InvalidAt.After(*item.ValidAt) {
		f.logger.Warn("malformed validity interval, treating fact as invalid",
			zap.String("id", item.ID),
			zap.Time("valid_at", *item.ValidAt),
			zap.Time("invalid_at", *item.InvalidAt))
		return false
	}
	if item.ValidAt.After(referenceTime) {
		return false
	}
	if item.InvalidAt != nil && !item.InvalidAt.After(referenceTime) {
		return false
	}
	return true
}

// FilterValid 把时效过滤应用到整个证据列表，返回在 referenceTime
// 有效的子集（保持原有顺序）和被畸形区间排除的条数。
func (f *TemporalFilter) FilterValid(items []EvidenceItem, referenceTime time.Time) ([]EvidenceItem, int) {
	valid := make([]EvidenceItem, 0, len(items))
	malformed := 0
	for _, item := range items {
		if isMalformedInterval(item) {
			malformed++
		}
		if f.IsCurrentlyValid(item, referenceTime) {
			valid = append(valid, item)
		}
	}
	return valid, malformed
}

func isMalformedInterval(item EvidenceItem) bool {
	return item.Origin.IsGraph() &&
		item.ValidAt != nil && item.InvalidAt != nil &&
		!item.InvalidAt.After(*item.ValidAt)
}
