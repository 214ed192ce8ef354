package catalog

import "time"

// Trustable 判断单条记录的数据内容当前是否可信。纯函数，无副作用：
//   - 记录缺失（nil）→ false，调用方应视为 unknown 而非 stale
//   - 墓碑（found=false）→ false，数据内容按定义为空
//   - now - sync_at 超过 kind 对应 TTL → false
//
// 墓碑的"不存在"这一答案是否可信由对账层单独处理，见 Reconcile。
func Trustable(rec Record, ttl time.Duration, now time.Time) bool {
	if rec == nil {
		return false
	}
	if !rec.RecordFound() {
		return false
	}
	return !Expired(rec, ttl, now)
}

// Expired 判断记录是否超出过期窗口。恰好等于 TTL 时仍视为未过期。
func Expired(rec Record, ttl time.Duration, now time.Time) bool {
	return now.Sub(rec.RecordSyncAt()) > ttl
}
