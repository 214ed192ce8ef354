// Package catalog 实现镜像核心：新鲜度判定、批量对账与同步任务派发。
// 两个目录族（curseforge / modrinth）共享这里的泛型逻辑，各自只提供
// 实体模型、normalizer 与上游客户端。
package catalog

import "time"

// Record 是所有镜像实体的最小公共视图。found=false 表示负缓存墓碑：
// 上游已确认该 id 不存在，答案本身可信，数据内容天然为空。
type Record interface {
	RecordFound() bool
	RecordSyncAt() time.Time
}

// KindInfo 描述一种实体的静态信息，供诊断接口枚举。
type KindInfo struct {
	Key     string        `json:"key"`
	Catalog string        `json:"catalog"`
	JobKind string        `json:"job_kind"`
	TTL     time.Duration `json:"ttl"`
}
