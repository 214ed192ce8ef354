package modrinth

import (
	"github.com/mod-mirror/mod-mirror/internal/catalog"
	"github.com/mod-mirror/mod-mirror/internal/config"
)

// Catalog 是本目录族在日志、tag 存储与诊断接口里的标识。
const Catalog = "modrinth"

// Kinds 枚举本目录族的实体种类及各自的 TTL，供诊断接口展示。
func Kinds(cfg config.ModrinthConfig) []catalog.KindInfo {
	return []catalog.KindInfo{
		{Key: "project", Catalog: Catalog, JobKind: KindProject, TTL: cfg.ProjectTTL.DurationValue()},
		{Key: "version", Catalog: Catalog, JobKind: KindVersion, TTL: cfg.VersionTTL.DurationValue()},
		{Key: "file", Catalog: Catalog, JobKind: KindHashes, TTL: cfg.FileTTL.DurationValue()},
		{Key: "tag", Catalog: Catalog, JobKind: KindTags, TTL: cfg.TagTTL.DurationValue()},
	}
}
