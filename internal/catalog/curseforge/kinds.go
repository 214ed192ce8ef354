package curseforge

import (
	"github.com/mod-mirror/mod-mirror/internal/catalog"
	"github.com/mod-mirror/mod-mirror/internal/config"
)

// Catalog 是本目录族在日志、tag 存储与诊断接口里的标识。
const Catalog = "curseforge"

// Kinds 枚举本目录族的实体种类及各自的 TTL，供诊断接口展示。
func Kinds(cfg config.CurseforgeConfig) []catalog.KindInfo {
	return []catalog.KindInfo{
		{Key: "mod", Catalog: Catalog, JobKind: KindMods, TTL: cfg.ModTTL.DurationValue()},
		{Key: "file", Catalog: Catalog, JobKind: KindFiles, TTL: cfg.FileTTL.DurationValue()},
		{Key: "fingerprint", Catalog: Catalog, JobKind: KindFingerprints, TTL: cfg.FingerprintTTL.DurationValue()},
		{Key: "category", Catalog: Catalog, JobKind: KindCategories, TTL: cfg.CategoryTTL.DurationValue()},
	}
}
