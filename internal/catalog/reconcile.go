package catalog

import (
	"context"
	"time"
)

// Result 是一次批量对账的输出。Present 含新鲜、过期与墓碑三类命中；
// Stale 与 Missing 是需要派发同步的差集。
type Result[K comparable, R Record] struct {
	Present map[K]R
	Missing []K
	Stale   []K
	// Trustable 表示整批结果可直接信任：无缺失且无过期。
	// 墓碑不破坏可信性——"不存在"本身是一个可信的答案。
	Trustable bool
}

// SyncKeys 返回本次对账需要重新同步的键集（missing ∪ stale）。
func (r Result[K, R]) SyncKeys() []K {
	keys := make([]K, 0, len(r.Missing)+len(r.Stale))
	keys = append(keys, r.Missing...)
	keys = append(keys, r.Stale...)
	return keys
}

// Reconcile 对请求键集做一次批量对账：单次批量查询（绝不按键逐条查），
// 然后划分出命中/缺失/过期三类。空键集直接返回可信空结果，不触发查询。
//
// fetch 执行存储层的 IN 查询；keyOf 从记录中取出主键。
// 请求键会先去重，Present ∪ Missing 与去重后的请求键精确相等。
func Reconcile[K comparable, R Record](
	ctx context.Context,
	keys []K,
	ttl time.Duration,
	now time.Time,
	fetch func(context.Context, []K) ([]R, error),
	keyOf func(R) K,
) (Result[K, R], error) {
	result := Result[K, R]{Present: map[K]R{}, Trustable: true}

	unique := dedupe(keys)
	if len(unique) == 0 {
		return result, nil
	}

	records, err := fetch(ctx, unique)
	if err != nil {
		return Result[K, R]{}, err
	}

	for _, rec := range records {
		k := keyOf(rec)
		result.Present[k] = rec
		if rec.RecordFound() && Expired(rec, ttl, now) {
			result.Stale = append(result.Stale, k)
		}
	}

	for _, k := range unique {
		if _, ok := result.Present[k]; !ok {
			result.Missing = append(result.Missing, k)
		}
	}

	result.Trustable = len(result.Missing) == 0 && len(result.Stale) == 0
	return result, nil
}

// dedupe 保序去重。
func dedupe[K comparable](keys []K) []K {
	if len(keys) == 0 {
		return nil
	}
	seen := make(map[K]struct{}, len(keys))
	out := make([]K, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
