package curseforge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/mod-mirror/mod-mirror/internal/queue"
	"github.com/mod-mirror/mod-mirror/internal/store"
	"github.com/mod-mirror/mod-mirror/internal/upstream"
)

// 任务类型。payload 一律是批量 id 集合，重投递天然幂等：重新拉取并整批覆盖。
const (
	KindMods         = "curseforge_mods"
	KindFiles        = "curseforge_files"
	KindFingerprints = "curseforge_fingerprints"
	KindCategories   = "curseforge_categories"
)

type ModsPayload struct {
	ModIDs []int `json:"modIds"`
}

type FilesPayload struct {
	FileIDs []int `json:"fileIds"`
}

type FingerprintsPayload struct {
	Fingerprints []int64 `json:"fingerprints"`
}

// Syncer 是本目录族的后台同步执行器。
// 每个任务整批拉取、归一化后在单个事务里原子落库；
// 请求了但上游未返回的 id 写墓碑，阻断后续读触发的重复同步。
type Syncer struct {
	client *Client
	db     *gorm.DB
	tags   *store.TagStore
	logger *logrus.Logger
	now    func() time.Time
}

func NewSyncer(client *Client, db *gorm.DB, tags *store.TagStore, logger *logrus.Logger) *Syncer {
	return &Syncer{
		client: client,
		db:     db,
		tags:   tags,
		logger: logger,
		now:    time.Now,
	}
}

// Register 把全部任务类型挂到 worker 上。
func (s *Syncer) Register(w *queue.Worker) {
	w.Register(KindMods, s.handleMods)
	w.Register(KindFiles, s.handleFiles)
	w.Register(KindFingerprints, s.handleFingerprints)
	w.Register(KindCategories, s.handleCategories)
}

func (s *Syncer) handleMods(ctx context.Context, job *queue.Job) error {
	var payload ModsPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return queue.Terminal(fmt.Errorf("解析任务 payload 失败: %w", err))
	}
	if len(payload.ModIDs) == 0 {
		return nil
	}

	mods, err := s.client.GetMods(ctx, payload.ModIDs)
	if err != nil {
		return classify(err)
	}
	now := s.now()
	mods = NormalizeMods(mods, now)

	// 级联：mod 的文件只能从文件列表接口取到，同一任务里一并镜像
	var files []File
	returned := make(map[int]struct{}, len(mods))
	for _, m := range mods {
		returned[m.ID] = struct{}{}
		modFiles, err := s.client.GetModFiles(ctx, m.ID)
		if err != nil {
			if errors.Is(err, upstream.ErrNotFound) {
				continue
			}
			// 级联内任何拉取失败即整个任务失败，绝不部分提交
			return classify(err)
		}
		files = append(files, NormalizeFiles(modFiles, m.ID, now)...)
	}

	var tombstones []Mod
	for _, id := range payload.ModIDs {
		if _, ok := returned[id]; !ok {
			tombstones = append(tombstones, TombstoneMod(id, now))
		}
	}

	if err := store.UpsertBatch(ctx, s.db, mods, files, tombstones); err != nil {
		return err
	}
	s.logSynced(KindMods, len(mods), len(tombstones))
	return nil
}

func (s *Syncer) handleFiles(ctx context.Context, job *queue.Job) error {
	var payload FilesPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return queue.Terminal(fmt.Errorf("解析任务 payload 失败: %w", err))
	}
	if len(payload.FileIDs) == 0 {
		return nil
	}

	files, err := s.client.GetFiles(ctx, payload.FileIDs)
	if err != nil {
		return classify(err)
	}
	now := s.now()
	files = NormalizeFiles(files, 0, now)

	returned := make(map[int]struct{}, len(files))
	for _, f := range files {
		returned[f.ID] = struct{}{}
	}
	var tombstones []File
	for _, id := range payload.FileIDs {
		if _, ok := returned[id]; !ok {
			tombstones = append(tombstones, TombstoneFile(id, now))
		}
	}

	if err := store.UpsertBatch(ctx, s.db, files, tombstones); err != nil {
		return err
	}
	s.logSynced(KindFiles, len(files), len(tombstones))
	return nil
}

func (s *Syncer) handleFingerprints(ctx context.Context, job *queue.Job) error {
	var payload FingerprintsPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return queue.Terminal(fmt.Errorf("解析任务 payload 失败: %w", err))
	}
	if len(payload.Fingerprints) == 0 {
		return nil
	}

	result, err := s.client.MatchFingerprints(ctx, payload.Fingerprints)
	if err != nil {
		return classify(err)
	}
	now := s.now()
	matches := NormalizeFingerprints(result.ExactMatches, now)

	matched := make(map[int64]struct{}, len(matches))
	for _, m := range matches {
		matched[m.ID] = struct{}{}
	}
	var tombstones []Fingerprint
	for _, fp := range payload.Fingerprints {
		if _, ok := matched[fp]; !ok {
			tombstones = append(tombstones, TombstoneFingerprint(fp, now))
		}
	}

	if err := store.UpsertBatch(ctx, s.db, matches, tombstones); err != nil {
		return err
	}
	s.logSynced(KindFingerprints, len(matches), len(tombstones))
	return nil
}

func (s *Syncer) handleCategories(ctx context.Context, _ *queue.Job) error {
	blob, err := s.client.GetCategories(ctx)
	if errors.Is(err, upstream.ErrNotFound) {
		// 上游明确说没有：负缓存，阻断读触发的重复派发
		if err := s.tags.PutTombstone(ctx, Catalog, "categories"); err != nil {
			return err
		}
		s.logSynced(KindCategories, 0, 1)
		return nil
	}
	if err != nil {
		return classify(err)
	}
	if err := s.tags.Put(ctx, Catalog, "categories", blob); err != nil {
		return err
	}
	s.logSynced(KindCategories, 1, 0)
	return nil
}

func (s *Syncer) logSynced(kind string, records, tombstones int) {
	s.logger.WithFields(logrus.Fields{
		"action":     "sync_commit",
		"catalog":    Catalog,
		"job_kind":   kind,
		"records":    records,
		"tombstones": tombstones,
	}).Info("同步提交完成")
}

// classify 把上游错误映射到队列语义：瞬时错误交给重投递，其余终结。
func classify(err error) error {
	if upstream.Retryable(err) {
		return err
	}
	return queue.Terminal(err)
}
