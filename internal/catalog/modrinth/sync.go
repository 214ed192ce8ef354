package modrinth

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

// 任务类型。所有入口最终都收敛到"同步整个项目子图"：
// 文件只嵌套在 version payload 里，任意点进入都要修复可达子图。
const (
	KindProject  = "modrinth_project"
	KindProjects = "modrinth_projects"
	KindVersion  = "modrinth_version"
	KindVersions = "modrinth_versions"
	KindHashes   = "modrinth_hashes"
	KindTags     = "modrinth_tags"
)

type ProjectsPayload struct {
	IDs []string `json:"ids"`
}

type VersionsPayload struct {
	IDs []string `json:"ids"`
}

type HashesPayload struct {
	Hashes    []string `json:"hashes"`
	Algorithm string   `json:"algorithm"`
}

type TagsPayload struct {
	Types []string `json:"types"`
}

// DefaultTagTypes 是后台全量刷新时同步的标签表。
var DefaultTagTypes = []string{"category", "loader", "game_version"}

// Syncer 是本目录族的后台同步执行器。一个任务产出的全部记录
// 在单个事务里原子提交；级联内任何拉取失败即整个任务失败。
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

func (s *Syncer) Register(w *queue.Worker) {
	w.Register(KindProject, s.handleProjects)
	w.Register(KindProjects, s.handleProjects)
	w.Register(KindVersion, s.handleVersions)
	w.Register(KindVersions, s.handleVersions)
	w.Register(KindHashes, s.handleHashes)
	w.Register(KindTags, s.handleTags)
}

// graphBatch 聚合一个任务要提交的全部记录。
type graphBatch struct {
	projects []Project
	versions []Version
	files    []File
	// 已处理过的 project 键（id 与 slug），防止级联重复拉取
	seen map[string]bool
}

func newGraphBatch() *graphBatch {
	return &graphBatch{seen: make(map[string]bool)}
}

// collectProject 把一个项目的完整子图加入批次。
// 404 写项目墓碑；项目存在但版本列表拉取失败则整个任务失败。
func (s *Syncer) collectProject(ctx context.Context, b *graphBatch, idOrSlug string, now time.Time) error {
	if b.seen[idOrSlug] {
		return nil
	}
	b.seen[idOrSlug] = true

	p, err := s.client.GetProject(ctx, idOrSlug)
	if errors.Is(err, upstream.ErrNotFound) {
		b.projects = append(b.projects, TombstoneProject(idOrSlug, now))
		return nil
	}
	if err != nil {
		return classify(err)
	}
	b.seen[p.ID] = true
	b.seen[p.Slug] = true

	versions, err := s.client.GetProjectVersions(ctx, p.ID)
	if err != nil {
		return classify(err)
	}

	proj, vs, fs := NormalizeGraph(p, versions, now)
	b.projects = append(b.projects, proj)
	b.versions = append(b.versions, vs...)
	b.files = append(b.files, fs...)
	return nil
}

func (s *Syncer) commit(ctx context.Context, kind string, b *graphBatch) error {
	if err := store.UpsertBatch(ctx, s.db, b.projects, b.versions, b.files); err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{
		"action":   "sync_commit",
		"catalog":  Catalog,
		"job_kind": kind,
		"projects": len(b.projects),
		"versions": len(b.versions),
		"files":    len(b.files),
	}).Info("同步提交完成")
	return nil
}

func (s *Syncer) handleProjects(ctx context.Context, job *queue.Job) error {
	var payload ProjectsPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return queue.Terminal(fmt.Errorf("解析任务 payload 失败: %w", err))
	}
	if len(payload.IDs) == 0 {
		return nil
	}

	now := s.now()
	batch := newGraphBatch()
	for _, idOrSlug := range payload.IDs {
		if err := s.collectProject(ctx, batch, idOrSlug, now); err != nil {
			return err
		}
	}
	return s.commit(ctx, job.Kind, batch)
}

// handleVersions 整批解析版本归属，再级联回父项目的完整子图：
// 单独同步一个 version 也要重建父项目的版本索引。
// 批量接口对未知 id 静默缺席，缺席差集写墓碑。
func (s *Syncer) handleVersions(ctx context.Context, job *queue.Job) error {
	var payload VersionsPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return queue.Terminal(fmt.Errorf("解析任务 payload 失败: %w", err))
	}
	if len(payload.IDs) == 0 {
		return nil
	}

	versions, err := s.client.GetVersions(ctx, payload.IDs)
	if errors.Is(err, upstream.ErrNotFound) {
		versions = nil
	} else if err != nil {
		return classify(err)
	}

	now := s.now()
	batch := newGraphBatch()
	returned := make(map[string]bool, len(versions))
	for _, v := range versions {
		returned[v.ID] = true
		if err := s.collectProject(ctx, batch, v.ProjectID, now); err != nil {
			return err
		}
	}
	for _, id := range payload.IDs {
		if !returned[id] {
			batch.versions = append(batch.versions, TombstoneVersion(id, now))
		}
	}
	return s.commit(ctx, job.Kind, batch)
}

func (s *Syncer) handleHashes(ctx context.Context, job *queue.Job) error {
	var payload HashesPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return queue.Terminal(fmt.Errorf("解析任务 payload 失败: %w", err))
	}
	if len(payload.Hashes) == 0 {
		return nil
	}
	if payload.Algorithm == "" {
		payload.Algorithm = AlgoSHA1
	}

	matched, err := s.client.GetVersionFiles(ctx, payload.Hashes, payload.Algorithm)
	if errors.Is(err, upstream.ErrNotFound) {
		// 整批未命中：上游对空结果回 404
		matched = nil
	} else if err != nil {
		return classify(err)
	}

	now := s.now()
	batch := newGraphBatch()
	for _, v := range matched {
		if err := s.collectProject(ctx, batch, v.ProjectID, now); err != nil {
			return err
		}
	}
	for _, hash := range payload.Hashes {
		if _, ok := matched[hash]; !ok {
			batch.files = append(batch.files, TombstoneFile(hash, now))
		}
	}
	return s.commit(ctx, job.Kind, batch)
}

func (s *Syncer) handleTags(ctx context.Context, job *queue.Job) error {
	var payload TagsPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return queue.Terminal(fmt.Errorf("解析任务 payload 失败: %w", err))
	}
	types := payload.Types
	if len(types) == 0 {
		types = DefaultTagTypes
	}

	for _, tagType := range types {
		blob, err := s.client.GetTag(ctx, tagType)
		if errors.Is(err, upstream.ErrNotFound) {
			// 未知标签类型写负缓存，后续读直接命中墓碑
			if err := s.tags.PutTombstone(ctx, Catalog, tagType); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return classify(err)
		}
		if err := s.tags.Put(ctx, Catalog, tagType, blob); err != nil {
			return err
		}
	}
	s.logger.WithFields(logrus.Fields{
		"action":   "sync_commit",
		"catalog":  Catalog,
		"job_kind": job.Kind,
		"tags":     len(types),
	}).Info("同步提交完成")
	return nil
}

func classify(err error) error {
	if upstream.Retryable(err) {
		return err
	}
	return queue.Terminal(err)
}
