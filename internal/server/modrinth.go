package server

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/mod-mirror/mod-mirror/internal/catalog"
	"github.com/mod-mirror/mod-mirror/internal/catalog/modrinth"
	"github.com/mod-mirror/mod-mirror/internal/config"
	"github.com/mod-mirror/mod-mirror/internal/store"
)

type mrRoutes struct {
	logger *logrus.Logger
	cfg    config.ModrinthConfig
	global config.GlobalConfig
	store  *modrinth.Store
	d      *catalog.Dispatcher
	tags   *store.TagStore
}

func registerModrinthRoutes(app *fiber.App, opts AppOptions) {
	r := &mrRoutes{
		logger: opts.Logger,
		cfg:    opts.Config.Modrinth,
		global: opts.Config.Global,
		store:  opts.Modrinth,
		d:      opts.Dispatcher,
		tags:   opts.Tags,
	}

	group := app.Group("/modrinth")
	group.Get("/project/:idslug", r.getProject)
	group.Get("/projects", r.getProjects)
	group.Get("/project/:idslug/version", r.getProjectVersions)
	group.Get("/version/:id", r.getVersion)
	group.Get("/versions", r.getVersions)
	group.Get("/version_file/:hash", r.getVersionFile)
	group.Post("/version_files", r.postVersionFiles)
	group.Get("/tag/:type", r.getTag)
}

func projectsPayload(ids []string) any { return modrinth.ProjectsPayload{IDs: ids} }

func versionsPayload(ids []string) any { return modrinth.VersionsPayload{IDs: ids} }

// idsFromQuery 解析 Modrinth 风格的 ids=["a","b"] 查询参数。
func idsFromQuery(c fiber.Ctx) ([]string, error) {
	raw := c.Query("ids")
	if raw == "" {
		return nil, errors.New("ids query parameter is required")
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, errors.New("ids must be a JSON string array")
	}
	return ids, nil
}

// resolveProject 按 id/slug 做单点查找并应用新鲜度判定。
// 返回 (record, stale)；record 为 nil 表示本地尚无记录。
func (r *mrRoutes) resolveProject(c fiber.Ctx, idOrSlug string) (*modrinth.Project, bool, error) {
	p, err := r.store.ProjectByIDOrSlug(c.Context(), idOrSlug)
	if err != nil || p == nil {
		return nil, false, err
	}
	trustable := catalog.Trustable(*p, r.cfg.ProjectTTL.DurationValue(), time.Now())
	stale := !trustable && p.Found
	return p, stale, nil
}

func (r *mrRoutes) getProject(c fiber.Ctx) error {
	idOrSlug := c.Params("idslug")
	if forceRequested(c) {
		catalog.Dispatch(context.Background(), r.d, modrinth.KindProject, []string{idOrSlug}, true, projectsPayload)
		return respondUncached(c, r.global.UncachedStatusCode)
	}

	p, stale, err := r.resolveProject(c, idOrSlug)
	if err != nil {
		logReadDegraded(r.logger, c, modrinth.Catalog, err)
		return respondUncached(c, r.global.UncachedStatusCode)
	}
	if p == nil {
		catalog.Dispatch(context.Background(), r.d, modrinth.KindProject, []string{idOrSlug}, false, projectsPayload)
		return respondUncached(c, r.global.UncachedStatusCode)
	}
	if stale {
		catalog.Dispatch(context.Background(), r.d, modrinth.KindProject, []string{p.ID}, false, projectsPayload)
	}
	if !p.Found {
		return respondNotFound(c)
	}
	return respondData(c, !stale, p)
}

func (r *mrRoutes) getProjects(c fiber.Ctx) error {
	ids, err := idsFromQuery(c)
	if err != nil {
		return respondBadRequest(c, err.Error())
	}
	if forceRequested(c) {
		catalog.Dispatch(context.Background(), r.d, modrinth.KindProjects, ids, true, projectsPayload)
		return respondUncached(c, r.global.UncachedStatusCode)
	}

	result, err := catalog.Reconcile(c.Context(), ids, r.cfg.ProjectTTL.DurationValue(), time.Now(),
		r.store.ProjectsByIDs, func(p modrinth.Project) string { return p.ID })
	if err != nil {
		logReadDegraded(r.logger, c, modrinth.Catalog, err)
		return respondUncached(c, r.global.UncachedStatusCode)
	}
	catalog.Dispatch(context.Background(), r.d, modrinth.KindProjects, result.SyncKeys(), false, projectsPayload)

	projects := make([]modrinth.Project, 0, len(result.Present))
	for _, p := range result.Present {
		if p.Found {
			projects = append(projects, p)
		}
	}
	return respondData(c, result.Trustable, projects)
}

// getProjectVersions 的新鲜度由父项目记录决定：项目可信则版本索引视为可信。
func (r *mrRoutes) getProjectVersions(c fiber.Ctx) error {
	idOrSlug := c.Params("idslug")
	if forceRequested(c) {
		catalog.Dispatch(context.Background(), r.d, modrinth.KindProject, []string{idOrSlug}, true, projectsPayload)
		return respondUncached(c, r.global.UncachedStatusCode)
	}

	p, stale, err := r.resolveProject(c, idOrSlug)
	if err != nil {
		logReadDegraded(r.logger, c, modrinth.Catalog, err)
		return respondUncached(c, r.global.UncachedStatusCode)
	}
	if p == nil {
		catalog.Dispatch(context.Background(), r.d, modrinth.KindProject, []string{idOrSlug}, false, projectsPayload)
		return respondUncached(c, r.global.UncachedStatusCode)
	}
	if stale {
		catalog.Dispatch(context.Background(), r.d, modrinth.KindProject, []string{p.ID}, false, projectsPayload)
	}
	if !p.Found {
		return respondNotFound(c)
	}

	versions, err := r.store.VersionsOfProject(c.Context(), p.ID)
	if err != nil {
		logReadDegraded(r.logger, c, modrinth.Catalog, err)
		return respondUncached(c, r.global.UncachedStatusCode)
	}
	return respondData(c, !stale, versions)
}

func (r *mrRoutes) getVersion(c fiber.Ctx) error {
	id := c.Params("id")
	if forceRequested(c) {
		catalog.Dispatch(context.Background(), r.d, modrinth.KindVersion, []string{id}, true, versionsPayload)
		return respondUncached(c, r.global.UncachedStatusCode)
	}

	result, err := catalog.Reconcile(c.Context(), []string{id}, r.cfg.VersionTTL.DurationValue(), time.Now(),
		r.store.VersionsByIDs, func(v modrinth.Version) string { return v.ID })
	if err != nil {
		logReadDegraded(r.logger, c, modrinth.Catalog, err)
		return respondUncached(c, r.global.UncachedStatusCode)
	}
	catalog.Dispatch(context.Background(), r.d, modrinth.KindVersion, result.SyncKeys(), false, versionsPayload)

	v, ok := result.Present[id]
	if !ok {
		return respondUncached(c, r.global.UncachedStatusCode)
	}
	if !v.Found {
		return respondNotFound(c)
	}
	return respondData(c, result.Trustable, v)
}

func (r *mrRoutes) getVersions(c fiber.Ctx) error {
	ids, err := idsFromQuery(c)
	if err != nil {
		return respondBadRequest(c, err.Error())
	}
	if forceRequested(c) {
		catalog.Dispatch(context.Background(), r.d, modrinth.KindVersions, ids, true, versionsPayload)
		return respondUncached(c, r.global.UncachedStatusCode)
	}

	result, err := catalog.Reconcile(c.Context(), ids, r.cfg.VersionTTL.DurationValue(), time.Now(),
		r.store.VersionsByIDs, func(v modrinth.Version) string { return v.ID })
	if err != nil {
		logReadDegraded(r.logger, c, modrinth.Catalog, err)
		return respondUncached(c, r.global.UncachedStatusCode)
	}
	catalog.Dispatch(context.Background(), r.d, modrinth.KindVersions, result.SyncKeys(), false, versionsPayload)

	versions := make([]modrinth.Version, 0, len(result.Present))
	for _, v := range result.Present {
		if v.Found {
			versions = append(versions, v)
		}
	}
	return respondData(c, result.Trustable, versions)
}

func algorithmFromQuery(c fiber.Ctx) (string, bool) {
	algo := c.Query("algorithm", modrinth.AlgoSHA1)
	if algo != modrinth.AlgoSHA1 && algo != modrinth.AlgoSHA512 {
		return "", false
	}
	return algo, true
}

func hashesPayload(algorithm string) func([]string) any {
	return func(hashes []string) any {
		return modrinth.HashesPayload{Hashes: hashes, Algorithm: algorithm}
	}
}

// getVersionFile 按文件哈希解析到其版本。文件记录负责新鲜度与墓碑，
// 响应体返回文件所属的版本记录。
func (r *mrRoutes) getVersionFile(c fiber.Ctx) error {
	hash := c.Params("hash")
	algo, ok := algorithmFromQuery(c)
	if !ok {
		return respondBadRequest(c, "algorithm must be sha1 or sha512")
	}
	if forceRequested(c) {
		catalog.Dispatch(context.Background(), r.d, modrinth.KindHashes, []string{hash}, true, hashesPayload(algo))
		return respondUncached(c, r.global.UncachedStatusCode)
	}

	fetch := func(ctx context.Context, keys []string) ([]modrinth.File, error) {
		return r.store.FilesByHashes(ctx, keys, algo)
	}
	result, err := catalog.Reconcile(c.Context(), []string{hash}, r.cfg.FileTTL.DurationValue(), time.Now(),
		fetch, func(f modrinth.File) string { return f.HashFor(algo) })
	if err != nil {
		logReadDegraded(r.logger, c, modrinth.Catalog, err)
		return respondUncached(c, r.global.UncachedStatusCode)
	}
	catalog.Dispatch(context.Background(), r.d, modrinth.KindHashes, result.SyncKeys(), false, hashesPayload(algo))

	file, ok := result.Present[hash]
	if !ok {
		return respondUncached(c, r.global.UncachedStatusCode)
	}
	if !file.Found {
		return respondNotFound(c)
	}

	versions, err := r.store.VersionsByIDs(c.Context(), []string{file.VersionID})
	if err != nil {
		logReadDegraded(r.logger, c, modrinth.Catalog, err)
		return respondUncached(c, r.global.UncachedStatusCode)
	}
	if len(versions) == 0 || !versions[0].Found {
		// 文件在但版本记录悬空：级联修复后再来
		catalog.Dispatch(context.Background(), r.d, modrinth.KindVersion, []string{file.VersionID}, false, versionsPayload)
		return respondUncached(c, r.global.UncachedStatusCode)
	}
	return respondData(c, result.Trustable, versions[0])
}

// postVersionFiles 返回 hash → version 映射，镜像上游的批量哈希接口。
func (r *mrRoutes) postVersionFiles(c fiber.Ctx) error {
	var req modrinth.HashesPayload
	if err := json.Unmarshal(c.Body(), &req); err != nil || len(req.Hashes) == 0 {
		return respondBadRequest(c, "body must carry a non-empty hashes array")
	}
	if req.Algorithm == "" {
		req.Algorithm = modrinth.AlgoSHA1
	}
	if req.Algorithm != modrinth.AlgoSHA1 && req.Algorithm != modrinth.AlgoSHA512 {
		return respondBadRequest(c, "algorithm must be sha1 or sha512")
	}
	if forceRequested(c) {
		catalog.Dispatch(context.Background(), r.d, modrinth.KindHashes, req.Hashes, true, hashesPayload(req.Algorithm))
		return respondUncached(c, r.global.UncachedStatusCode)
	}

	fetch := func(ctx context.Context, keys []string) ([]modrinth.File, error) {
		return r.store.FilesByHashes(ctx, keys, req.Algorithm)
	}
	result, err := catalog.Reconcile(c.Context(), req.Hashes, r.cfg.FileTTL.DurationValue(), time.Now(),
		fetch, func(f modrinth.File) string { return f.HashFor(req.Algorithm) })
	if err != nil {
		logReadDegraded(r.logger, c, modrinth.Catalog, err)
		return respondUncached(c, r.global.UncachedStatusCode)
	}
	catalog.Dispatch(context.Background(), r.d, modrinth.KindHashes, result.SyncKeys(), false, hashesPayload(req.Algorithm))

	versionIDs := make([]string, 0, len(result.Present))
	hashByVersion := make(map[string][]string)
	for hash, f := range result.Present {
		if f.Found {
			versionIDs = append(versionIDs, f.VersionID)
			hashByVersion[f.VersionID] = append(hashByVersion[f.VersionID], hash)
		}
	}
	versions, err := r.store.VersionsByIDs(c.Context(), versionIDs)
	if err != nil {
		logReadDegraded(r.logger, c, modrinth.Catalog, err)
		return respondUncached(c, r.global.UncachedStatusCode)
	}

	trustable := result.Trustable
	resolved := make(map[string]modrinth.Version, len(req.Hashes))
	matchedVersions := make(map[string]bool, len(versions))
	for _, v := range versions {
		matchedVersions[v.ID] = true
		if !v.Found {
			continue
		}
		for _, hash := range hashByVersion[v.ID] {
			resolved[hash] = v
		}
	}
	// 悬空版本引用：派发修复并降级可信度
	var dangling []string
	for versionID := range hashByVersion {
		if !matchedVersions[versionID] {
			dangling = append(dangling, versionID)
		}
	}
	if len(dangling) > 0 {
		catalog.Dispatch(context.Background(), r.d, modrinth.KindVersions, dangling, false, versionsPayload)
		trustable = false
	}
	return respondData(c, trustable, resolved)
}

func (r *mrRoutes) getTag(c fiber.Ctx) error {
	tagType := c.Params("type")
	dispatchTags := func(force bool) {
		catalog.Dispatch(context.Background(), r.d, modrinth.KindTags, []string{tagType}, force,
			func(types []string) any { return modrinth.TagsPayload{Types: types} })
	}
	if forceRequested(c) {
		dispatchTags(true)
		return respondUncached(c, r.global.UncachedStatusCode)
	}

	blob, err := r.tags.Get(c.Context(), modrinth.Catalog, tagType)
	if errors.Is(err, store.ErrTagNotFound) {
		dispatchTags(false)
		return respondUncached(c, r.global.UncachedStatusCode)
	}
	if err != nil {
		logReadDegraded(r.logger, c, modrinth.Catalog, err)
		return respondUncached(c, r.global.UncachedStatusCode)
	}

	trustable := time.Since(blob.SyncAt) <= r.cfg.TagTTL.DurationValue()
	if !trustable {
		dispatchTags(false)
	}
	if !blob.Found {
		return respondNotFound(c)
	}
	return respondData(c, trustable, json.RawMessage(blob.Value))
}
