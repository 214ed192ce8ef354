package server

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/mod-mirror/mod-mirror/internal/catalog"
	"github.com/mod-mirror/mod-mirror/internal/catalog/curseforge"
	"github.com/mod-mirror/mod-mirror/internal/config"
	"github.com/mod-mirror/mod-mirror/internal/store"
)

type cfRoutes struct {
	logger *logrus.Logger
	cfg    config.CurseforgeConfig
	global config.GlobalConfig
	store  *curseforge.Store
	d      *catalog.Dispatcher
	tags   *store.TagStore
}

func registerCurseforgeRoutes(app *fiber.App, opts AppOptions) {
	r := &cfRoutes{
		logger: opts.Logger,
		cfg:    opts.Config.Curseforge,
		global: opts.Config.Global,
		store:  opts.Curseforge,
		d:      opts.Dispatcher,
		tags:   opts.Tags,
	}

	group := app.Group("/curseforge/v1")
	group.Get("/mods/:modId", r.getMod)
	group.Post("/mods", r.postMods)
	group.Get("/mods/:modId/files", r.getModFiles)
	group.Get("/mods/:modId/files/:fileId", r.getModFile)
	group.Get("/mods/:modId/files/:fileId/download-url", r.getModFileDownloadURL)
	group.Post("/mods/files", r.postFiles)
	group.Post("/fingerprints", r.postFingerprints)
	group.Get("/categories", r.getCategories)
}

func modsPayload(ids []int) any { return curseforge.ModsPayload{ModIDs: ids} }

func filesPayload(ids []int) any { return curseforge.FilesPayload{FileIDs: ids} }

func fingerprintsPayload(ids []int64) any {
	return curseforge.FingerprintsPayload{Fingerprints: ids}
}

// reconcileMods 对账一批 mod id 并派发差集同步。
func (r *cfRoutes) reconcileMods(c fiber.Ctx, ids []int) (catalog.Result[int, curseforge.Mod], error) {
	result, err := catalog.Reconcile(c.Context(), ids, r.cfg.ModTTL.DurationValue(), time.Now(),
		r.store.ModsByIDs, func(m curseforge.Mod) int { return m.ID })
	if err != nil {
		return result, err
	}
	catalog.Dispatch(context.Background(), r.d, curseforge.KindMods, result.SyncKeys(), false, modsPayload)
	return result, nil
}

func (r *cfRoutes) reconcileFiles(c fiber.Ctx, ids []int) (catalog.Result[int, curseforge.File], error) {
	result, err := catalog.Reconcile(c.Context(), ids, r.cfg.FileTTL.DurationValue(), time.Now(),
		r.store.FilesByIDs, func(f curseforge.File) int { return f.ID })
	if err != nil {
		return result, err
	}
	catalog.Dispatch(context.Background(), r.d, curseforge.KindFiles, result.SyncKeys(), false, filesPayload)
	return result, nil
}

func (r *cfRoutes) getMod(c fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("modId"))
	if err != nil {
		return respondBadRequest(c, "modId must be an integer")
	}
	if forceRequested(c) {
		catalog.Dispatch(context.Background(), r.d, curseforge.KindMods, []int{id}, true, modsPayload)
		return respondUncached(c, r.global.UncachedStatusCode)
	}

	result, err := r.reconcileMods(c, []int{id})
	if err != nil {
		logReadDegraded(r.logger, c, curseforge.Catalog, err)
		return respondUncached(c, r.global.UncachedStatusCode)
	}
	mod, ok := result.Present[id]
	if !ok {
		return respondUncached(c, r.global.UncachedStatusCode)
	}
	if !mod.Found {
		return respondNotFound(c)
	}
	return respondData(c, result.Trustable, fiber.Map{"data": mod})
}

func (r *cfRoutes) postMods(c fiber.Ctx) error {
	var req curseforge.ModsPayload
	if err := json.Unmarshal(c.Body(), &req); err != nil || len(req.ModIDs) == 0 {
		return respondBadRequest(c, "body must carry a non-empty modIds array")
	}
	if forceRequested(c) {
		catalog.Dispatch(context.Background(), r.d, curseforge.KindMods, req.ModIDs, true, modsPayload)
		return respondUncached(c, r.global.UncachedStatusCode)
	}

	result, err := r.reconcileMods(c, req.ModIDs)
	if err != nil {
		logReadDegraded(r.logger, c, curseforge.Catalog, err)
		return respondUncached(c, r.global.UncachedStatusCode)
	}

	// 墓碑不进数据列表：确认不存在的 id 就是没有数据
	mods := make([]curseforge.Mod, 0, len(result.Present))
	for _, m := range result.Present {
		if m.Found {
			mods = append(mods, m)
		}
	}
	return respondData(c, result.Trustable, fiber.Map{"data": mods})
}

// getModFiles 的新鲜度由父 mod 记录决定：mod 可信则其文件列表视为可信。
func (r *cfRoutes) getModFiles(c fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("modId"))
	if err != nil {
		return respondBadRequest(c, "modId must be an integer")
	}
	if forceRequested(c) {
		catalog.Dispatch(context.Background(), r.d, curseforge.KindMods, []int{id}, true, modsPayload)
		return respondUncached(c, r.global.UncachedStatusCode)
	}

	result, err := r.reconcileMods(c, []int{id})
	if err != nil {
		logReadDegraded(r.logger, c, curseforge.Catalog, err)
		return respondUncached(c, r.global.UncachedStatusCode)
	}
	mod, ok := result.Present[id]
	if !ok {
		return respondUncached(c, r.global.UncachedStatusCode)
	}
	if !mod.Found {
		return respondNotFound(c)
	}

	files, err := r.store.FilesOfMod(c.Context(), id)
	if err != nil {
		logReadDegraded(r.logger, c, curseforge.Catalog, err)
		return respondUncached(c, r.global.UncachedStatusCode)
	}
	return respondData(c, result.Trustable, fiber.Map{
		"data": files,
		"pagination": fiber.Map{
			"index":       0,
			"pageSize":    len(files),
			"resultCount": len(files),
			"totalCount":  len(files),
		},
	})
}

func (r *cfRoutes) getModFile(c fiber.Ctx) error {
	modID, err := strconv.Atoi(c.Params("modId"))
	if err != nil {
		return respondBadRequest(c, "modId must be an integer")
	}
	fileID, err := strconv.Atoi(c.Params("fileId"))
	if err != nil {
		return respondBadRequest(c, "fileId must be an integer")
	}
	if forceRequested(c) {
		catalog.Dispatch(context.Background(), r.d, curseforge.KindFiles, []int{fileID}, true, filesPayload)
		return respondUncached(c, r.global.UncachedStatusCode)
	}

	result, err := r.reconcileFiles(c, []int{fileID})
	if err != nil {
		logReadDegraded(r.logger, c, curseforge.Catalog, err)
		return respondUncached(c, r.global.UncachedStatusCode)
	}

	file, ok := result.Present[fileID]
	if !ok {
		return respondUncached(c, r.global.UncachedStatusCode)
	}
	if !file.Found || file.ModID != modID {
		return respondNotFound(c)
	}
	return respondData(c, result.Trustable, fiber.Map{"data": file})
}

// getModFileDownloadURL 只返回文件的下载地址。地址是镜像的元数据字段，
// 新鲜度与墓碑判定和文件记录本身走同一套对账。
func (r *cfRoutes) getModFileDownloadURL(c fiber.Ctx) error {
	modID, err := strconv.Atoi(c.Params("modId"))
	if err != nil {
		return respondBadRequest(c, "modId must be an integer")
	}
	fileID, err := strconv.Atoi(c.Params("fileId"))
	if err != nil {
		return respondBadRequest(c, "fileId must be an integer")
	}
	if forceRequested(c) {
		catalog.Dispatch(context.Background(), r.d, curseforge.KindFiles, []int{fileID}, true, filesPayload)
		return respondUncached(c, r.global.UncachedStatusCode)
	}

	result, err := r.reconcileFiles(c, []int{fileID})
	if err != nil {
		logReadDegraded(r.logger, c, curseforge.Catalog, err)
		return respondUncached(c, r.global.UncachedStatusCode)
	}

	file, ok := result.Present[fileID]
	if !ok {
		return respondUncached(c, r.global.UncachedStatusCode)
	}
	if !file.Found || file.ModID != modID || file.DownloadURL == "" {
		return respondNotFound(c)
	}
	return respondData(c, result.Trustable, fiber.Map{"data": file.DownloadURL})
}

func (r *cfRoutes) postFiles(c fiber.Ctx) error {
	var req curseforge.FilesPayload
	if err := json.Unmarshal(c.Body(), &req); err != nil || len(req.FileIDs) == 0 {
		return respondBadRequest(c, "body must carry a non-empty fileIds array")
	}
	if forceRequested(c) {
		catalog.Dispatch(context.Background(), r.d, curseforge.KindFiles, req.FileIDs, true, filesPayload)
		return respondUncached(c, r.global.UncachedStatusCode)
	}

	result, err := r.reconcileFiles(c, req.FileIDs)
	if err != nil {
		logReadDegraded(r.logger, c, curseforge.Catalog, err)
		return respondUncached(c, r.global.UncachedStatusCode)
	}

	files := make([]curseforge.File, 0, len(result.Present))
	for _, f := range result.Present {
		if f.Found {
			files = append(files, f)
		}
	}
	return respondData(c, result.Trustable, fiber.Map{"data": files})
}

// postFingerprints 返回命中/未命中两个集合；命中记录对外 id 替换为文件 id。
func (r *cfRoutes) postFingerprints(c fiber.Ctx) error {
	var req curseforge.FingerprintsPayload
	if err := json.Unmarshal(c.Body(), &req); err != nil || len(req.Fingerprints) == 0 {
		return respondBadRequest(c, "body must carry a non-empty fingerprints array")
	}
	if forceRequested(c) {
		catalog.Dispatch(context.Background(), r.d, curseforge.KindFingerprints, req.Fingerprints, true, fingerprintsPayload)
		return respondUncached(c, r.global.UncachedStatusCode)
	}

	result, err := catalog.Reconcile(c.Context(), req.Fingerprints, r.cfg.FingerprintTTL.DurationValue(), time.Now(),
		r.store.FingerprintsByIDs, func(f curseforge.Fingerprint) int64 { return f.ID })
	if err != nil {
		logReadDegraded(r.logger, c, curseforge.Catalog, err)
		return respondUncached(c, r.global.UncachedStatusCode)
	}
	catalog.Dispatch(context.Background(), r.d, curseforge.KindFingerprints, result.SyncKeys(), false, fingerprintsPayload)

	exact := make([]curseforge.Fingerprint, 0, len(result.Present))
	unmatched := make([]int64, 0)
	for _, fp := range result.Present {
		if fp.Found {
			exact = append(exact, fp.WireView())
		} else {
			unmatched = append(unmatched, fp.ID)
		}
	}
	return respondData(c, result.Trustable, fiber.Map{
		"data": fiber.Map{
			"exactMatches":          exact,
			"unmatchedFingerprints": unmatched,
		},
	})
}

func (r *cfRoutes) getCategories(c fiber.Ctx) error {
	dispatchCategories := func(force bool) {
		catalog.Dispatch(context.Background(), r.d, curseforge.KindCategories, []string{"categories"}, force,
			func([]string) any { return struct{}{} })
	}
	if forceRequested(c) {
		dispatchCategories(true)
		return respondUncached(c, r.global.UncachedStatusCode)
	}

	blob, err := r.tags.Get(c.Context(), curseforge.Catalog, "categories")
	if errors.Is(err, store.ErrTagNotFound) {
		dispatchCategories(false)
		return respondUncached(c, r.global.UncachedStatusCode)
	}
	if err != nil {
		logReadDegraded(r.logger, c, curseforge.Catalog, err)
		return respondUncached(c, r.global.UncachedStatusCode)
	}

	trustable := time.Since(blob.SyncAt) <= r.cfg.CategoryTTL.DurationValue()
	if !trustable {
		dispatchCategories(false)
	}
	if !blob.Found {
		return respondNotFound(c)
	}
	return respondData(c, trustable, fiber.Map{"data": json.RawMessage(blob.Value)})
}
