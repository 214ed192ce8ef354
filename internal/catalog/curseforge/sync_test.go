package curseforge

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mod-mirror/mod-mirror/internal/queue"
	"github.com/mod-mirror/mod-mirror/internal/store"
	"github.com/mod-mirror/mod-mirror/internal/upstream"
)

func newTestSyncer(t *testing.T, handler http.Handler) (*Syncer, *Store, *store.TagStore) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	db, err := store.Open(filepath.Join(t.TempDir(), "cf.db"))
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	typed := NewStore(db)
	if err := typed.Migrate(); err != nil {
		t.Fatalf("migrate error: %v", err)
	}
	if err := store.Migrate(db, &store.TagBlob{}); err != nil {
		t.Fatalf("tag migrate error: %v", err)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	tags := store.NewTagStore(db)
	client := NewClient(upstream.NewClient(srv.URL, time.Second, map[string]string{"x-api-key": "k"}))
	return NewSyncer(client, db, tags, logger), typed, tags
}

func jobFor(t *testing.T, kind string, payload any) *queue.Job {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &queue.Job{ID: 1, Kind: kind, Payload: raw}
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encode response: %v", err)
	}
}

func TestSyncModsCommitsModAndFiles(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/mods", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, map[string]any{"data": []map[string]any{
			{"id": 238222, "slug": "jei", "name": "JEI", "gameId": 432},
		}})
	})
	mux.HandleFunc("GET /v1/mods/238222/files", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, map[string]any{
			"data": []map[string]any{
				{"id": 530001, "modId": 238222, "fileName": "jei-1.jar"},
				{"id": 530002, "modId": 238222, "fileName": "jei-2.jar"},
			},
			"pagination": map[string]any{"index": 0, "pageSize": 50, "resultCount": 2, "totalCount": 2},
		})
	})

	s, typed, _ := newTestSyncer(t, mux)
	ctx := context.Background()

	// 第二个 id 上游不存在，应写墓碑
	err := s.handleMods(ctx, jobFor(t, KindMods, ModsPayload{ModIDs: []int{238222, 999999}}))
	if err != nil {
		t.Fatalf("handleMods error: %v", err)
	}

	mods, err := typed.ModsByIDs(ctx, []int{238222, 999999})
	if err != nil {
		t.Fatalf("query error: %v", err)
	}
	if len(mods) != 2 {
		t.Fatalf("expected 2 records, got %d", len(mods))
	}
	byID := map[int]Mod{}
	for _, m := range mods {
		byID[m.ID] = m
	}
	if !byID[238222].Found || byID[238222].Slug != "jei" {
		t.Fatalf("mod record mismatch: %+v", byID[238222])
	}
	if byID[238222].SyncAt.IsZero() {
		t.Fatal("sync_at must be stamped at commit")
	}
	if byID[999999].Found {
		t.Fatal("missing upstream id must become a tombstone")
	}

	files, err := typed.FilesOfMod(ctx, 238222)
	if err != nil {
		t.Fatalf("files query error: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("cascade must mirror the mod's files, got %d", len(files))
	}
	for _, f := range files {
		if f.ModID != 238222 || !f.Found {
			t.Fatalf("file record mismatch: %+v", f)
		}
	}
}

func TestSyncModsPaginatesFileList(t *testing.T) {
	page := func(from, count, total int) map[string]any {
		var data []map[string]any
		for i := 0; i < count; i++ {
			data = append(data, map[string]any{"id": 600000 + from + i, "modId": 31111})
		}
		return map[string]any{
			"data":       data,
			"pagination": map[string]any{"index": from, "pageSize": filesPageSize, "resultCount": count, "totalCount": total},
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/mods", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, map[string]any{"data": []map[string]any{{"id": 31111, "slug": "big"}}})
	})
	mux.HandleFunc("GET /v1/mods/31111/files", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("index") == "0" {
			writeJSON(t, w, page(0, filesPageSize, filesPageSize+3))
			return
		}
		writeJSON(t, w, page(filesPageSize, 3, filesPageSize+3))
	})

	s, typed, _ := newTestSyncer(t, mux)
	ctx := context.Background()
	if err := s.handleMods(ctx, jobFor(t, KindMods, ModsPayload{ModIDs: []int{31111}})); err != nil {
		t.Fatalf("handleMods error: %v", err)
	}

	files, err := typed.FilesOfMod(ctx, 31111)
	if err != nil {
		t.Fatalf("files query error: %v", err)
	}
	if len(files) != filesPageSize+3 {
		t.Fatalf("expected %d files across pages, got %d", filesPageSize+3, len(files))
	}
}

func TestSyncFilesTombstonesMissing(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/mods/files", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, map[string]any{"data": []map[string]any{
			{"id": 530001, "modId": 238222, "fileName": "a.jar",
				"hashes": []map[string]any{{"value": "abc", "algo": 1}}},
		}})
	})

	s, typed, _ := newTestSyncer(t, mux)
	ctx := context.Background()
	err := s.handleFiles(ctx, jobFor(t, KindFiles, FilesPayload{FileIDs: []int{530001, 530009}}))
	if err != nil {
		t.Fatalf("handleFiles error: %v", err)
	}

	files, err := typed.FilesByIDs(ctx, []int{530001, 530009})
	if err != nil {
		t.Fatalf("query error: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected record+tombstone, got %d", len(files))
	}
	for _, f := range files {
		switch f.ID {
		case 530001:
			if !f.Found || len(f.Hashes) != 1 || f.Hashes[0].Value != "abc" {
				t.Fatalf("file mismatch: %+v", f)
			}
		case 530009:
			if f.Found {
				t.Fatal("missing file must be tombstoned")
			}
		}
	}
}

func TestSyncFingerprintsSubstitutesResolvedFileID(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/fingerprints/432", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, map[string]any{"data": map[string]any{
			"exactMatches": []map[string]any{
				{"id": 2070800629, "file": map[string]any{"id": 530001, "modId": 238222}},
			},
			"unmatchedFingerprints": []int64{12345},
		}})
	})

	s, typed, _ := newTestSyncer(t, mux)
	ctx := context.Background()
	payload := FingerprintsPayload{Fingerprints: []int64{2070800629, 12345}}
	if err := s.handleFingerprints(ctx, jobFor(t, KindFingerprints, payload)); err != nil {
		t.Fatalf("handleFingerprints error: %v", err)
	}

	fps, err := typed.FingerprintsByIDs(ctx, []int64{2070800629, 12345})
	if err != nil {
		t.Fatalf("query error: %v", err)
	}
	if len(fps) != 2 {
		t.Fatalf("expected match+tombstone, got %d", len(fps))
	}
	for _, fp := range fps {
		switch fp.ID {
		case 2070800629:
			// 存储主键保持指纹值，对外视图替换为文件 id
			if fp.FileID != 530001 {
				t.Fatalf("resolved file id not extracted: %+v", fp)
			}
			if wire := fp.WireView(); wire.ID != 530001 {
				t.Fatalf("wire id must be the resolved file id, got %d", wire.ID)
			}
		case 12345:
			if fp.Found {
				t.Fatal("unmatched fingerprint must be tombstoned")
			}
			if wire := fp.WireView(); wire.ID != 12345 {
				t.Fatalf("tombstone wire id must stay the fingerprint, got %d", wire.ID)
			}
		}
	}
}

func TestSyncCategoriesStoresTagBlob(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/categories", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("gameId") != "432" {
			t.Errorf("missing gameId query: %s", r.URL.String())
		}
		writeJSON(t, w, map[string]any{"data": []map[string]any{{"id": 6, "name": "Mods"}}})
	})

	s, _, tags := newTestSyncer(t, mux)
	ctx := context.Background()
	if err := s.handleCategories(ctx, jobFor(t, KindCategories, struct{}{})); err != nil {
		t.Fatalf("handleCategories error: %v", err)
	}

	blob, err := tags.Get(ctx, Catalog, "categories")
	if err != nil {
		t.Fatalf("tag get error: %v", err)
	}
	var cats []map[string]any
	if err := json.Unmarshal(blob.Value, &cats); err != nil || len(cats) != 1 {
		t.Fatalf("stored blob mismatch: %s", blob.Value)
	}
}

func TestSyncCategoriesNotFoundWritesTombstone(t *testing.T) {
	// 空 mux：分类接口 404
	s, _, tags := newTestSyncer(t, http.NewServeMux())
	ctx := context.Background()
	if err := s.handleCategories(ctx, jobFor(t, KindCategories, struct{}{})); err != nil {
		t.Fatalf("404 不应让任务失败: %v", err)
	}

	blob, err := tags.Get(ctx, Catalog, "categories")
	if err != nil {
		t.Fatalf("缺席必须留下负缓存: %v", err)
	}
	if blob.Found {
		t.Fatal("负缓存必须是 found=false")
	}
}

func TestSyncErrorClassification(t *testing.T) {
	status := http.StatusInternalServerError
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/mods", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	})

	s, _, _ := newTestSyncer(t, mux)
	ctx := context.Background()
	job := jobFor(t, KindMods, ModsPayload{ModIDs: []int{1}})

	err := s.handleMods(ctx, job)
	if err == nil || queue.IsTerminal(err) {
		t.Fatalf("5xx must stay retryable, got %v", err)
	}

	status = http.StatusForbidden
	err = s.handleMods(ctx, job)
	if !queue.IsTerminal(err) {
		t.Fatalf("non-404 4xx must be terminal, got %v", err)
	}
}

func TestTombstoneUpgradedByResync(t *testing.T) {
	found := false
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/mods", func(w http.ResponseWriter, _ *http.Request) {
		if !found {
			writeJSON(t, w, map[string]any{"data": []map[string]any{}})
			return
		}
		writeJSON(t, w, map[string]any{"data": []map[string]any{{"id": 777, "slug": "late"}}})
	})
	mux.HandleFunc("GET /v1/mods/777/files", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, map[string]any{"data": []map[string]any{}})
	})

	s, typed, _ := newTestSyncer(t, mux)
	ctx := context.Background()
	job := jobFor(t, KindMods, ModsPayload{ModIDs: []int{777}})

	if err := s.handleMods(ctx, job); err != nil {
		t.Fatalf("first sync error: %v", err)
	}
	mods, _ := typed.ModsByIDs(ctx, []int{777})
	if len(mods) != 1 || mods[0].Found {
		t.Fatalf("expected tombstone first, got %+v", mods)
	}

	found = true
	if err := s.handleMods(ctx, job); err != nil {
		t.Fatalf("resync error: %v", err)
	}
	mods, _ = typed.ModsByIDs(ctx, []int{777})
	if len(mods) != 1 || !mods[0].Found || mods[0].Slug != "late" {
		t.Fatalf("tombstone must be upgraded to a real record, got %+v", mods)
	}
}

func TestSyncEmptyPayloadIsNoop(t *testing.T) {
	s, _, _ := newTestSyncer(t, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("empty payload must not hit upstream")
	}))
	if err := s.handleMods(context.Background(), jobFor(t, KindMods, ModsPayload{})); err != nil {
		t.Fatalf("empty payload error: %v", err)
	}
}

func TestSyncBadPayloadIsTerminal(t *testing.T) {
	s, _, _ := newTestSyncer(t, http.NewServeMux())
	job := &queue.Job{ID: 1, Kind: KindMods, Payload: []byte("not json")}
	err := s.handleMods(context.Background(), job)
	if !queue.IsTerminal(err) {
		t.Fatalf("undecodable payload must be terminal, got %v", err)
	}
}
