package modrinth

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

	db, err := store.Open(filepath.Join(t.TempDir(), "mr.db"))
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
	client := NewClient(upstream.NewClient(srv.URL, time.Second, nil))
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

// sodiumUpstream 提供一个带 2 版本 4 文件的项目图。
func sodiumUpstream(t *testing.T) *http.ServeMux {
	t.Helper()
	versions := []map[string]any{
		{
			"id": "v1", "project_id": "AANobbMI", "name": "Sodium 0.5.0",
			"files": []map[string]any{
				{"hashes": map[string]string{"sha1": "a1", "sha512": "a1-512"}, "filename": "sodium-1.jar", "url": "https://cdn/a1"},
				{"hashes": map[string]string{"sha1": "a2"}, "filename": "sodium-1-extra.jar"},
			},
		},
		{
			"id": "v2", "project_id": "AANobbMI", "name": "Sodium 0.5.1",
			"files": []map[string]any{
				{"hashes": map[string]string{"sha1": "b1"}, "filename": "sodium-2.jar"},
				{"hashes": map[string]string{"sha1": "b2"}, "filename": "sodium-2-extra.jar"},
			},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v2/project/AANobbMI", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, map[string]any{"id": "AANobbMI", "slug": "sodium", "title": "Sodium"})
	})
	mux.HandleFunc("GET /v2/project/sodium", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, map[string]any{"id": "AANobbMI", "slug": "sodium", "title": "Sodium"})
	})
	mux.HandleFunc("GET /v2/project/AANobbMI/version", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, versions)
	})
	mux.HandleFunc("GET /v2/versions", func(w http.ResponseWriter, r *http.Request) {
		var ids []string
		if err := json.Unmarshal([]byte(r.URL.Query().Get("ids")), &ids); err != nil {
			t.Errorf("decode ids query: %v", err)
		}
		out := []map[string]any{}
		for _, id := range ids {
			for _, v := range versions {
				if v["id"] == id {
					out = append(out, v)
				}
			}
		}
		writeJSON(t, w, out)
	})
	return mux
}

func TestSyncProjectCommitsWholeGraph(t *testing.T) {
	s, typed, _ := newTestSyncer(t, sodiumUpstream(t))
	ctx := context.Background()

	err := s.handleProjects(ctx, jobFor(t, KindProject, ProjectsPayload{IDs: []string{"sodium"}}))
	if err != nil {
		t.Fatalf("handleProjects error: %v", err)
	}

	p, err := typed.ProjectByIDOrSlug(ctx, "sodium")
	if err != nil || p == nil {
		t.Fatalf("project lookup failed: %v %v", p, err)
	}
	if p.ID != "AANobbMI" || !p.Found {
		t.Fatalf("project mismatch: %+v", p)
	}

	vs, err := typed.VersionsOfProject(ctx, "AANobbMI")
	if err != nil {
		t.Fatalf("versions query error: %v", err)
	}
	if len(vs) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(vs))
	}
	for _, v := range vs {
		if v.Slug != "sodium" {
			t.Fatalf("version must carry denormalized slug: %+v", v)
		}
	}

	fs, err := typed.FilesByHashes(ctx, []string{"a1", "a2", "b1", "b2"}, AlgoSHA1)
	if err != nil {
		t.Fatalf("files query error: %v", err)
	}
	if len(fs) != 4 {
		t.Fatalf("expected 4 flat files, got %d", len(fs))
	}
}

func TestSyncVersionCascadesToParentProject(t *testing.T) {
	s, typed, _ := newTestSyncer(t, sodiumUpstream(t))
	ctx := context.Background()

	// 只请求一个 version，也要重建父项目的完整版本索引
	err := s.handleVersions(ctx, jobFor(t, KindVersion, VersionsPayload{IDs: []string{"v1"}}))
	if err != nil {
		t.Fatalf("handleVersions error: %v", err)
	}

	vs, err := typed.VersionsOfProject(ctx, "AANobbMI")
	if err != nil {
		t.Fatalf("versions query error: %v", err)
	}
	if len(vs) != 2 {
		t.Fatalf("cascade must mirror the sibling version too, got %d", len(vs))
	}
	p, err := typed.ProjectByIDOrSlug(ctx, "AANobbMI")
	if err != nil || p == nil || !p.Found {
		t.Fatalf("cascade must mirror the parent project: %v %v", p, err)
	}
}

func TestSyncVersionTombstonesMissing(t *testing.T) {
	s, typed, _ := newTestSyncer(t, sodiumUpstream(t))
	ctx := context.Background()

	err := s.handleVersions(ctx, jobFor(t, KindVersions, VersionsPayload{IDs: []string{"gone1"}}))
	if err != nil {
		t.Fatalf("handleVersions error: %v", err)
	}

	vs, err := typed.VersionsByIDs(ctx, []string{"gone1"})
	if err != nil {
		t.Fatalf("query error: %v", err)
	}
	if len(vs) != 1 || vs[0].Found {
		t.Fatalf("missing version must be tombstoned, got %+v", vs)
	}
}

func TestSyncHashesResolvesAndTombstones(t *testing.T) {
	mux := sodiumUpstream(t)
	mux.HandleFunc("POST /v2/version_files", func(w http.ResponseWriter, r *http.Request) {
		var body HashesPayload
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body.Algorithm != AlgoSHA1 {
			t.Errorf("algorithm mismatch: %s", body.Algorithm)
		}
		writeJSON(t, w, map[string]any{
			"a1": map[string]any{"id": "v1", "project_id": "AANobbMI"},
		})
	})

	s, typed, _ := newTestSyncer(t, mux)
	ctx := context.Background()

	payload := HashesPayload{Hashes: []string{"a1", "nohit"}, Algorithm: AlgoSHA1}
	if err := s.handleHashes(ctx, jobFor(t, KindHashes, payload)); err != nil {
		t.Fatalf("handleHashes error: %v", err)
	}

	// 命中的哈希通过项目级联落库
	fs, err := typed.FilesByHashes(ctx, []string{"a1"}, AlgoSHA1)
	if err != nil || len(fs) != 1 || !fs[0].Found {
		t.Fatalf("matched hash must be mirrored: %v %v", fs, err)
	}
	// 未命中的哈希写墓碑，且 sha512 查询同样命中负缓存
	for _, algo := range []string{AlgoSHA1, AlgoSHA512} {
		fs, err = typed.FilesByHashes(ctx, []string{"nohit"}, algo)
		if err != nil || len(fs) != 1 || fs[0].Found {
			t.Fatalf("unmatched hash must be tombstoned for %s: %v %v", algo, fs, err)
		}
	}
}

func TestSyncProjectNotFoundWritesTombstoneByRequestKey(t *testing.T) {
	s, typed, _ := newTestSyncer(t, http.NewServeMux())
	ctx := context.Background()

	err := s.handleProjects(ctx, jobFor(t, KindProject, ProjectsPayload{IDs: []string{"ghost-slug"}}))
	if err != nil {
		t.Fatalf("handleProjects error: %v", err)
	}

	p, err := typed.ProjectByIDOrSlug(ctx, "ghost-slug")
	if err != nil || p == nil {
		t.Fatalf("tombstone lookup failed: %v %v", p, err)
	}
	if p.Found {
		t.Fatal("404 must produce a found=false tombstone")
	}
}

func TestSyncTagsStoresEachType(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v2/tag/{type}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []map[string]any{{"name": r.PathValue("type")}})
	})

	s, _, tags := newTestSyncer(t, mux)
	ctx := context.Background()
	if err := s.handleTags(ctx, jobFor(t, KindTags, TagsPayload{})); err != nil {
		t.Fatalf("handleTags error: %v", err)
	}

	for _, tagType := range DefaultTagTypes {
		blob, err := tags.Get(ctx, Catalog, tagType)
		if err != nil {
			t.Fatalf("tag %s not stored: %v", tagType, err)
		}
		if len(blob.Value) == 0 {
			t.Fatalf("tag %s blob empty", tagType)
		}
	}
}

func TestSyncTagsTombstonesUnknownType(t *testing.T) {
	// 空 mux：任何标签类型都 404
	s, _, tags := newTestSyncer(t, http.NewServeMux())
	ctx := context.Background()

	err := s.handleTags(ctx, jobFor(t, KindTags, TagsPayload{Types: []string{"widget"}}))
	if err != nil {
		t.Fatalf("404 标签类型不应让任务失败: %v", err)
	}

	blob, err := tags.Get(ctx, Catalog, "widget")
	if err != nil {
		t.Fatalf("未知类型必须留下负缓存: %v", err)
	}
	if blob.Found {
		t.Fatal("负缓存必须是 found=false")
	}
}

func TestSyncRetryableUpstreamFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v2/project/p1", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	s, _, _ := newTestSyncer(t, mux)
	err := s.handleProjects(context.Background(), jobFor(t, KindProject, ProjectsPayload{IDs: []string{"p1"}}))
	if err == nil || queue.IsTerminal(err) {
		t.Fatalf("5xx must stay retryable, got %v", err)
	}
}

func TestSyncPartialCascadeFailureCommitsNothing(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v2/project/ok", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, map[string]any{"id": "ok", "slug": "ok"})
	})
	mux.HandleFunc("GET /v2/project/ok/version", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, []map[string]any{})
	})
	mux.HandleFunc("GET /v2/project/boom", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	s, typed, _ := newTestSyncer(t, mux)
	ctx := context.Background()

	err := s.handleProjects(ctx, jobFor(t, KindProjects, ProjectsPayload{IDs: []string{"ok", "boom"}}))
	if err == nil {
		t.Fatal("cascade failure must fail the whole job")
	}

	// 全有或全无：成功拉到的兄弟项目也不得提交
	p, qerr := typed.ProjectByIDOrSlug(ctx, "ok")
	if qerr != nil {
		t.Fatalf("query error: %v", qerr)
	}
	if p != nil {
		t.Fatalf("partial cascade failure must commit nothing, found %+v", p)
	}
}
