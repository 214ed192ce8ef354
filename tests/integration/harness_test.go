package integration

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/mod-mirror/mod-mirror/internal/catalog"
	"github.com/mod-mirror/mod-mirror/internal/catalog/curseforge"
	"github.com/mod-mirror/mod-mirror/internal/catalog/modrinth"
	"github.com/mod-mirror/mod-mirror/internal/config"
	"github.com/mod-mirror/mod-mirror/internal/queue"
	"github.com/mod-mirror/mod-mirror/internal/server"
	"github.com/mod-mirror/mod-mirror/internal/store"
	"github.com/mod-mirror/mod-mirror/internal/upstream"
)

// mirror 是一套完整的进程内镜像：Fiber 应用 + 队列 + 两个上游 stub。
// worker 不在后台跑，测试用 Drain 同步推进队列，保证断言时序确定。
type mirror struct {
	app    *fiber.App
	worker *queue.Worker
	d      *catalog.Dispatcher

	cfHits atomic.Int64
	mrHits atomic.Int64
}

func newMirror(t *testing.T, cfHandler, mrHandler http.Handler) *mirror {
	t.Helper()

	m := &mirror{}
	counted := func(counter *atomic.Int64, h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			counter.Add(1)
			if h == nil {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			h.ServeHTTP(w, r)
		})
	}
	cfUpstream := httptest.NewServer(counted(&m.cfHits, cfHandler))
	t.Cleanup(cfUpstream.Close)
	mrUpstream := httptest.NewServer(counted(&m.mrHits, mrHandler))
	t.Cleanup(mrUpstream.Close)

	cfg := &config.Config{
		Global: config.GlobalConfig{
			ListenPort:         9095,
			UncachedStatusCode: 404,
			UpstreamTimeout:    config.Duration(2 * time.Second),
			DatabasePath:       filepath.Join(t.TempDir(), "mirror.db"),
		},
		Queue: config.QueueConfig{
			Workers:      1,
			PollInterval: config.Duration(10 * time.Millisecond),
			MaxAttempts:  3,
			RetryBackoff: config.Duration(time.Minute),
			LeaseTimeout: config.Duration(time.Minute),
		},
		Curseforge: config.CurseforgeConfig{
			API:            cfUpstream.URL,
			APIKey:         "test-key",
			ModTTL:         config.Duration(time.Hour),
			FileTTL:        config.Duration(time.Hour),
			FingerprintTTL: config.Duration(time.Hour),
			CategoryTTL:    config.Duration(time.Hour),
		},
		Modrinth: config.ModrinthConfig{
			API:        mrUpstream.URL,
			ProjectTTL: config.Duration(time.Hour),
			VersionTTL: config.Duration(time.Hour),
			FileTTL:    config.Duration(time.Hour),
			TagTTL:     config.Duration(time.Hour),
		},
	}

	db, err := store.Open(cfg.Global.DatabasePath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	cfStore := curseforge.NewStore(db)
	mrStore := modrinth.NewStore(db)
	tags := store.NewTagStore(db)
	q := queue.New(db, cfg.Queue)
	for _, migrate := range []func() error{
		cfStore.Migrate,
		mrStore.Migrate,
		func() error { return store.Migrate(db, &store.TagBlob{}) },
		q.Migrate,
	} {
		if err := migrate(); err != nil {
			t.Fatalf("migrate: %v", err)
		}
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	timeout := cfg.Global.UpstreamTimeout.DurationValue()
	cfClient := curseforge.NewClient(upstream.NewClient(cfg.Curseforge.API, timeout,
		map[string]string{"x-api-key": cfg.Curseforge.APIKey}))
	mrClient := modrinth.NewClient(upstream.NewClient(cfg.Modrinth.API, timeout, nil))

	worker := queue.NewWorker(q, logger)
	curseforge.NewSyncer(cfClient, db, tags, logger).Register(worker)
	modrinth.NewSyncer(mrClient, db, tags, logger).Register(worker)

	dispatcher := catalog.NewDispatcher(q, logger)
	worker.SetFinishHook(dispatcher.JobFinished)

	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Config:     cfg,
		Dispatcher: dispatcher,
		Queue:      q,
		Curseforge: cfStore,
		Modrinth:   mrStore,
		Tags:       tags,
	})
	if err != nil {
		t.Fatalf("app: %v", err)
	}

	m.app = app
	m.worker = worker
	m.d = dispatcher
	return m
}

// drain 同步消费全部排队任务。
func (m *mirror) drain(t *testing.T) {
	t.Helper()
	if err := m.worker.Drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
}

func (m *mirror) get(t *testing.T, path string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	resp, err := m.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	return resp
}

func (m *mirror) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := m.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	return resp
}

func trustableHeader(resp *http.Response) string {
	return resp.Header.Get("X-Mirror-Trustable")
}
