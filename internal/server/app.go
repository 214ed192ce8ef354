// Package server 组装读路径：Fiber 应用、两个目录族的路由与诊断接口。
// 读路径绝不把上游或存储错误抛给客户端，降级为 uncached / trustable=false。
package server

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mod-mirror/mod-mirror/internal/catalog"
	"github.com/mod-mirror/mod-mirror/internal/catalog/curseforge"
	"github.com/mod-mirror/mod-mirror/internal/catalog/modrinth"
	"github.com/mod-mirror/mod-mirror/internal/config"
	"github.com/mod-mirror/mod-mirror/internal/queue"
	"github.com/mod-mirror/mod-mirror/internal/store"
)

const contextKeyRequestID = "_modmirror_request_id"

// AppOptions 汇总读路径依赖，全部在启动时显式构造注入。
type AppOptions struct {
	Logger     *logrus.Logger
	Config     *config.Config
	Dispatcher *catalog.Dispatcher
	Queue      *queue.Queue
	Curseforge *curseforge.Store
	Modrinth   *modrinth.Store
	Tags       *store.TagStore
}

// NewApp 构建 Fiber 应用并挂载全部路由。
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	if opts.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if opts.Curseforge == nil || opts.Modrinth == nil || opts.Tags == nil {
		return nil, errors.New("catalog stores are required")
	}
	if port := opts.Config.Global.ListenPort; port <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", port)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestIDMiddleware())

	registerCurseforgeRoutes(app, opts)
	registerModrinthRoutes(app, opts)
	registerDiagnosticsRoutes(app, opts)

	return app, nil
}

// requestIDMiddleware 为每个请求生成 ID 并回写响应头，日志用它串联。
func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// RequestID 返回中间件写入的请求标识。
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

// forceRequested 判断调用方是否要求绕过缓存强制同步。
func forceRequested(c fiber.Ctx) bool {
	return c.Query("force") == "true"
}
