package server

import (
	"github.com/gofiber/fiber/v3"

	"github.com/mod-mirror/mod-mirror/internal/catalog"
	"github.com/mod-mirror/mod-mirror/internal/catalog/curseforge"
	"github.com/mod-mirror/mod-mirror/internal/catalog/modrinth"
	"github.com/mod-mirror/mod-mirror/internal/version"
)

// registerDiagnosticsRoutes 暴露 /-/ 诊断接口，供 SRE 查询镜像状态。
func registerDiagnosticsRoutes(app *fiber.App, opts AppOptions) {
	app.Get("/-/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"version": version.Full(),
		})
	})

	app.Get("/-/catalogs", func(c fiber.Ctx) error {
		kinds := make([]catalog.KindInfo, 0, 8)
		kinds = append(kinds, curseforge.Kinds(opts.Config.Curseforge)...)
		kinds = append(kinds, modrinth.Kinds(opts.Config.Modrinth)...)

		payload := fiber.Map{
			"kinds":    kinds,
			"inflight": opts.Dispatcher.InflightCount(),
		}
		if opts.Queue != nil {
			depth, err := opts.Queue.Depth(c.Context())
			if err == nil {
				payload["queue_depth"] = depth
			}
		}
		return c.JSON(payload)
	})
}
