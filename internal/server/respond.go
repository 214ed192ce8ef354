package server

import (
	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
)

// 响应约定：每个成功响应携带 X-Mirror-Trustable 头；
// "还没有数据"与"数据不可信但存在"是两种不同的信号。
const headerTrustable = "X-Mirror-Trustable"

// respondData 输出镜像数据并标注可信度。
func respondData(c fiber.Ctx, trustable bool, body any) error {
	if trustable {
		c.Set(headerTrustable, "true")
	} else {
		c.Set(headerTrustable, "false")
	}
	return c.JSON(body)
}

// respondUncached 表示该键尚无任何本地数据，同步已在后台进行。
// 状态码可配置，默认 404，区别于带数据的 trustable=false。
func respondUncached(c fiber.Ctx, statusCode int) error {
	c.Set(headerTrustable, "false")
	return c.Status(statusCode).JSON(fiber.Map{"error": "uncached", "detail": "sync in progress"})
}

// respondNotFound 表示上游已确认不存在（墓碑命中）。答案本身可信。
func respondNotFound(c fiber.Ctx) error {
	c.Set(headerTrustable, "true")
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
}

func respondBadRequest(c fiber.Ctx, detail string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "detail": detail})
}

// logReadDegraded 记录读路径的降级：错误只进日志，客户端拿到 uncached。
func logReadDegraded(logger *logrus.Logger, c fiber.Ctx, catalogName string, err error) {
	logger.WithError(err).WithFields(logrus.Fields{
		"action":     "read_degraded",
		"catalog":    catalogName,
		"path":       c.Path(),
		"request_id": RequestID(c),
	}).Warn("读路径降级为 uncached")
}
