package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.DatabasePath == "" {
		return newFieldError("Global.DatabasePath", "不能为空")
	}
	if g.UncachedStatusCode < 200 || g.UncachedStatusCode > 599 {
		return newFieldError("Global.UncachedStatusCode", "必须是合法 HTTP 状态码")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}

	q := c.Queue
	if q.Workers <= 0 {
		return newFieldError("Queue.Workers", "必须大于 0")
	}
	if q.PollInterval.DurationValue() <= 0 {
		return newFieldError("Queue.PollInterval", "必须大于 0")
	}
	if q.MaxAttempts <= 0 {
		return newFieldError("Queue.MaxAttempts", "必须大于 0")
	}
	if q.LeaseTimeout.DurationValue() <= 0 {
		return newFieldError("Queue.LeaseTimeout", "必须大于 0")
	}

	if err := validateUpstream(c.Curseforge.API); err != nil {
		return fmt.Errorf("Curseforge.API: %w", err)
	}
	if err := validateUpstream(c.Modrinth.API); err != nil {
		return fmt.Errorf("Modrinth.API: %w", err)
	}

	for _, ttl := range []struct {
		field string
		value Duration
	}{
		{"Curseforge.ModTTL", c.Curseforge.ModTTL},
		{"Curseforge.FileTTL", c.Curseforge.FileTTL},
		{"Curseforge.FingerprintTTL", c.Curseforge.FingerprintTTL},
		{"Curseforge.CategoryTTL", c.Curseforge.CategoryTTL},
		{"Modrinth.ProjectTTL", c.Modrinth.ProjectTTL},
		{"Modrinth.VersionTTL", c.Modrinth.VersionTTL},
		{"Modrinth.FileTTL", c.Modrinth.FileTTL},
		{"Modrinth.TagTTL", c.Modrinth.TagTTL},
	} {
		if ttl.value.DurationValue() <= 0 {
			return newFieldError(ttl.field, "必须大于 0")
		}
	}

	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}
