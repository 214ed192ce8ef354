package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyQueueDefaults(&cfg.Queue)
	applyCurseforgeDefaults(&cfg.Curseforge)
	applyModrinthDefaults(&cfg.Modrinth)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absDB, err := filepath.Abs(cfg.Global.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析数据库路径: %w", err)
	}
	cfg.Global.DatabasePath = absDB

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 8080)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("DatabasePath", "./mod-mirror.db")
	v.SetDefault("UncachedStatusCode", 404)
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("Queue.Workers", 4)
	v.SetDefault("Queue.PollInterval", "500ms")
	v.SetDefault("Queue.MaxAttempts", 5)
	v.SetDefault("Queue.RetryBackoff", "30s")
	v.SetDefault("Queue.LeaseTimeout", "2m")
	v.SetDefault("Curseforge.API", "https://api.curseforge.com")
	v.SetDefault("Modrinth.API", "https://api.modrinth.com")
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 8080
	}
	if g.UncachedStatusCode == 0 {
		g.UncachedStatusCode = 404
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
}

func applyQueueDefaults(q *QueueConfig) {
	if q.Workers == 0 {
		q.Workers = 4
	}
	if q.PollInterval.DurationValue() == 0 {
		q.PollInterval = Duration(500 * time.Millisecond)
	}
	if q.MaxAttempts == 0 {
		q.MaxAttempts = 5
	}
	if q.RetryBackoff.DurationValue() == 0 {
		q.RetryBackoff = Duration(30 * time.Second)
	}
	if q.LeaseTimeout.DurationValue() == 0 {
		q.LeaseTimeout = Duration(2 * time.Minute)
	}
}

func applyCurseforgeDefaults(c *CurseforgeConfig) {
	if c.API == "" {
		c.API = "https://api.curseforge.com"
	}
	if c.ModTTL.DurationValue() == 0 {
		c.ModTTL = Duration(4 * time.Hour)
	}
	if c.FileTTL.DurationValue() == 0 {
		c.FileTTL = Duration(4 * time.Hour)
	}
	if c.FingerprintTTL.DurationValue() == 0 {
		c.FingerprintTTL = Duration(168 * time.Hour)
	}
	if c.CategoryTTL.DurationValue() == 0 {
		c.CategoryTTL = Duration(24 * time.Hour)
	}
}

func applyModrinthDefaults(m *ModrinthConfig) {
	if m.API == "" {
		m.API = "https://api.modrinth.com"
	}
	if m.ProjectTTL.DurationValue() == 0 {
		m.ProjectTTL = Duration(4 * time.Hour)
	}
	if m.VersionTTL.DurationValue() == 0 {
		m.VersionTTL = Duration(4 * time.Hour)
	}
	if m.FileTTL.DurationValue() == 0 {
		m.FileTTL = Duration(4 * time.Hour)
	}
	if m.TagTTL.DurationValue() == 0 {
		m.TagTTL = Duration(24 * time.Hour)
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
