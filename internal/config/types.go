package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述全局运行时行为，读路径与后台 worker 共享同一份参数。
type GlobalConfig struct {
	ListenPort         int      `mapstructure:"ListenPort"`
	LogLevel           string   `mapstructure:"LogLevel"`
	LogFilePath        string   `mapstructure:"LogFilePath"`
	LogMaxSize         int      `mapstructure:"LogMaxSize"`
	LogMaxBackups      int      `mapstructure:"LogMaxBackups"`
	LogCompress        bool     `mapstructure:"LogCompress"`
	DatabasePath       string   `mapstructure:"DatabasePath"`
	UncachedStatusCode int      `mapstructure:"UncachedStatusCode"`
	UpstreamTimeout    Duration `mapstructure:"UpstreamTimeout"`
}

// QueueConfig 控制后台同步队列的消费行为。
type QueueConfig struct {
	Workers      int      `mapstructure:"Workers"`
	PollInterval Duration `mapstructure:"PollInterval"`
	MaxAttempts  int      `mapstructure:"MaxAttempts"`
	RetryBackoff Duration `mapstructure:"RetryBackoff"`
	LeaseTimeout Duration `mapstructure:"LeaseTimeout"`
}

// CurseforgeConfig 描述 catalog-A 上游及各实体的过期窗口。
type CurseforgeConfig struct {
	API            string   `mapstructure:"API"`
	APIKey         string   `mapstructure:"APIKey"`
	ModTTL         Duration `mapstructure:"ModTTL"`
	FileTTL        Duration `mapstructure:"FileTTL"`
	FingerprintTTL Duration `mapstructure:"FingerprintTTL"`
	CategoryTTL    Duration `mapstructure:"CategoryTTL"`
}

// ModrinthConfig 描述 catalog-B 上游及各实体的过期窗口。
type ModrinthConfig struct {
	API        string   `mapstructure:"API"`
	ProjectTTL Duration `mapstructure:"ProjectTTL"`
	VersionTTL Duration `mapstructure:"VersionTTL"`
	FileTTL    Duration `mapstructure:"FileTTL"`
	TagTTL     Duration `mapstructure:"TagTTL"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global     GlobalConfig     `mapstructure:",squash"`
	Queue      QueueConfig      `mapstructure:"Queue"`
	Curseforge CurseforgeConfig `mapstructure:"Curseforge"`
	Modrinth   ModrinthConfig   `mapstructure:"Modrinth"`
}
