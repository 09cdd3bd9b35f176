// Package config 从 YAML 文件与 EVCORE_ 前缀的环境变量加载 evcore-echo 的配置。
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/legamerdc/evcore"
	"github.com/legamerdc/evcore/poller"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix 环境变量前缀，键中的 "." 替换为 "_"，例如 EVCORE_CORE_WORKERS
const EnvPrefix = "EVCORE"

type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Core    evcore.Config `mapstructure:"core"`
	Poller  poller.Config `mapstructure:"poller"`
	Listen  ListenConfig  `mapstructure:"listen"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type LoggingConfig struct {
	Level  zapcore.Level `mapstructure:"level"`
	Format string        `mapstructure:"format" validate:"oneof=json console"`
	// Output 为 stdout、stderr 或文件路径
	Output string `mapstructure:"output" validate:"required"`
}

type ListenConfig struct {
	Address string `mapstructure:"address" validate:"required"`
	// Timeout 为每条连接的空闲超时，0 使用 core.default_timeout
	Timeout time.Duration `mapstructure:"timeout" validate:"gte=0"`
	// CompressThreshold 为压缩回包的最小长度，0 表示不压缩
	CompressThreshold int `mapstructure:"compress_threshold" validate:"gte=0"`
	MaxFrame          int `mapstructure:"max_frame" validate:"gte=0"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address" validate:"required_if=Enabled true"`
	Path    string `mapstructure:"path" validate:"omitempty,startswith=/"`
}

var validate = validator.New()

// Load 依次应用默认值、配置文件（path 为空时跳过）与环境变量，然后校验。
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.TextUnmarshallerHookFunc(),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults 为每个键注册默认值，AutomaticEnv 只对已知的键生效
func setDefaults(v *viper.Viper) {
	core := evcore.DefaultConfig()
	pc := poller.DefaultConfig()

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("core.capacity", 0)
	v.SetDefault("core.workers", 0)
	v.SetDefault("core.poll_timeout", core.PollTimeout)
	v.SetDefault("core.default_timeout", core.DefaultTimeout)
	v.SetDefault("core.sweep_retries", core.SweepRetries)
	v.SetDefault("core.each_batch", core.EachBatch)
	v.SetDefault("core.print_state", true)

	v.SetDefault("poller.capacity", 0)
	v.SetDefault("poller.max_capacity", pc.MaxCapacity)
	v.SetDefault("poller.event_batch", pc.EventBatch)
	v.SetDefault("poller.backlog", pc.Backlog)
	v.SetDefault("poller.reuse_port", pc.ReusePort)
	v.SetDefault("poller.no_delay", pc.NoDelay)

	v.SetDefault("listen.address", ":3000")
	v.SetDefault("listen.timeout", 0)
	v.SetDefault("listen.compress_threshold", 512)
	v.SetDefault("listen.max_frame", 1<<20)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.address", ":9100")
	v.SetDefault("metrics.path", "/metrics")
}

// Validate 按结构体标签校验，返回第一个失败的字段
func Validate(cfg *Config) error {
	err := validate.Struct(cfg)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		e := verrs[0]
		return fmt.Errorf("config: %s failed on %q (value: %v)", e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
