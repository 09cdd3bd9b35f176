package evcore

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Config 为核心配置。带 mapstructure 标签的字段可以由 config 包从文件/环境变量加载。
type Config struct {
	Capacity       int           `mapstructure:"capacity" validate:"gte=0"`        // 连接表容量，0 表示由 Reactor 探测
	Workers        int           `mapstructure:"workers" validate:"gte=0"`         // worker goroutine 数量，0 表示 GOMAXPROCS
	PollTimeout    time.Duration `mapstructure:"poll_timeout" validate:"gte=0"`    // 无排队任务时的最长轮询等待
	DefaultTimeout time.Duration `mapstructure:"default_timeout" validate:"gte=0"` // 未设置超时的连接使用的空闲超时
	SweepRetries   int           `mapstructure:"sweep_retries" validate:"gte=0"`   // 扫描在同一槽位上重试的上限
	EachBatch      int           `mapstructure:"each_batch" validate:"gte=0"`      // 广播扫描每轮检查的槽位数
	PrintState     bool          `mapstructure:"print_state"`
	// Name 作为指标的 server 标签。多个 Server 共用一个 Registerer 时必须互不相同。
	Name string `mapstructure:"name"`

	OnIdle   func() `mapstructure:"-"` // 忙碌后的第一个空闲周期调用
	OnFinish func() `mapstructure:"-"` // 关闭排空时调用一次

	Logger     *zap.Logger           `mapstructure:"-"`
	Clock      clock.Clock           `mapstructure:"-"`
	Registerer prometheus.Registerer `mapstructure:"-"`
}

// DefaultConfig 提供一组可工作的默认值
func DefaultConfig() Config {
	return Config{
		PollTimeout:    512 * time.Millisecond,
		DefaultTimeout: 300 * time.Second,
		SweepRetries:   16,
		EachBatch:      64,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.PollTimeout <= 0 {
		c.PollTimeout = d.PollTimeout
	}
	if c.DefaultTimeout < time.Second {
		c.DefaultTimeout = d.DefaultTimeout
	}
	if c.SweepRetries <= 0 {
		c.SweepRetries = d.SweepRetries
	}
	if c.EachBatch <= 0 {
		c.EachBatch = d.EachBatch
	}
	if c.OnIdle == nil {
		c.OnIdle = func() {}
	}
	if c.OnFinish == nil {
		c.OnFinish = func() {}
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
}
