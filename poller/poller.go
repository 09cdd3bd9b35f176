// Package poller 是基于 epoll 的 evcore.Reactor 实现。
//
// 句柄由 fd 与 8 位代数组成：fd 被关闭并复用后，旧句柄自动失效。
// 写入在 socket 缓冲满时排队，由可写事件（Flush）继续发送。
package poller

import (
	"github.com/legamerdc/evcore"
	"go.uber.org/zap"
)

const (
	genBits = 8
	genMask = 1<<genBits - 1

	// DefaultMaxCapacity 限制由 RLIMIT_NOFILE 推算出的容量
	DefaultMaxCapacity = 1 << 16
)

type Config struct {
	// Capacity 为最大 fd（不含），0 表示按 RLIMIT_NOFILE 推算
	Capacity    int `mapstructure:"capacity" validate:"gte=0"`
	MaxCapacity int `mapstructure:"max_capacity" validate:"gte=0"`
	// EventBatch 为一次 epoll_wait 取回的最大事件数
	EventBatch int  `mapstructure:"event_batch" validate:"gte=0"`
	Backlog    int  `mapstructure:"backlog" validate:"gte=0"`
	ReusePort  bool `mapstructure:"reuse_port"`
	NoDelay    bool `mapstructure:"no_delay"`

	Logger *zap.Logger `mapstructure:"-"`
}

func DefaultConfig() Config {
	return Config{
		MaxCapacity: DefaultMaxCapacity,
		EventBatch:  1024,
		Backlog:     1024,
		NoDelay:     true,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.MaxCapacity <= 0 {
		c.MaxCapacity = d.MaxCapacity
	}
	if c.EventBatch <= 0 {
		c.EventBatch = d.EventBatch
	}
	if c.Backlog <= 0 {
		c.Backlog = d.Backlog
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

func makeHandle(fd int, gen uint32) evcore.Handle {
	return evcore.Handle(int64(fd)<<genBits | int64(gen&genMask))
}

func splitHandle(h evcore.Handle) (fd int, gen uint32) {
	return int(h >> genBits), uint32(h) & genMask
}

// state 字：高位为代数，最低位为打开标记
func packState(gen uint32, open bool) uint32 {
	w := (gen & genMask) << 1
	if open {
		w |= 1
	}
	return w
}

func unpackState(w uint32) (gen uint32, open bool) { return w >> 1, w&1 != 0 }
