package evcore

import (
	"context"
	"time"
)

// Events 由 Server 实现，Reactor 在观察到 socket 事件时调用。
// 调用发生在轮询 goroutine 中，实现只做 defer，不阻塞。
type Events interface {
	OnReady(h Handle)
	OnData(h Handle)
	OnHangup(h Handle)
	OnError(h Handle)
	// OnClosed 在底层 socket 关闭后调用（无论由哪一方发起）
	OnClosed(h Handle)
}

// Reactor 是 I/O 轮询与 socket 层的抽象。
type Reactor interface {
	// Start 创建轮询实例并绑定事件接收者
	Start(ev Events) error
	// Poll 等待至多 timeout，返回派发的事件数
	Poll(timeout time.Duration) (int, error)
	Register(h Handle) error
	Deregister(h Handle) error
	Active() bool
	// Close 关闭轮询实例，已打开的 socket 不受影响
	Close() error

	// Capacity 返回最大并发连接数（连接表容量）
	Capacity() int
	Valid(h Handle) bool
	Index(h Handle) int
	HandleAt(index int) (Handle, bool)

	Flush(h Handle) error
	// CloseConn 在写缓冲清空后关闭；ForceClose 立即关闭
	CloseConn(h Handle) error
	ForceClose(h Handle) error
}

// Acceptor 为 Listen 提供监听与接受能力。
// 没有待接受的连接时 Accept 返回 ErrWouldBlock。
type Acceptor interface {
	Listen(address string) (Handle, error)
	Accept(listener Handle) (Handle, error)
}

// Dialer 为 Connect 提供非阻塞连接能力
type Dialer interface {
	Connect(address string) (Handle, error)
}

// TimerSource 为 RunEvery 提供周期性可读的定时器句柄
type TimerSource interface {
	OpenTimer(interval time.Duration) (Handle, error)
	ResetTimer(h Handle) error
}

// Waker 可选：打断阻塞中的 Poll
type Waker interface {
	Wake() error
}

// Scheduler 是延迟任务队列与 worker 池。
type Scheduler interface {
	// Defer 入队一个任务，之后在某个 worker 上执行
	Defer(fn func()) error
	// Perform 在调用方 goroutine 上执行任务直到队列为空
	Perform()
	HasQueue() bool
	// Active 在 worker 池运行且未收到停止信号时为 true
	Active() bool
	// Run 启动 workers 个 worker 并阻塞到 ctx 结束
	Run(ctx context.Context, workers int) error
}
