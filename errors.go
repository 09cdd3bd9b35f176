package evcore

import "errors"

var (
	// ErrPlatformNotSupported 非 Linux 平台的占位错误（需要 epoll）
	ErrPlatformNotSupported = errors.New("evcore: platform not supported (requires Linux/epoll)")

	// ErrNotSupported reactor 未实现对应的可选能力（Acceptor/Dialer/TimerSource）
	ErrNotSupported = errors.New("evcore: operation not supported by reactor")

	// ErrInvalidArgument 参数非法
	ErrInvalidArgument = errors.New("evcore: invalid argument")

	// ErrInvalidHandle 句柄已失效或越界
	ErrInvalidHandle = errors.New("evcore: invalid handle")

	// ErrNotBound 连接上没有绑定协议（已关闭）
	ErrNotBound = errors.New("evcore: no protocol bound")

	// ErrWouldBlock 锁被占用，稍后重试；不代表连接已关闭
	ErrWouldBlock = errors.New("evcore: would block")

	// ErrCapacity 无法确定或分配连接表容量
	ErrCapacity = errors.New("evcore: connection capacity unavailable")

	// ErrStopped 调度器已停止
	ErrStopped = errors.New("evcore: stopped")
)
