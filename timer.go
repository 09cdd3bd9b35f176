package evcore

import "time"

type timer struct {
	ProtocolBase
	src         TimerSource
	task        func()
	onFinish    func()
	repetitions int // 0 表示无限次；仅在 task 锁内访问
}

func (t *timer) Service() *Service { return timerService }

func (t *timer) OnData(s *Server, h Handle) {
	t.task()
	_ = t.src.ResetTimer(h)
	if t.repetitions == 0 {
		return
	}
	t.repetitions--
	if t.repetitions > 0 {
		return
	}
	_ = s.reactor.Deregister(h)
	_ = s.reactor.ForceClose(h)
}

// Ping 定时器不会超时
func (t *timer) Ping(s *Server, h Handle) { s.Touch(h) }

func (t *timer) OnClose(*Server) {
	if t.onFinish != nil {
		t.onFinish()
	}
}

// RunEvery 每隔 interval 执行一次 task，共 repetitions 次（0 表示一直执行），
// 结束后调用 onFinish。每个定时器占用一个连接槽位。Reactor 需要实现 TimerSource。
func (s *Server) RunEvery(interval time.Duration, repetitions int, task func(), onFinish func()) (Handle, error) {
	if task == nil || interval <= 0 || repetitions < 0 {
		return InvalidHandle, ErrInvalidArgument
	}
	src, ok := s.reactor.(TimerSource)
	if !ok {
		return InvalidHandle, ErrNotSupported
	}
	h, err := src.OpenTimer(interval)
	if err != nil {
		return InvalidHandle, err
	}
	t := &timer{src: src, task: task, onFinish: onFinish, repetitions: repetitions}
	if err := s.Attach(h, t); err != nil {
		_ = s.reactor.ForceClose(h)
		return InvalidHandle, err
	}
	return h, nil
}
