package evcore

import (
	"math"
	"time"

	"go.uber.org/zap"
)

// Attach 将协议绑定到连接（p 为 nil 时解绑）。
// 旧协议的 OnClose 以延迟任务的形式调用，不会在当前调用栈内执行。
func (s *Server) Attach(h Handle, p Protocol) error {
	if p != nil {
		p.base().reset()
	}
	i, err := s.index(h)
	if err != nil {
		return err
	}
	sl := s.table.get(i)
	sl.mu.Lock()
	old := sl.protocol
	sl.protocol = p
	sl.active.Store(s.tick.Load())
	sl.mu.Unlock()

	switch {
	case old == nil && p != nil:
		s.m.bound.Inc()
	case old != nil && p == nil:
		s.m.bound.Dec()
	}
	if p != nil {
		s.m.attached.Inc()
	}
	if old != nil {
		s.enqueue(func() { s.closeProtocol(old) })
	}
	if s.reactor.Active() {
		if err := s.reactor.Register(h); err != nil {
			s.log.Warn("register failed", zap.Stringer("handle", h), zap.Error(err))
		}
	}
	s.log.Debug("attach", zap.Stringer("handle", h), zap.Stringer("service", serviceOf(p)), zap.Bool("replaced", old != nil))
	return nil
}

// SetTimeout 设置连接的空闲超时（秒精度），0 表示使用默认值。同时刷新活跃时间。
func (s *Server) SetTimeout(h Handle, d time.Duration) error {
	if d < 0 {
		return ErrInvalidArgument
	}
	i, err := s.index(h)
	if err != nil {
		return err
	}
	secs := d / time.Second
	if secs > math.MaxUint32 {
		secs = math.MaxUint32
	}
	sl := s.table.get(i)
	sl.active.Store(s.tick.Load())
	sl.timeout.Store(uint32(secs))
	return nil
}

// Timeout 返回连接设置的超时；未设置或句柄无效时为 0
func (s *Server) Timeout(h Handle) time.Duration {
	i, err := s.index(h)
	if err != nil {
		return 0
	}
	return time.Duration(s.table.get(i).timeout.Load()) * time.Second
}

// Touch 刷新连接的活跃时间
func (s *Server) Touch(h Handle) {
	if i, err := s.index(h); err == nil {
		s.table.get(i).active.Store(s.tick.Load())
	}
}

// Count 统计绑定了 svc 协议的连接数；svc 为 nil 时统计所有非内部协议。
func (s *Server) Count(svc *Service) int {
	n := 0
	for i := 0; i < s.table.capacity(); i++ {
		p := s.table.protocol(i)
		if p == nil {
			continue
		}
		got := p.Service()
		if got.internal() {
			continue
		}
		if svc == nil || got == svc {
			n++
		}
	}
	return n
}

// Close 在写缓冲清空后关闭连接
func (s *Server) Close(h Handle) error { return s.reactor.CloseConn(h) }

// ForceClose 立即关闭连接
func (s *Server) ForceClose(h Handle) error { return s.reactor.ForceClose(h) }

// detach 在底层 socket 关闭后清空槽位，延迟调用旧协议的 OnClose。
// 此时句柄已经失效，只按下标访问。
func (s *Server) detach(h Handle) {
	if old := s.detachIndex(s.reactor.Index(h)); old != nil {
		s.log.Debug("detach", zap.Stringer("handle", h), zap.Stringer("service", old.Service()))
	}
}

func (s *Server) detachIndex(i int) Protocol {
	if s.table.get(i) == nil {
		return nil
	}
	old := s.table.reset(i, nil, s.tick.Load())
	if old == nil {
		return nil
	}
	s.m.bound.Dec()
	s.enqueue(func() { s.closeProtocol(old) })
	return old
}

// closeProtocol 在协议仍有回调在途时推迟自身，保证 OnClose 不与其它回调并发
func (s *Server) closeProtocol(p Protocol) {
	if p.base().inflight.Load() != 0 {
		s.m.retries.WithLabelValues(kindClose).Inc()
		s.enqueue(func() { s.closeProtocol(p) })
		return
	}
	s.m.closed.Inc()
	p.OnClose(s)
}

// call 在类别锁内执行 fn，fn panic 时同样释放锁
func (s *Server) call(p Protocol, c LockCategory, fn func()) {
	defer s.unlock(p, c)
	fn()
}

// dispatch 在类别锁内执行回调：连接已关闭时放弃，锁忙时重新入队。
func (s *Server) dispatch(h Handle, c LockCategory, kind string, fn func(p Protocol)) {
	i, err := s.index(h)
	if err != nil || !s.table.bound(i) {
		return
	}
	p := s.tryLock(i, c)
	if p == nil {
		s.m.retries.WithLabelValues(kind).Inc()
		s.enqueue(func() { s.dispatch(h, c, kind, fn) })
		return
	}
	s.m.tasks.WithLabelValues(kind).Inc()
	s.call(p, c, func() { fn(p) })
}

func (s *Server) dispatchData(h Handle) {
	s.dispatch(h, LockTask, kindData, func(p Protocol) { p.OnData(s, h) })
}

func (s *Server) dispatchReady(h Handle) {
	s.dispatch(h, LockWrite, kindReady, func(p Protocol) { p.OnReady(s, h) })
}

// dispatchShutdown 在写锁内调用 OnShutdown，释放锁后关闭连接
func (s *Server) dispatchShutdown(h Handle) {
	i, err := s.index(h)
	if err != nil || !s.table.bound(i) {
		return
	}
	p := s.tryLock(i, LockWrite)
	if p == nil {
		s.m.retries.WithLabelValues(kindShutdown).Inc()
		s.enqueue(func() { s.dispatchShutdown(h) })
		return
	}
	s.m.tasks.WithLabelValues(kindShutdown).Inc()
	s.call(p, LockWrite, func() { p.OnShutdown(s, h) })
	if err := s.reactor.CloseConn(h); err != nil {
		s.log.Debug("shutdown close", zap.Stringer("handle", h), zap.Error(err))
	}
}

// events 将 Reactor 回调转换为延迟任务
type events Server

func (e *events) OnReady(h Handle) {
	s := (*Server)(e)
	s.enqueue(func() {
		if err := s.reactor.Flush(h); err != nil {
			s.log.Debug("flush", zap.Stringer("handle", h), zap.Error(err))
		}
	})
	s.enqueue(func() { s.dispatchReady(h) })
}

func (e *events) OnData(h Handle) {
	s := (*Server)(e)
	s.enqueue(func() { s.dispatchData(h) })
}

func (e *events) OnHangup(h Handle) { _ = (*Server)(e).ForceClose(h) }

func (e *events) OnError(h Handle) {
	s := (*Server)(e)
	s.log.Debug("socket error", zap.Stringer("handle", h))
	_ = s.ForceClose(h)
}

func (e *events) OnClosed(h Handle) { (*Server)(e).detach(h) }

func serviceOf(p Protocol) *Service {
	if p == nil {
		return nil
	}
	return p.Service()
}
