package evcore

import "go.uber.org/zap"

// effectiveTimeout 返回槽位的超时秒数，未设置时使用默认值
func (s *Server) effectiveTimeout(sl *slot) int64 {
	if t := sl.timeout.Load(); t != 0 {
		return int64(t)
	}
	return int64(s.cfg.DefaultTimeout.Seconds())
}

// expired 报告槽位是否已超过空闲期限
func (s *Server) expired(sl *slot, now int64) bool {
	return sl.active.Load()+s.effectiveTimeout(sl) < now
}

// reviewTimeout 每次只检查一个槽位，然后把下一个已绑定槽位作为新的延迟任务。
// STATE 锁忙时在同一槽位上重试至多 SweepRetries 次，之后跳过，由下一轮扫描补上。
// 到达表尾时设置 needReview，由 cycle 重新触发。
func (s *Server) reviewTimeout(i, retries int) {
	now := s.tick.Load()
	sl := s.table.get(i)
	if sl != nil && s.table.bound(i) && s.expired(sl, now) {
		p := s.tryLock(i, LockState)
		if p == nil && s.table.bound(i) && retries < s.cfg.SweepRetries {
			s.m.retries.WithLabelValues(kindSweep).Inc()
			s.enqueue(func() { s.reviewTimeout(i, retries+1) })
			return
		}
		if p != nil {
			b := p.base()
			if !b.locks[LockTask].locked() && !b.locks[LockWrite].locked() {
				if h, ok := s.reactor.HandleAt(i); ok {
					s.enqueue(func() { s.dispatchPing(h) })
				}
			}
			s.unlock(p, LockState)
		} else if retries >= s.cfg.SweepRetries {
			s.log.Debug("sweep skipped busy slot", zap.Int("index", i), zap.Int("retries", retries))
		}
	}
	next := s.table.next(i + 1)
	if next >= s.table.capacity() {
		s.m.sweeps.Inc()
		s.needReview.Store(true)
		return
	}
	s.enqueue(func() { s.reviewTimeout(next, 0) })
}

// dispatchPing 执行前再次检查期限（活跃时间可能在入队后被刷新），避免多余的 ping
func (s *Server) dispatchPing(h Handle) {
	i, err := s.index(h)
	if err != nil {
		return
	}
	sl := s.table.get(i)
	if !s.table.bound(i) || !s.expired(sl, s.tick.Load()) {
		return
	}
	p := s.tryLock(i, LockWrite)
	if p == nil {
		s.m.retries.WithLabelValues(kindPing).Inc()
		s.enqueue(func() { s.dispatchPing(h) })
		return
	}
	s.m.pings.Inc()
	s.call(p, LockWrite, func() { p.Ping(s, h) })
}
