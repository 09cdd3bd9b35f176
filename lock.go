package evcore

// tryLock 两级加锁：先 try 槽位锁读取协议指针，再 try 类别锁，最后释放槽位锁。
// 返回 nil 表示“稍后重试”，不能当作连接已关闭。
// 成功时在持有槽位锁期间增加在途计数，使 OnClose 能观察到本次持有。
func (s *Server) tryLock(i int, c LockCategory) Protocol {
	sl := s.table.get(i)
	if sl == nil || !sl.mu.TryLock() {
		return nil
	}
	p := sl.protocol
	if p != nil {
		b := p.base()
		if b.locks[c].tryLock() {
			b.inflight.Add(1)
		} else {
			p = nil
		}
	}
	sl.mu.Unlock()
	return p
}

func (s *Server) unlock(p Protocol, c LockCategory) {
	b := p.base()
	b.inflight.Add(-1)
	b.locks[c].unlock()
}

// TryLock 在任务之外访问连接的协议对象。成功后必须调用 Unlock。
//
// 返回 ErrWouldBlock 表示该类别被占用，应稍后重试；ErrNotBound 表示连接已关闭。
func (s *Server) TryLock(h Handle, c LockCategory) (Protocol, error) {
	if !c.valid() {
		return nil, ErrInvalidArgument
	}
	i, err := s.index(h)
	if err != nil {
		return nil, err
	}
	if p := s.tryLock(i, c); p != nil {
		return p, nil
	}
	if !s.table.bound(i) {
		return nil, ErrNotBound
	}
	return nil, ErrWouldBlock
}

// Unlock 释放 TryLock 获得的锁，p 为 nil 时忽略
func (s *Server) Unlock(p Protocol, c LockCategory) {
	if p == nil || !c.valid() {
		return
	}
	s.unlock(p, c)
}

// index 校验句柄并换算为表下标
func (s *Server) index(h Handle) (int, error) {
	if h < 0 || !s.reactor.Valid(h) {
		return -1, ErrInvalidHandle
	}
	i := s.reactor.Index(h)
	if s.table.get(i) == nil {
		return -1, ErrInvalidHandle
	}
	return i, nil
}
