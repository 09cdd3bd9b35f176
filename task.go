package evcore

import (
	"sync"

	"go.uber.org/zap"
)

// TaskFunc 在连接的类别锁内执行
type TaskFunc func(s *Server, h Handle, p Protocol)

// FallbackFunc 在连接于任务执行前关闭时调用，用于释放任务持有的资源
type FallbackFunc func(s *Server, h Handle)

// CompleteFunc 在广播任务全部完成后以发起方句柄调用一次
type CompleteFunc func(s *Server, origin Handle)

type task struct {
	work     TaskFunc
	fallback FallbackFunc
	cat      LockCategory
}

// Defer 调度一个受连接锁保护的任务。
//
// 任务执行前连接已关闭时改为调用 fallback（仅一次），work 不会执行。
// 锁被占用时任务原样重新入队，不会自旋等待。
// 句柄无效或连接未绑定协议时 fallback 被延迟调用，并同步返回错误。
func (s *Server) Defer(h Handle, work TaskFunc, fallback FallbackFunc, c LockCategory) error {
	if fallback == nil {
		fallback = func(*Server, Handle) {}
	}
	if work == nil || !c.valid() {
		return ErrInvalidArgument
	}
	i, err := s.index(h)
	if err == nil && !s.table.bound(i) {
		err = ErrNotBound
	}
	if err != nil {
		s.enqueue(func() { fallback(s, h) })
		return err
	}
	t := &task{work: work, fallback: fallback, cat: c}
	s.enqueue(func() { s.performTask(h, t) })
	return nil
}

func (s *Server) performTask(h Handle, t *task) {
	i, err := s.index(h)
	if err != nil || !s.table.bound(i) {
		s.m.fallbacks.Inc()
		t.fallback(s, h)
		return
	}
	p := s.tryLock(i, t.cat)
	if p == nil {
		s.m.retries.WithLabelValues(kindSingle).Inc()
		s.enqueue(func() { s.performTask(h, t) })
		return
	}
	s.m.tasks.WithLabelValues(kindSingle).Inc()
	s.call(p, t.cat, func() { t.work(s, h, p) })
}

// eachTask 为广播任务的共享记录。count 初始为 1，代表扫描本身。
type eachTask struct {
	origin     Handle
	svc        *Service
	work       TaskFunc
	onComplete CompleteFunc
	cat        LockCategory

	mu      sync.Mutex // 聚合锁
	count   int
	matched int
}

// Each 对所有绑定了 svc 协议的连接（排除 origin）调度 work，
// 全部完成后调用 onComplete 一次。origin 可以为 InvalidHandle。
//
// 扫描按 EachBatch 分批进行，每批之后让出调度器。执行时协议已更换的连接会被跳过，
// 已关闭的连接直接计为完成。
func (s *Server) Each(origin Handle, svc *Service, work TaskFunc, onComplete CompleteFunc, c LockCategory) error {
	if onComplete == nil {
		onComplete = func(*Server, Handle) {}
	}
	if work == nil || !c.valid() {
		s.enqueue(func() { onComplete(s, origin) })
		return ErrInvalidArgument
	}
	t := &eachTask{
		origin:     origin,
		svc:        svc,
		work:       work,
		onComplete: onComplete,
		cat:        c,
		count:      1,
	}
	s.enqueue(func() { s.scanEach(s.table.next(0), t) })
	return nil
}

// scanEach 从下标 i 开始扫描一批槽位
func (s *Server) scanEach(i int, t *eachTask) {
	for n := 0; n < s.cfg.EachBatch; n++ {
		if i >= s.table.capacity() {
			s.enqueue(func() { s.finishEach(t) })
			return
		}
		sl := s.table.get(i)
		if !sl.mu.TryLock() {
			s.m.retries.WithLabelValues(kindEach).Inc()
			s.enqueue(func() { s.scanEach(i, t) })
			return
		}
		p := sl.protocol
		match := p != nil && p.Service() == t.svc
		sl.mu.Unlock()
		if match {
			if h, ok := s.reactor.HandleAt(i); ok && h != t.origin {
				t.mu.Lock()
				t.count++
				t.matched++
				t.mu.Unlock()
				idx := i
				s.enqueue(func() { s.performEach(idx, h, t) })
			}
		}
		i = s.table.next(i + 1)
	}
	if i >= s.table.capacity() {
		s.enqueue(func() { s.finishEach(t) })
		return
	}
	s.enqueue(func() { s.scanEach(i, t) })
}

func (s *Server) performEach(i int, h Handle, t *eachTask) {
	if !s.table.bound(i) || !s.reactor.Valid(h) {
		s.finishEach(t)
		return
	}
	p := s.tryLock(i, t.cat)
	if p == nil {
		s.m.retries.WithLabelValues(kindEach).Inc()
		s.enqueue(func() { s.performEach(i, h, t) })
		return
	}
	// 扫描与执行之间协议可能已被替换，或句柄已被复用
	if p.Service() == t.svc && s.reactor.Valid(h) {
		s.m.tasks.WithLabelValues(kindEach).Inc()
		s.call(p, t.cat, func() { t.work(s, h, p) })
	} else {
		s.unlock(p, t.cat)
	}
	s.enqueue(func() { s.finishEach(t) })
}

// finishEach 在聚合锁内递减计数，归零时调用 onComplete
func (s *Server) finishEach(t *eachTask) {
	if !t.mu.TryLock() {
		s.enqueue(func() { s.finishEach(t) })
		return
	}
	t.count--
	done := t.count == 0
	t.mu.Unlock()
	if !done {
		return
	}
	s.m.broadcasts.Inc()
	s.log.Debug("broadcast complete",
		zap.Stringer("origin", t.origin), zap.Stringer("service", t.svc), zap.Int("matched", t.matched))
	t.onComplete(s, t.origin)
}
