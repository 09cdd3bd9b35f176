package evcore

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Server 持有连接表，并把 Reactor 事件转换为受锁保护的延迟任务。
type Server struct {
	cfg     Config
	log     *zap.Logger
	clk     clock.Clock
	reactor Reactor
	sched   Scheduler
	table   *table
	m       *metrics
	pid     int

	tick       atomic.Int64 // 最近一次周期的时间（秒）
	needReview atomic.Bool
	idle       atomic.Bool

	running atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc
}

// New 构造未启动的 Server。容量在此确定，之后不再变化。
func New(cfg Config, r Reactor, sched Scheduler) (*Server, error) {
	if r == nil || sched == nil {
		return nil, ErrInvalidArgument
	}
	cfg.applyDefaults()
	capa := cfg.Capacity
	if capa <= 0 {
		capa = r.Capacity()
	}
	if capa <= 0 {
		return nil, fmt.Errorf("%w: reactor reported %d", ErrCapacity, capa)
	}
	s := &Server{
		cfg:     cfg,
		log:     cfg.Logger.Named("evcore"),
		clk:     cfg.Clock,
		reactor: r,
		sched:   sched,
		table:   newTable(capa),
		m:       newMetrics(cfg.Registerer, cfg.Name),
		pid:     os.Getpid(),
	}
	s.updateTick()
	if cfg.PrintState {
		s.log.Info("initialized connection table",
			zap.Int("capacity", capa),
			zap.Uintptr("slot_bytes", unsafe.Sizeof(slot{})),
			zap.Uintptr("table_bytes", uintptr(capa)*unsafe.Sizeof(slot{})))
	}
	return s, nil
}

// Run 启动 worker 池并阻塞，直到 ctx 结束或调用 Stop，然后排空所有连接。
func (s *Server) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: server already running", ErrInvalidArgument)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	workers := s.cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if s.cfg.PrintState {
		s.log.Info("server is running, press ^C to stop",
			zap.Int("workers", workers), zap.Int("pid", s.pid))
	}
	if err := s.sched.Defer(s.initRun); err != nil {
		return err
	}
	err := s.sched.Run(ctx, workers)
	err = multierr.Append(err, s.cleanup())
	if s.cfg.PrintState {
		s.log.Info("completed shutdown", zap.Int("pid", s.pid))
	}
	return err
}

// Stop 通知 Run 退出
func (s *Server) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if w, ok := s.reactor.(Waker); ok {
		_ = w.Wake()
	}
}

// LastTick 返回最近一次处理 I/O 事件的时间（秒精度）
func (s *Server) LastTick() time.Time { return time.Unix(s.tick.Load(), 0) }

// Logger 返回核心使用的 logger，协议实现可以复用
func (s *Server) Logger() *zap.Logger { return s.log }

// Reactor 返回底层 Reactor，协议实现用它读写 socket
func (s *Server) Reactor() Reactor { return s.reactor }

func (s *Server) updateTick() { s.tick.Store(s.clk.Now().Unix()) }

// enqueue 入队；调度器拒绝时只记录日志
func (s *Server) enqueue(fn func()) {
	if err := s.sched.Defer(fn); err != nil {
		s.log.Error("defer failed", zap.Error(err))
	}
}

func (s *Server) initRun() {
	if err := s.reactor.Start((*events)(s)); err != nil {
		s.log.Error("reactor start failed", zap.Error(err))
		s.Stop()
		return
	}
	s.updateTick()
	for i := 0; i < s.table.capacity(); i++ {
		p := s.table.protocol(i)
		if p == nil {
			continue
		}
		h, ok := s.reactor.HandleAt(i)
		if !ok {
			// 启动前已关闭的连接没有收到 OnClosed
			s.detachIndex(i)
			continue
		}
		if err := s.reactor.Register(h); err != nil {
			s.log.Warn("register failed", zap.Stringer("handle", h), zap.Error(err))
			continue
		}
		if l, ok := p.(*listener); ok {
			l.start(s, h)
		}
	}
	s.needReview.Store(true)
	s.enqueue(s.cycle)
}

// cycle 为一次事件循环：记录 tick、轮询、空闲回调、触发超时扫描，然后重新入队自身。
func (s *Server) cycle() {
	s.m.cycles.Inc()
	s.updateTick()
	timeout := s.cfg.PollTimeout
	if s.sched.HasQueue() {
		timeout = 0
	}
	n, err := s.reactor.Poll(timeout)
	if err != nil {
		s.log.Error("reactor poll failed, stopping", zap.Error(err))
		s.Stop()
		return
	}
	if n > 0 {
		s.idle.Store(true)
	} else if s.idle.CompareAndSwap(true, false) {
		s.cfg.OnIdle()
	}
	if !s.sched.Active() {
		return
	}
	if s.needReview.CompareAndSwap(true, false) {
		s.enqueue(func() { s.reviewTimeout(0, 0) })
	}
	s.enqueue(s.cycle)
}

// cleanup 两轮排空：先向所有连接投递 OnShutdown，再让关闭产生的回调全部执行完。
func (s *Server) cleanup() error {
	s.log.Info("cleaning up", zap.Int("pid", s.pid), zap.Int("connections", s.Count(nil)))
	for i := 0; i < s.table.capacity(); i++ {
		if !s.table.bound(i) {
			continue
		}
		if h, ok := s.reactor.HandleAt(i); ok {
			s.enqueue(func() { s.dispatchShutdown(h) })
		}
	}
	s.cycle()
	s.sched.Perform()
	s.cycle()
	s.cfg.OnFinish()
	s.sched.Perform()
	return s.reactor.Close()
}
