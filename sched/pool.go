// Package sched 提供延迟任务队列与 worker 池，实现 evcore.Scheduler。
//
// 任务是 func()，按 FIFO 顺序由任意 worker 执行；Perform 可在调用方 goroutine 上
// 同步排空队列（用于关闭阶段与测试）。worker 只在队列为空时等待。
package sched

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/legamerdc/evcore/internal/ring"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrNilTask 入队了 nil 任务
var ErrNilTask = errors.New("sched: nil task")

// ErrRunning Run 被重复调用
var ErrRunning = errors.New("sched: pool already running")

type Option func(*Pool)

// WithLogger 设置任务 panic 时使用的 logger
func WithLogger(l *zap.Logger) Option {
	return func(p *Pool) { p.log = l }
}

// WithInitialCapacity 设置队列初始容量
func WithInitialCapacity(n int) Option {
	return func(p *Pool) { p.q = ring.New[func()](n) }
}

type Pool struct {
	mu     sync.Mutex
	q      *ring.Queue[func()]
	signal chan struct{}

	active   atomic.Bool
	running  atomic.Bool
	executed atomic.Uint64
	panics   atomic.Uint64

	log *zap.Logger
}

func New(opts ...Option) *Pool {
	p := &Pool{
		q:   ring.New[func()](1024),
		log: zap.NewNop(),
	}
	for _, o := range opts {
		o(p)
	}
	p.signal = make(chan struct{}, 1)
	return p
}

// Defer 入队任务并唤醒一个空闲 worker
func (p *Pool) Defer(fn func()) error {
	if fn == nil {
		return ErrNilTask
	}
	p.mu.Lock()
	p.q.Push(fn)
	p.mu.Unlock()
	p.notify()
	return nil
}

func (p *Pool) notify() {
	select {
	case p.signal <- struct{}{}:
	default:
	}
}

func (p *Pool) pop() (func(), bool) {
	p.mu.Lock()
	fn, ok := p.q.Pop()
	more := p.q.Len() > 0
	p.mu.Unlock()
	if ok && more {
		// 传递唤醒，让其它 worker 也开始处理
		p.notify()
	}
	return fn, ok
}

// Step 执行一个任务，队列为空时返回 false
func (p *Pool) Step() bool {
	fn, ok := p.pop()
	if !ok {
		return false
	}
	p.execute(fn)
	return true
}

// Perform 在当前 goroutine 上执行任务直到队列为空（包括执行期间新入队的任务）
func (p *Pool) Perform() {
	for p.Step() {
	}
}

func (p *Pool) HasQueue() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.q.Len() > 0
}

// Len 返回排队任务数
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.q.Len()
}

// Active 在 Run 运行且 ctx 未结束时为 true
func (p *Pool) Active() bool { return p.active.Load() }

// Executed 返回已执行的任务数
func (p *Pool) Executed() uint64 { return p.executed.Load() }

// Run 启动 workers 个 worker，阻塞到 ctx 结束。
// 停止时 worker 执行完手上的任务后退出，队列中剩余的任务留给 Perform。
// Go 不支持安全 fork，多进程模式以多 worker goroutine 代替。
func (p *Pool) Run(ctx context.Context, workers int) error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer p.running.Store(false)
	if workers <= 0 {
		workers = 1
	}
	p.active.Store(true)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		p.active.Store(false)
		return nil
	})
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			p.worker(gctx)
			return nil
		})
	}
	err := g.Wait()
	p.active.Store(false)
	return err
}

func (p *Pool) worker(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if p.Step() {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-p.signal:
		}
	}
}

// execute 执行任务并吸收 panic
func (p *Pool) execute(fn func()) {
	defer func() {
		p.executed.Add(1)
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.log.Error("sched: task panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	fn()
}

// Panics 返回发生 panic 的任务数
func (p *Pool) Panics() uint64 { return p.panics.Load() }
