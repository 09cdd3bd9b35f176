package evcore

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/legamerdc/evcore/sched"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeReactor 按下标管理句柄：Handle = index<<8 | generation
type fakeReactor struct {
	mu       sync.Mutex
	capacity int
	gens     []int64
	open     []bool
	ev       Events
	started  bool
	shut     bool

	registered map[Handle]int
	closed     []Handle
	pending    []Handle // 等待 Accept 的连接
	polls      atomic.Int32
	pollFn     func(timeout time.Duration) (int, error)
}

func newFakeReactor(capacity int) *fakeReactor {
	return &fakeReactor{
		capacity:   capacity,
		gens:       make([]int64, capacity),
		open:       make([]bool, capacity),
		registered: make(map[Handle]int),
	}
}

// openAt 在下标 i 上打开一条新连接
func (r *fakeReactor) openAt(i int) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gens[i] = (r.gens[i] + 1) & 0xff
	r.open[i] = true
	return Handle(int64(i)<<8 | r.gens[i])
}

func (r *fakeReactor) openFree() Handle {
	r.mu.Lock()
	i := -1
	for j, o := range r.open {
		if !o {
			i = j
			break
		}
	}
	r.mu.Unlock()
	if i < 0 {
		return InvalidHandle
	}
	return r.openAt(i)
}

func (r *fakeReactor) Start(ev Events) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ev = ev
	r.started = true
	return nil
}

func (r *fakeReactor) Poll(timeout time.Duration) (int, error) {
	r.polls.Add(1)
	if r.pollFn != nil {
		return r.pollFn(timeout)
	}
	if timeout > time.Millisecond {
		timeout = time.Millisecond
	}
	time.Sleep(timeout)
	return 0, nil
}

func (r *fakeReactor) Register(h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registered[h]++
	return nil
}

func (r *fakeReactor) Deregister(h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.registered, h)
	return nil
}

func (r *fakeReactor) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started && !r.shut
}

func (r *fakeReactor) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shut = true
	return nil
}

func (r *fakeReactor) Capacity() int { return r.capacity }

func (r *fakeReactor) Index(h Handle) int { return int(h >> 8) }

func (r *fakeReactor) Valid(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.validLocked(h)
}

func (r *fakeReactor) validLocked(h Handle) bool {
	i := int(h >> 8)
	return h >= 0 && i < r.capacity && r.open[i] && r.gens[i] == int64(h&0xff)
}

func (r *fakeReactor) HandleAt(i int) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i < 0 || i >= r.capacity || !r.open[i] {
		return InvalidHandle, false
	}
	return Handle(int64(i)<<8 | r.gens[i]), true
}

func (r *fakeReactor) Flush(Handle) error { return nil }

func (r *fakeReactor) CloseConn(h Handle) error { return r.ForceClose(h) }

func (r *fakeReactor) ForceClose(h Handle) error {
	r.mu.Lock()
	if !r.validLocked(h) {
		r.mu.Unlock()
		return ErrInvalidHandle
	}
	r.open[int(h>>8)] = false
	r.closed = append(r.closed, h)
	ev := r.ev
	r.mu.Unlock()
	ev.OnClosed(h)
	return nil
}

func (r *fakeReactor) closedHandles() []Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Handle(nil), r.closed...)
}

func (r *fakeReactor) registeredCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.registered)
}

func (r *fakeReactor) Listen(string) (Handle, error) { return r.openFree(), nil }

func (r *fakeReactor) Accept(Handle) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) == 0 {
		return InvalidHandle, ErrWouldBlock
	}
	h := r.pending[0]
	r.pending = r.pending[1:]
	return h, nil
}

type testEnv struct {
	srv   *Server
	r     *fakeReactor
	pool  *sched.Pool
	clock *clock.Mock
}

func newTestEnv(t *testing.T, capacity int, opts ...func(*Config)) *testEnv {
	t.Helper()
	r := newFakeReactor(capacity)
	pool := sched.New()
	mc := clock.NewMock()
	mc.Set(time.Unix(1_700_000_000, 0))
	cfg := DefaultConfig()
	cfg.Logger = zaptest.NewLogger(t)
	cfg.Clock = mc
	for _, o := range opts {
		o(&cfg)
	}
	srv, err := New(cfg, r, pool)
	require.NoError(t, err)
	// 不经过 Run 时也需要把关闭事件接到 Server
	r.ev = (*events)(srv)
	return &testEnv{srv: srv, r: r, pool: pool, clock: mc}
}

// advance 推进时钟并刷新 tick，相当于一次 cycle 的开头
func (e *testEnv) advance(d time.Duration) {
	e.clock.Add(d)
	e.srv.updateTick()
}

// counters 记录 Funcs 协议的回调次数
type counters struct {
	data, ready, shutdown, closes, pings atomic.Int32
}

func (c *counters) protocol(svc *Service) *Funcs {
	return &Funcs{
		Svc:          svc,
		DataFunc:     func(*Server, Handle) { c.data.Add(1) },
		ReadyFunc:    func(*Server, Handle) { c.ready.Add(1) },
		ShutdownFunc: func(*Server, Handle) { c.shutdown.Add(1) },
		CloseFunc:    func(*Server) { c.closes.Add(1) },
		PingFunc:     func(*Server, Handle) { c.pings.Add(1) },
	}
}
