//go:build linux

package poller

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/legamerdc/evcore"
	"github.com/legamerdc/evcore/internal/netutil"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// ErrClosing 连接已调用 CloseConn，不再接受写入
var ErrClosing = errors.New("poller: connection is closing")

type fdKind uint8

const (
	kindSocket fdKind = iota
	kindListener
	kindTimer
)

type fdState struct {
	word atomic.Uint32

	mu      sync.Mutex // 保护写队列
	wq      [][]byte
	closing bool
	kind    fdKind
}

type Poller struct {
	cfg    Config
	log    *zap.Logger
	states []fdState

	mu     sync.Mutex // Start / Close / Wake
	efd    int
	wfd    int // eventfd，用于唤醒
	active atomic.Bool
	ev     atomic.Pointer[evcore.Events]
	buf    []unix.EpollEvent
}

var (
	_ evcore.Reactor     = (*Poller)(nil)
	_ evcore.Acceptor    = (*Poller)(nil)
	_ evcore.Dialer      = (*Poller)(nil)
	_ evcore.TimerSource = (*Poller)(nil)
	_ evcore.Waker       = (*Poller)(nil)
)

// New 创建 Poller。容量在此确定：fd 大于等于容量的连接会被拒绝。
func New(cfg Config) (*Poller, error) {
	cfg.applyDefaults()
	capa := cfg.Capacity
	if capa <= 0 {
		var rl unix.Rlimit
		if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rl); err != nil {
			return nil, fmt.Errorf("poller: getrlimit: %w", err)
		}
		capa = int(min(rl.Cur, uint64(cfg.MaxCapacity)))
	}
	if capa <= 0 {
		return nil, evcore.ErrCapacity
	}
	return &Poller{
		cfg:    cfg,
		log:    cfg.Logger.Named("poller"),
		states: make([]fdState, capa),
		efd:    -1,
		wfd:    -1,
	}, nil
}

func (p *Poller) Start(ev evcore.Events) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active.Load() {
		return errors.New("poller: already started")
	}
	efd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return fmt.Errorf("poller: epoll_create: %w", err)
	}
	wfd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(efd)
		return fmt.Errorf("poller: eventfd: %w", err)
	}
	wev := &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wfd)}
	if err := unix.EpollCtl(efd, unix.EPOLL_CTL_ADD, wfd, wev); err != nil {
		unix.Close(wfd)
		unix.Close(efd)
		return fmt.Errorf("poller: register eventfd: %w", err)
	}
	p.efd, p.wfd = efd, wfd
	p.buf = make([]unix.EpollEvent, p.cfg.EventBatch)
	p.ev.Store(&ev)
	p.active.Store(true)
	p.log.Debug("started", zap.Int("capacity", len(p.states)))
	return nil
}

func (p *Poller) Active() bool { return p.active.Load() }

// Close 关闭 epoll 实例；已打开的连接保持不变
func (p *Poller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active.CompareAndSwap(true, false) {
		return nil
	}
	err := unix.Close(p.wfd)
	if cerr := unix.Close(p.efd); err == nil {
		err = cerr
	}
	p.efd, p.wfd = -1, -1
	return err
}

func (p *Poller) Wake() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.wfd < 0 {
		return nil
	}
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], 1)
	_, err := unix.Write(p.wfd, b[:])
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func (p *Poller) Poll(timeout time.Duration) (int, error) {
	if !p.active.Load() {
		return 0, nil
	}
	ms := int(timeout / time.Millisecond)
	if timeout > 0 && ms == 0 {
		ms = 1
	}
	n, err := unix.EpollWait(p.efd, p.buf, ms)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, fmt.Errorf("poller: epoll_wait: %w", err)
	}
	ev := *p.ev.Load()
	count := 0
	for i := 0; i < n; i++ {
		e := p.buf[i]
		fd := int(e.Fd)
		if fd == p.wfd {
			var b [8]byte
			_, _ = unix.Read(p.wfd, b[:])
			continue
		}
		h, ok := p.HandleAt(fd)
		if !ok {
			continue
		}
		count++
		switch {
		case e.Events&unix.EPOLLERR != 0:
			ev.OnError(h)
		case e.Events&unix.EPOLLHUP != 0:
			ev.OnHangup(h)
		default:
			if e.Events&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0 {
				ev.OnData(h)
			}
			if e.Events&unix.EPOLLOUT != 0 {
				ev.OnReady(h)
			}
		}
	}
	return count, nil
}

func (p *Poller) Register(h evcore.Handle) error {
	fd, st, err := p.lookup(h)
	if err != nil {
		return err
	}
	if !p.active.Load() {
		return evcore.ErrStopped
	}
	var flags uint32 = unix.EPOLLIN | unix.EPOLLET
	if st.kind == kindSocket {
		flags |= unix.EPOLLOUT | unix.EPOLLRDHUP
	}
	e := &unix.EpollEvent{Events: flags, Fd: int32(fd)}
	err = unix.EpollCtl(p.efd, unix.EPOLL_CTL_ADD, fd, e)
	if err == unix.EEXIST {
		err = unix.EpollCtl(p.efd, unix.EPOLL_CTL_MOD, fd, e)
	}
	return err
}

func (p *Poller) Deregister(h evcore.Handle) error {
	fd, _, err := p.lookup(h)
	if err != nil {
		return err
	}
	if !p.active.Load() {
		return nil
	}
	if err := unix.EpollCtl(p.efd, unix.EPOLL_CTL_DEL, fd, nil); err != nil && err != unix.ENOENT {
		return err
	}
	return nil
}

func (p *Poller) Capacity() int { return len(p.states) }

func (p *Poller) Index(h evcore.Handle) int {
	fd, _ := splitHandle(h)
	return fd
}

func (p *Poller) Valid(h evcore.Handle) bool {
	_, _, err := p.lookup(h)
	return err == nil
}

func (p *Poller) HandleAt(i int) (evcore.Handle, bool) {
	if i < 0 || i >= len(p.states) {
		return evcore.InvalidHandle, false
	}
	gen, open := unpackState(p.states[i].word.Load())
	if !open {
		return evcore.InvalidHandle, false
	}
	return makeHandle(i, gen), true
}

func (p *Poller) lookup(h evcore.Handle) (int, *fdState, error) {
	if h < 0 {
		return -1, nil, evcore.ErrInvalidHandle
	}
	fd, gen := splitHandle(h)
	if fd >= len(p.states) {
		return -1, nil, evcore.ErrInvalidHandle
	}
	st := &p.states[fd]
	g, open := unpackState(st.word.Load())
	if !open || g != gen {
		return -1, nil, evcore.ErrInvalidHandle
	}
	return fd, st, nil
}

// lockValid 返回已加锁的状态，调用方负责解锁
func (p *Poller) lockValid(h evcore.Handle) (int, *fdState, error) {
	fd, st, err := p.lookup(h)
	if err != nil {
		return -1, nil, err
	}
	st.mu.Lock()
	if g, open := unpackState(st.word.Load()); !open || makeHandle(fd, g) != h {
		st.mu.Unlock()
		return -1, nil, evcore.ErrInvalidHandle
	}
	return fd, st, nil
}

// open 为新 fd 分配句柄，代数递增
func (p *Poller) open(fd int, kind fdKind) (evcore.Handle, error) {
	if fd >= len(p.states) {
		unix.Close(fd)
		return evcore.InvalidHandle, fmt.Errorf("%w: fd %d exceeds %d", evcore.ErrCapacity, fd, len(p.states))
	}
	st := &p.states[fd]
	st.mu.Lock()
	gen, _ := unpackState(st.word.Load())
	gen = (gen + 1) & genMask
	st.wq = nil
	st.closing = false
	st.kind = kind
	st.word.Store(packState(gen, true))
	st.mu.Unlock()
	return makeHandle(fd, gen), nil
}

// Adopt 接管一个已打开的 socket，例如继承得到的 fd
func (p *Poller) Adopt(fd int) (evcore.Handle, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return evcore.InvalidHandle, err
	}
	return p.open(fd, kindSocket)
}

// Read 非阻塞读取：无数据返回 ErrWouldBlock，对端关闭返回 io.EOF
func (p *Poller) Read(h evcore.Handle, b []byte) (int, error) {
	fd, _, err := p.lookup(h)
	if err != nil {
		return 0, err
	}
	for {
		n, err := unix.Read(fd, b)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return 0, evcore.ErrWouldBlock
		case err != nil:
			return 0, err
		case n == 0 && len(b) > 0:
			return 0, io.EOF
		}
		return n, nil
	}
}

// Write 立即写入，剩余部分复制后排队等待 Flush
func (p *Poller) Write(h evcore.Handle, b []byte) error {
	fd, st, err := p.lockValid(h)
	if err != nil {
		return err
	}
	defer st.mu.Unlock()
	if st.closing {
		return ErrClosing
	}
	if len(st.wq) == 0 {
		n, err := writeSome(fd, b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	if len(b) > 0 {
		st.wq = append(st.wq, bytes.Clone(b))
	}
	return nil
}

// Queued 返回排队未发送的字节数
func (p *Poller) Queued(h evcore.Handle) int {
	_, st, err := p.lockValid(h)
	if err != nil {
		return 0
	}
	defer st.mu.Unlock()
	n := 0
	for _, b := range st.wq {
		n += len(b)
	}
	return n
}

// writeSome 写到 EAGAIN 为止
func writeSome(fd int, b []byte) (int, error) {
	total := 0
	for total < len(b) {
		n, err := unix.Write(fd, b[total:])
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return total, nil
		case err != nil:
			return total, err
		}
		total += n
	}
	return total, nil
}

func (p *Poller) Flush(h evcore.Handle) error {
	fd, st, err := p.lockValid(h)
	if err != nil {
		return err
	}
	for len(st.wq) > 0 {
		n, err := writeSome(fd, st.wq[0])
		if err != nil {
			st.mu.Unlock()
			return err
		}
		if n < len(st.wq[0]) {
			st.wq[0] = st.wq[0][n:]
			break
		}
		st.wq[0] = nil
		st.wq = st.wq[1:]
	}
	done := st.closing && len(st.wq) == 0
	st.mu.Unlock()
	if done {
		return p.ForceClose(h)
	}
	return nil
}

func (p *Poller) CloseConn(h evcore.Handle) error {
	_, st, err := p.lockValid(h)
	if err != nil {
		return err
	}
	if len(st.wq) > 0 {
		st.closing = true
		st.mu.Unlock()
		return nil
	}
	st.mu.Unlock()
	return p.ForceClose(h)
}

// ForceClose 先使句柄失效并通知 OnClosed，最后才释放 fd，保证 fd 复用前槽位已清空
func (p *Poller) ForceClose(h evcore.Handle) error {
	fd, st, err := p.lockValid(h)
	if err != nil {
		return err
	}
	gen, _ := unpackState(st.word.Load())
	st.word.Store(packState(gen, false))
	st.wq = nil
	st.closing = false
	st.mu.Unlock()

	if p.active.Load() {
		_ = unix.EpollCtl(p.efd, unix.EPOLL_CTL_DEL, fd, nil)
	}
	if ev := p.ev.Load(); ev != nil {
		(*ev).OnClosed(h)
	}
	return unix.Close(fd)
}

func (p *Poller) Listen(address string) (evcore.Handle, error) {
	fam, sa, err := netutil.ResolveSockaddr(address)
	if err != nil {
		return evcore.InvalidHandle, err
	}
	fd, err := unix.Socket(fam, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return evcore.InvalidHandle, fmt.Errorf("poller: socket: %w", err)
	}
	if u, ok := sa.(*unix.SockaddrUnix); ok {
		_ = unix.Unlink(u.Name)
	} else {
		_ = netutil.SetReuseAddr(fd, true)
		if p.cfg.ReusePort {
			_ = netutil.SetReusePort(fd, true)
		}
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return evcore.InvalidHandle, fmt.Errorf("poller: bind %s: %w", address, err)
	}
	if err := unix.Listen(fd, p.cfg.Backlog); err != nil {
		unix.Close(fd)
		return evcore.InvalidHandle, fmt.Errorf("poller: listen %s: %w", address, err)
	}
	return p.open(fd, kindListener)
}

// Accept 接受一个连接。EMFILE/ENFILE 不作为可重试错误返回，避免空转。
func (p *Poller) Accept(listener evcore.Handle) (evcore.Handle, error) {
	fd, _, err := p.lookup(listener)
	if err != nil {
		return evcore.InvalidHandle, err
	}
	nfd, _, err := unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	switch err {
	case nil:
	case unix.EAGAIN:
		return evcore.InvalidHandle, evcore.ErrWouldBlock
	case unix.EMFILE, unix.ENFILE:
		return evcore.InvalidHandle, fmt.Errorf("poller: accept: %v", err)
	default:
		return evcore.InvalidHandle, err
	}
	if p.cfg.NoDelay {
		_ = netutil.SetNoDelay(nfd, true)
	}
	return p.open(nfd, kindSocket)
}

// Connect 发起非阻塞连接，连接建立后产生可写事件
func (p *Poller) Connect(address string) (evcore.Handle, error) {
	fam, sa, err := netutil.ResolveSockaddr(address)
	if err != nil {
		return evcore.InvalidHandle, err
	}
	fd, err := unix.Socket(fam, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return evcore.InvalidHandle, fmt.Errorf("poller: socket: %w", err)
	}
	if fam != unix.AF_UNIX && p.cfg.NoDelay {
		_ = netutil.SetNoDelay(fd, true)
	}
	if err := unix.Connect(fd, sa); err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return evcore.InvalidHandle, fmt.Errorf("poller: connect %s: %w", address, err)
	}
	return p.open(fd, kindSocket)
}

// OpenTimer 创建周期性 timerfd
func (p *Poller) OpenTimer(interval time.Duration) (evcore.Handle, error) {
	if interval <= 0 {
		return evcore.InvalidHandle, evcore.ErrInvalidArgument
	}
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		return evcore.InvalidHandle, fmt.Errorf("poller: timerfd: %w", err)
	}
	ts := unix.NsecToTimespec(interval.Nanoseconds())
	spec := unix.ItimerSpec{Interval: ts, Value: ts}
	if err := unix.TimerfdSettime(fd, 0, &spec, nil); err != nil {
		unix.Close(fd)
		return evcore.InvalidHandle, fmt.Errorf("poller: timerfd_settime: %w", err)
	}
	return p.open(fd, kindTimer)
}

// ResetTimer 读取到期计数，使下一次到期重新触发边沿事件
func (p *Poller) ResetTimer(h evcore.Handle) error {
	fd, _, err := p.lookup(h)
	if err != nil {
		return err
	}
	var b [8]byte
	if _, err := unix.Read(fd, b[:]); err != nil && err != unix.EAGAIN {
		return err
	}
	return nil
}

// LocalAddr 返回 socket 绑定的本地地址
func (p *Poller) LocalAddr(h evcore.Handle) (string, error) {
	fd, _, err := p.lookup(h)
	if err != nil {
		return "", err
	}
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return "", err
	}
	return netutil.SockaddrString(sa), nil
}
