package evcore

import "sync/atomic"

// Protocol 描述一条连接的行为。
// 实现需要内嵌 ProtocolBase（以指针形式使用），未覆盖的回调沿用 ProtocolBase 的默认实现。
//
// 回调在调度器的 worker 上执行，并已持有对应类别的锁：
//   - OnData: LockTask
//   - OnReady / OnShutdown / Ping: LockWrite
//
// OnClose 只会在没有其它回调执行时调用一次，协议的所有者在这里回收资源。
type Protocol interface {
	Service() *Service
	OnData(s *Server, h Handle)
	OnReady(s *Server, h Handle)
	OnShutdown(s *Server, h Handle)
	OnClose(s *Server)
	Ping(s *Server, h Handle)

	base() *ProtocolBase
}

// lockWord 是只支持 try-lock 的锁字，可被扫描器检查而不获取。
type lockWord struct{ v atomic.Uint32 }

func (l *lockWord) tryLock() bool { return l.v.CompareAndSwap(0, 1) }
func (l *lockWord) unlock()       { l.v.Store(0) }
func (l *lockWord) locked() bool  { return l.v.Load() != 0 }

// ProtocolBase 携带三类锁字与在途计数，并提供默认回调。
type ProtocolBase struct {
	locks    [lockCategories]lockWord
	inflight atomic.Int32
}

func (b *ProtocolBase) base() *ProtocolBase { return b }

// Service 默认没有身份标记
func (b *ProtocolBase) Service() *Service { return nil }

func (b *ProtocolBase) OnData(*Server, Handle)     {}
func (b *ProtocolBase) OnReady(*Server, Handle)    {}
func (b *ProtocolBase) OnShutdown(*Server, Handle) {}
func (b *ProtocolBase) OnClose(*Server)            {}

// Ping 默认直接关闭超时连接
func (b *ProtocolBase) Ping(s *Server, h Handle) { _ = s.ForceClose(h) }

// Reserve 标记一个在锁之外仍在进行的操作，OnClose 会等待其 Release。
func (b *ProtocolBase) Reserve() { b.inflight.Add(1) }

// Release 与 Reserve 配对
func (b *ProtocolBase) Release() { b.inflight.Add(-1) }

// Locked 报告某类锁当前是否被持有
func (b *ProtocolBase) Locked(c LockCategory) bool {
	if !c.valid() {
		return false
	}
	return b.locks[c].locked()
}

// InFlight 返回在途计数
func (b *ProtocolBase) InFlight() int { return int(b.inflight.Load()) }

func (b *ProtocolBase) reset() {
	for i := range b.locks {
		b.locks[i].unlock()
	}
	b.inflight.Store(0)
}

// Funcs 是以函数字段描述的协议，nil 字段使用默认行为。
type Funcs struct {
	ProtocolBase

	Svc          *Service
	DataFunc     func(s *Server, h Handle)
	ReadyFunc    func(s *Server, h Handle)
	ShutdownFunc func(s *Server, h Handle)
	CloseFunc    func(s *Server)
	PingFunc     func(s *Server, h Handle)
}

func (f *Funcs) Service() *Service { return f.Svc }

func (f *Funcs) OnData(s *Server, h Handle) {
	if f.DataFunc != nil {
		f.DataFunc(s, h)
	}
}

func (f *Funcs) OnReady(s *Server, h Handle) {
	if f.ReadyFunc != nil {
		f.ReadyFunc(s, h)
	}
}

func (f *Funcs) OnShutdown(s *Server, h Handle) {
	if f.ShutdownFunc != nil {
		f.ShutdownFunc(s, h)
	}
}

func (f *Funcs) OnClose(s *Server) {
	if f.CloseFunc != nil {
		f.CloseFunc(s)
	}
}

func (f *Funcs) Ping(s *Server, h Handle) {
	if f.PingFunc != nil {
		f.PingFunc(s, h)
		return
	}
	f.ProtocolBase.Ping(s, h)
}
