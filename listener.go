package evcore

import (
	"errors"

	"go.uber.org/zap"
)

// ListenConfig 描述一个监听端口
type ListenConfig struct {
	Address string
	// OnOpen 为新连接返回协议；返回 nil 时连接被关闭
	OnOpen func(s *Server, h Handle) Protocol
	// OnStart 在事件循环启动（或已运行时在 Listen 返回前）调用
	OnStart func(s *Server, listener Handle)
	// OnFinish 在监听关闭后调用
	OnFinish func(s *Server)
}

type listener struct {
	ProtocolBase
	cfg ListenConfig
	acc Acceptor
}

func (l *listener) Service() *Service { return listenerService }

// OnData 每次接受一个连接，再把自己重新入队以继续接受，避免长时间占用 worker。
func (l *listener) OnData(s *Server, h Handle) {
	nh, err := l.acc.Accept(h)
	if err != nil {
		switch {
		case errors.Is(err, ErrWouldBlock):
		case temporary(err):
			s.enqueue(func() { s.dispatchData(h) })
		default:
			s.log.Error("accept failed", zap.String("address", l.cfg.Address), zap.Error(err))
		}
		return
	}
	s.enqueue(func() { s.openAccepted(nh, h) })
	s.enqueue(func() { s.dispatchData(h) })
}

// Ping 监听连接不会超时
func (l *listener) Ping(s *Server, h Handle) { s.Touch(h) }

func (l *listener) OnClose(s *Server) {
	if l.cfg.OnFinish != nil {
		l.cfg.OnFinish(s)
	}
	if s.cfg.PrintState {
		s.log.Info("stopped listening", zap.String("address", l.cfg.Address), zap.Int("pid", s.pid))
	}
}

func (l *listener) start(s *Server, h Handle) {
	s.Touch(h)
	if l.cfg.OnStart != nil {
		l.cfg.OnStart(s, h)
	}
}

// openAccepted 在监听协议的写锁内调用 OnOpen 并绑定新协议
func (s *Server) openAccepted(nh, lh Handle) {
	i, err := s.index(lh)
	var p Protocol
	if err == nil {
		p = s.tryLock(i, LockWrite)
	}
	if p == nil {
		if err == nil && s.table.bound(i) {
			s.enqueue(func() { s.openAccepted(nh, lh) })
			return
		}
		// 监听已关闭
		_ = s.reactor.ForceClose(nh)
		return
	}
	l, ok := p.(*listener)
	if !ok {
		s.unlock(p, LockWrite)
		_ = s.reactor.ForceClose(nh)
		return
	}
	s.call(p, LockWrite, func() {
		np := l.cfg.OnOpen(s, nh)
		if np == nil {
			_ = s.reactor.CloseConn(nh)
			return
		}
		if err := s.Attach(nh, np); err != nil {
			s.log.Debug("attach accepted connection", zap.Stringer("handle", nh), zap.Error(err))
			_ = s.reactor.CloseConn(nh)
		}
	})
}

// Listen 打开监听 socket 并绑定内部监听协议。Reactor 需要实现 Acceptor。
func (s *Server) Listen(cfg ListenConfig) (Handle, error) {
	if cfg.OnOpen == nil || cfg.Address == "" {
		return InvalidHandle, ErrInvalidArgument
	}
	acc, ok := s.reactor.(Acceptor)
	if !ok {
		return InvalidHandle, ErrNotSupported
	}
	h, err := acc.Listen(cfg.Address)
	if err != nil {
		return InvalidHandle, err
	}
	l := &listener{cfg: cfg, acc: acc}
	if err := s.Attach(h, l); err != nil {
		_ = s.reactor.ForceClose(h)
		return InvalidHandle, err
	}
	if s.cfg.PrintState {
		s.log.Info("listening", zap.String("address", cfg.Address))
	}
	if s.reactor.Active() {
		l.start(s, h)
	}
	return h, nil
}

// temporary 识别 ECONNABORTED/ECONNRESET 等可重试的 accept 错误
func temporary(err error) bool {
	var t interface{ Temporary() bool }
	return errors.As(err, &t) && t.Temporary()
}
