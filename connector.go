package evcore

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// ConnectConfig 描述一个出站连接
type ConnectConfig struct {
	Address string
	// OnConnect 在连接建立后返回协议；返回 nil 时连接被关闭
	OnConnect func(s *Server, h Handle) Protocol
	// OnFail 在连接建立之前关闭时调用
	OnFail func(s *Server)
}

type connector struct {
	ProtocolBase
	cfg    ConnectConfig
	opened bool   // 仅在写锁内访问
	h      Handle // 建立后的句柄，OnClose 时使用
	early  atomic.Bool
}

func (c *connector) Service() *Service { return connectorService }

// OnReady 连接可写即已建立：换上用户协议，并为其投递一次 OnReady
func (c *connector) OnReady(s *Server, h Handle) {
	c.opened = true
	c.h = h
	s.Touch(h)
	p := c.cfg.OnConnect(s, h)
	if p == nil {
		_ = s.reactor.CloseConn(h)
		return
	}
	if err := s.Attach(h, p); err != nil {
		s.log.Debug("attach connected protocol", zap.Stringer("handle", h), zap.Error(err))
		_ = s.reactor.CloseConn(h)
		return
	}
	s.enqueue(func() { s.dispatchReady(h) })
}

// OnData 数据先于可写事件到达：只做标记，用户协议绑定后补投一次 OnData
func (c *connector) OnData(*Server, Handle) {
	c.early.Store(true)
}

// OnClose 在连接器的所有回调结束后调用，此时补投早到的数据不会丢失标记
func (c *connector) OnClose(s *Server) {
	if !c.opened {
		if c.cfg.OnFail != nil {
			c.cfg.OnFail(s)
		}
		return
	}
	if c.early.Load() {
		h := c.h
		s.enqueue(func() { s.dispatchData(h) })
	}
}

// Connect 发起非阻塞连接。Reactor 需要实现 Dialer。
func (s *Server) Connect(cfg ConnectConfig) (Handle, error) {
	if cfg.Address == "" || cfg.OnConnect == nil {
		return InvalidHandle, ErrInvalidArgument
	}
	d, ok := s.reactor.(Dialer)
	if !ok {
		return InvalidHandle, ErrNotSupported
	}
	h, err := d.Connect(cfg.Address)
	if err != nil {
		return InvalidHandle, err
	}
	if err := s.Attach(h, &connector{cfg: cfg}); err != nil {
		_ = s.reactor.ForceClose(h)
		return InvalidHandle, err
	}
	return h, nil
}
