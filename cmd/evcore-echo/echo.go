package main

import (
	"errors"
	"io"
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/legamerdc/evcore"
	"github.com/legamerdc/evcore/config"
	"github.com/legamerdc/evcore/protocol"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var echoService = evcore.NewService("echo")

// Conn 是 session 需要的 socket 读写能力，由 poller.Poller 提供
type Conn interface {
	Read(h evcore.Handle, b []byte) (int, error)
	Write(h evcore.Handle, b []byte) error
}

type app struct {
	io  Conn
	cfg config.ListenConfig
	enc protocol.Encoder
	log *zap.Logger

	messages   *prometheus.CounterVec
	broadcasts prometheus.Counter
}

func newApp(conn Conn, cfg config.ListenConfig, reg prometheus.Registerer, log *zap.Logger) *app {
	f := promauto.With(reg)
	return &app{
		io:  conn,
		cfg: cfg,
		enc: protocol.Encoder{Threshold: cfg.CompressThreshold},
		log: log.Named("echo"),
		messages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "evcore_echo_messages_total",
			Help: "Messages received from clients, by api",
		}, []string{"api"}),
		broadcasts: f.NewCounter(prometheus.CounterOpts{
			Name: "evcore_echo_broadcasts_total",
			Help: "Chat messages fanned out to other connections",
		}),
	}
}

// open 为新连接创建 session（监听协议的 OnOpen）
func (a *app) open(s *evcore.Server, h evcore.Handle) evcore.Protocol {
	if a.cfg.Timeout > 0 {
		_ = s.SetTimeout(h, a.cfg.Timeout)
	}
	c := &session{
		app:    a,
		id:     uuid.New(),
		parser: protocol.Parser{MaxFrame: a.cfg.MaxFrame},
	}
	a.log.Debug("session opened", zap.Stringer("session", c.id), zap.Stringer("handle", h))
	a.send(h, protocol.APIWelcome, []byte(c.id.String()))
	return c
}

func (a *app) send(h evcore.Handle, api uint16, payload []byte) {
	frame, err := a.enc.Append(nil, api, payload)
	if err == nil {
		err = a.io.Write(h, frame)
	}
	if err != nil {
		a.log.Debug("write failed", zap.Stringer("handle", h), zap.Error(err))
	}
}

type session struct {
	evcore.ProtocolBase
	app    *app
	id     uuid.UUID
	parser protocol.Parser // 仅在 TASK 锁内访问
	rbuf   [16 << 10]byte
	pinged bool // 仅在 WRITE 锁内访问
}

func (c *session) Service() *evcore.Service { return echoService }

// OnData 读到 EAGAIN 为止（边沿触发）
func (c *session) OnData(s *evcore.Server, h evcore.Handle) {
	for {
		n, err := c.app.io.Read(h, c.rbuf[:])
		if err != nil {
			if !errors.Is(err, evcore.ErrWouldBlock) {
				if !errors.Is(err, io.EOF) {
					c.app.log.Debug("read failed", zap.Stringer("handle", h), zap.Error(err))
				}
				_ = s.ForceClose(h)
			}
			return
		}
		s.Touch(h)
		c.parser.Feed(c.rbuf[:n])
		if !c.drain(s, h) {
			_ = s.ForceClose(h)
			return
		}
	}
}

func (c *session) drain(s *evcore.Server, h evcore.Handle) bool {
	for {
		m, err := c.parser.Next()
		if errors.Is(err, protocol.ErrIncomplete) {
			return true
		}
		if err != nil {
			c.app.log.Info("bad frame", zap.Stringer("session", c.id), zap.Error(err))
			return false
		}
		c.app.messages.WithLabelValues(strconv.Itoa(int(m.API))).Inc()
		c.handle(s, h, m)
	}
}

func (c *session) handle(s *evcore.Server, h evcore.Handle, m protocol.Message) {
	a := c.app
	switch m.API {
	case protocol.APIEcho:
		a.send(h, protocol.APIEcho, m.Payload)
	case protocol.APIChat:
		a.broadcast(s, h, m.Payload)
	case protocol.APIStats:
		a.send(h, protocol.APIStats, []byte(strconv.Itoa(s.Count(echoService))))
	case protocol.APIPing:
		// 客户端对探测的回应，Touch 已经完成
	default:
		a.log.Debug("unknown api", zap.Stringer("handle", h), zap.Uint16("api", m.API))
	}
	// 任何回包都结束一次空闲探测
	_ = s.Defer(h, func(_ *evcore.Server, _ evcore.Handle, p evcore.Protocol) {
		p.(*session).pinged = false
	}, nil, evcore.LockWrite)
}

// broadcast 把聊天消息转发给其它连接，完成后告知发送方接收者数量
func (a *app) broadcast(s *evcore.Server, origin evcore.Handle, payload []byte) {
	frame, err := a.enc.Append(nil, protocol.APIChat, payload)
	if err != nil {
		a.log.Warn("encode chat", zap.Error(err))
		return
	}
	var delivered atomic.Int64
	err = s.Each(origin, echoService, func(_ *evcore.Server, h evcore.Handle, _ evcore.Protocol) {
		if a.io.Write(h, frame) == nil {
			delivered.Add(1)
		}
	}, func(s *evcore.Server, origin evcore.Handle) {
		a.broadcasts.Inc()
		n := []byte(strconv.FormatInt(delivered.Load(), 10))
		_ = s.Defer(origin, func(_ *evcore.Server, h evcore.Handle, _ evcore.Protocol) {
			a.send(h, protocol.APIChatDone, n)
		}, nil, evcore.LockWrite)
	}, evcore.LockWrite)
	if err != nil {
		a.log.Warn("broadcast", zap.Error(err))
	}
}

// Ping 第一次超时发送探测，仍无回应时关闭
func (c *session) Ping(s *evcore.Server, h evcore.Handle) {
	if c.pinged {
		c.app.log.Debug("idle session closed", zap.Stringer("session", c.id))
		_ = s.ForceClose(h)
		return
	}
	c.pinged = true
	c.app.send(h, protocol.APIPing, nil)
	s.Touch(h)
}

func (c *session) OnClose(*evcore.Server) {
	c.app.log.Debug("session closed", zap.Stringer("session", c.id))
}

func (c *session) OnShutdown(_ *evcore.Server, h evcore.Handle) {
	c.app.send(h, protocol.APIShutdown, nil)
}
