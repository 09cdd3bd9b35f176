// Package client 是 echo/chat 协议的阻塞式客户端，基于 net.Conn。
package client

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/legamerdc/evcore/protocol"
	"go.uber.org/zap"
)

type Handler interface {
	OnMessage(c *Client, api uint16, msg []byte)
	OnClose(c *Client, err error)
}

type Option func(*Client)

func WithLogger(l *zap.Logger) Option { return func(c *Client) { c.log = l } }

// WithCompressThreshold 不小于 n 字节的消息压缩发送
func WithCompressThreshold(n int) Option { return func(c *Client) { c.enc.Threshold = n } }

type Client struct {
	conn net.Conn
	log  *zap.Logger
	enc  protocol.Encoder
	prs  protocol.Parser

	mu   sync.Mutex // 串行化写
	wbuf []byte
	done chan struct{}
}

// Dial 连接服务端并启动读 goroutine
func Dial(ctx context.Context, address string, h Handler, opts ...Option) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	return New(conn, h, opts...), nil
}

// New 在已建立的连接上创建客户端
func New(conn net.Conn, h Handler, opts ...Option) *Client {
	c := &Client{conn: conn, log: zap.NewNop(), done: make(chan struct{})}
	for _, o := range opts {
		o(c)
	}
	go c.readLoop(h)
	return c
}

func (c *Client) readLoop(h Handler) {
	defer close(c.done)
	buf := make([]byte, 64<<10)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			c.prs.Feed(buf[:n])
			for {
				m, perr := c.prs.Next()
				if errors.Is(perr, protocol.ErrIncomplete) {
					break
				}
				if perr != nil {
					c.log.Warn("parse failed", zap.Error(perr))
					_ = c.conn.Close()
					h.OnClose(c, perr)
					return
				}
				h.OnMessage(c, m.API, m.Payload)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				err = nil
			}
			h.OnClose(c, err)
			return
		}
	}
}

func (c *Client) Write(api uint16, msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var err error
	if c.wbuf, err = c.enc.Append(c.wbuf[:0], api, msg); err != nil {
		return err
	}
	_, err = c.conn.Write(c.wbuf)
	return err
}

// WriteBatch 以一个批量帧发送多条消息
func (c *Client) WriteBatch(msgs []protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var err error
	if c.wbuf, err = c.enc.AppendBatch(c.wbuf[:0], msgs); err != nil {
		return err
	}
	_, err = c.conn.Write(c.wbuf)
	return err
}

// Close 关闭连接并等待读 goroutine 退出
func (c *Client) Close() error {
	err := c.conn.Close()
	<-c.done
	return err
}
