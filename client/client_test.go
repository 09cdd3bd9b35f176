package client

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/legamerdc/evcore/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu     sync.Mutex
	msgs   []protocol.Message
	closed chan error
}

func (h *collector) OnMessage(_ *Client, api uint16, msg []byte) {
	h.mu.Lock()
	h.msgs = append(h.msgs, protocol.Message{API: api, Payload: append([]byte(nil), msg...)})
	h.mu.Unlock()
}

func (h *collector) OnClose(_ *Client, err error) { h.closed <- err }

func (h *collector) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.msgs)
}

func TestClientRoundTrip(t *testing.T) {
	local, remote := net.Pipe()
	h := &collector{closed: make(chan error, 1)}
	c := New(local, h, WithCompressThreshold(8))

	// 对端读取客户端写出的帧，批量帧展开为多条消息
	got := make(chan protocol.Message, 8)
	go func() {
		var p protocol.Parser
		buf := make([]byte, 1024)
		for {
			n, err := remote.Read(buf)
			if err != nil {
				return
			}
			p.Feed(buf[:n])
			for {
				m, err := p.Next()
				if err != nil {
					break
				}
				got <- protocol.Message{API: m.API, Payload: append([]byte(nil), m.Payload...)}
			}
		}
	}()
	recv := func() protocol.Message {
		select {
		case m := <-got:
			return m
		case <-time.After(time.Second):
			t.Fatal("no frame")
			return protocol.Message{}
		}
	}
	require.NoError(t, c.Write(protocol.APIEcho, []byte("hello, evcore")))
	m := recv()
	assert.Equal(t, protocol.APIEcho, m.API)
	assert.Equal(t, "hello, evcore", string(m.Payload))

	require.NoError(t, c.WriteBatch([]protocol.Message{
		{API: protocol.APIChat, Payload: []byte("batched chat message")},
		{API: protocol.APIStats},
	}))
	m = recv()
	assert.Equal(t, protocol.APIChat, m.API)
	assert.Equal(t, "batched chat message", string(m.Payload))
	assert.Equal(t, protocol.APIStats, recv().API)

	frame, err := protocol.Encoder{}.AppendBatch(nil, []protocol.Message{
		{API: protocol.APIWelcome}, {API: protocol.APIChat, Payload: []byte("hi")},
	})
	require.NoError(t, err)
	_, err = remote.Write(frame)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.count() == 2 }, time.Second, time.Millisecond)

	require.NoError(t, remote.Close())
	assert.NoError(t, <-h.closed)
	_ = c.Close()
}
