//go:build linux

package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/legamerdc/evcore"
	"github.com/legamerdc/evcore/client"
	"github.com/legamerdc/evcore/config"
	"github.com/legamerdc/evcore/poller"
	"github.com/legamerdc/evcore/protocol"
	"github.com/legamerdc/evcore/sched"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type inbox struct {
	mu   sync.Mutex
	msgs []protocol.Message
}

func (b *inbox) OnMessage(_ *client.Client, api uint16, msg []byte) {
	b.mu.Lock()
	b.msgs = append(b.msgs, protocol.Message{API: api, Payload: append([]byte(nil), msg...)})
	b.mu.Unlock()
}

func (b *inbox) OnClose(*client.Client, error) {}

func (b *inbox) find(api uint16) (protocol.Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range b.msgs {
		if m.API == api {
			return m, true
		}
	}
	return protocol.Message{}, false
}

func (b *inbox) wait(t *testing.T, api uint16) protocol.Message {
	t.Helper()
	var m protocol.Message
	require.Eventually(t, func() bool {
		var ok bool
		m, ok = b.find(api)
		return ok
	}, 3*time.Second, 5*time.Millisecond, "api %d", api)
	return m
}

func TestEchoAndChat(t *testing.T) {
	log := zaptest.NewLogger(t)
	p, err := poller.New(poller.Config{Capacity: 4096, Logger: log})
	require.NoError(t, err)
	pool := sched.New(sched.WithLogger(log))
	core := evcore.DefaultConfig()
	core.Workers = 4
	core.PollTimeout = 20 * time.Millisecond
	core.Logger = log
	srv, err := evcore.New(core, p, pool)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	a := newApp(p, config.ListenConfig{CompressThreshold: 64, MaxFrame: 1 << 16}, reg, log)
	lh, err := srv.Listen(evcore.ListenConfig{Address: "127.0.0.1:0", OnOpen: a.open})
	require.NoError(t, err)
	addr, err := p.LocalAddr(lh)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	var alice, bob inbox
	ca, err := client.Dial(ctx, addr, &alice)
	require.NoError(t, err)
	welcome := alice.wait(t, protocol.APIWelcome)
	_, err = uuid.ParseBytes(welcome.Payload)
	assert.NoError(t, err)
	cb, err := client.Dial(ctx, addr, &bob)
	require.NoError(t, err)
	bob.wait(t, protocol.APIWelcome)

	require.NoError(t, ca.Write(protocol.APIEcho, []byte("hello")))
	assert.Equal(t, "hello", string(alice.wait(t, protocol.APIEcho).Payload))

	require.NoError(t, ca.Write(protocol.APIChat, []byte("hi bob")))
	assert.Equal(t, "hi bob", string(bob.wait(t, protocol.APIChat).Payload))
	assert.Equal(t, "1", string(alice.wait(t, protocol.APIChatDone).Payload))
	_, got := alice.find(protocol.APIChat)
	assert.False(t, got, "sender must not receive its own chat")

	require.NoError(t, cb.Write(protocol.APIStats, nil))
	assert.Equal(t, "2", string(bob.wait(t, protocol.APIStats).Payload))

	cancel()
	require.NoError(t, <-done)
	bob.wait(t, protocol.APIShutdown)
	_ = ca.Close()
	_ = cb.Close()
	assert.Zero(t, srv.Count(nil))
}
