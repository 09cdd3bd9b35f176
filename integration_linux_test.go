//go:build linux

package evcore_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/legamerdc/evcore"
	"github.com/legamerdc/evcore/poller"
	"github.com/legamerdc/evcore/sched"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var pairService = evcore.NewService("pair")

func startServer(t *testing.T) (*evcore.Server, *poller.Poller, func()) {
	t.Helper()
	log := zaptest.NewLogger(t)
	p, err := poller.New(poller.Config{Capacity: 4096, Logger: log})
	require.NoError(t, err)
	cfg := evcore.DefaultConfig()
	cfg.Workers = 2
	cfg.PollTimeout = 10 * time.Millisecond
	cfg.Logger = log
	srv, err := evcore.New(cfg, p, sched.New(sched.WithLogger(log)))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	require.Eventually(t, p.Active, time.Second, time.Millisecond)
	return srv, p, func() {
		cancel()
		require.NoError(t, <-done)
	}
}

func TestListenAndConnect(t *testing.T) {
	srv, p, stop := startServer(t)

	var accepted, connected, received atomic.Int32
	var started atomic.Bool
	lh, err := srv.Listen(evcore.ListenConfig{
		Address: "127.0.0.1:0",
		OnStart: func(*evcore.Server, evcore.Handle) { started.Store(true) },
		OnOpen: func(*evcore.Server, evcore.Handle) evcore.Protocol {
			accepted.Add(1)
			return &evcore.Funcs{
				Svc: pairService,
				DataFunc: func(_ *evcore.Server, h evcore.Handle) {
					buf := make([]byte, 64)
					for {
						if _, err := p.Read(h, buf); err != nil {
							return
						}
						received.Add(1)
					}
				},
			}
		},
	})
	require.NoError(t, err)
	assert.True(t, started.Load())
	addr, err := p.LocalAddr(lh)
	require.NoError(t, err)

	var failed atomic.Bool
	_, err = srv.Connect(evcore.ConnectConfig{
		Address: addr,
		OnConnect: func(_ *evcore.Server, h evcore.Handle) evcore.Protocol {
			connected.Add(1)
			assert.NoError(t, p.Write(h, []byte("ping")))
			return &evcore.Funcs{Svc: pairService}
		},
		OnFail: func(*evcore.Server) { failed.Store(true) },
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return received.Load() > 0 }, 3*time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return srv.Count(pairService) == 2 }, time.Second, time.Millisecond)
	assert.EqualValues(t, 1, accepted.Load())
	assert.EqualValues(t, 1, connected.Load())
	// 监听协议不计入
	assert.Equal(t, 2, srv.Count(nil))

	stop()
	assert.False(t, failed.Load())
	assert.Zero(t, srv.Count(nil))
}

func TestConnectFailure(t *testing.T) {
	srv, p, stop := startServer(t)
	defer stop()

	// 先监听再关闭，得到一个大概率无人监听的端口
	lh, err := p.Listen("127.0.0.1:0")
	require.NoError(t, err)
	addr, err := p.LocalAddr(lh)
	require.NoError(t, err)
	require.NoError(t, p.ForceClose(lh))

	failed := make(chan struct{})
	_, err = srv.Connect(evcore.ConnectConfig{
		Address:   addr,
		OnConnect: func(*evcore.Server, evcore.Handle) evcore.Protocol { return &evcore.Funcs{} },
		OnFail:    func(*evcore.Server) { close(failed) },
	})
	if err != nil {
		// 本机连接可能同步失败
		return
	}
	select {
	case <-failed:
	case <-time.After(3 * time.Second):
		t.Fatal("OnFail not called")
	}
}

func TestRunEvery(t *testing.T) {
	srv, _, stop := startServer(t)
	defer stop()

	var ticks atomic.Int32
	finished := make(chan struct{})
	_, err := srv.RunEvery(5*time.Millisecond, 3, func() { ticks.Add(1) }, func() { close(finished) })
	require.NoError(t, err)
	select {
	case <-finished:
	case <-time.After(3 * time.Second):
		t.Fatal("timer did not finish")
	}
	assert.EqualValues(t, 3, ticks.Load())
	assert.Zero(t, srv.Count(nil))
}
