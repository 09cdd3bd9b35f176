package evcore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttachReplaceClosesOnceAfterInFlight(t *testing.T) {
	e := newTestEnv(t, 8)
	h := e.r.openAt(4)
	var c1, c2 counters
	require.NoError(t, e.srv.Attach(h, c1.protocol(testService)))

	held, err := e.srv.TryLock(h, LockTask)
	require.NoError(t, err)
	require.NoError(t, e.srv.Attach(h, c2.protocol(testService)))

	// 旧协议仍有在途回调，OnClose 只会被推迟
	for n := 0; n < 16; n++ {
		e.pool.Step()
	}
	assert.Zero(t, c1.closes.Load())

	e.srv.Unlock(held, LockTask)
	e.pool.Perform()
	assert.EqualValues(t, 1, c1.closes.Load())
	assert.Zero(t, c2.closes.Load())
	assert.Equal(t, 1, e.srv.Count(testService))
}

func TestAttachNilUnbinds(t *testing.T) {
	e := newTestEnv(t, 8)
	h := e.r.openAt(0)
	var c counters
	require.NoError(t, e.srv.Attach(h, c.protocol(testService)))
	require.NoError(t, e.srv.Attach(h, nil))
	e.pool.Perform()

	assert.EqualValues(t, 1, c.closes.Load())
	assert.Zero(t, e.srv.Count(nil))
	assert.ErrorIs(t, e.srv.Attach(InvalidHandle, &Funcs{}), ErrInvalidHandle)
}

func TestCloseDetachesOnce(t *testing.T) {
	e := newTestEnv(t, 8)
	h := e.r.openAt(6)
	var c counters
	require.NoError(t, e.srv.Attach(h, c.protocol(testService)))
	assert.Equal(t, 1, e.srv.Count(testService))

	require.NoError(t, e.srv.Close(h))
	assert.ErrorIs(t, e.srv.ForceClose(h), ErrInvalidHandle)
	e.pool.Perform()

	assert.EqualValues(t, 1, c.closes.Load())
	assert.Zero(t, e.srv.Count(testService))
	assert.Equal(t, []Handle{h}, e.r.closedHandles())
}

func TestCountFiltersService(t *testing.T) {
	e := newTestEnv(t, 16)
	other := NewService("other")
	for i := 0; i < 3; i++ {
		require.NoError(t, e.srv.Attach(e.r.openAt(i), &Funcs{Svc: testService}))
	}
	require.NoError(t, e.srv.Attach(e.r.openAt(5), &Funcs{Svc: other}))
	_, err := e.srv.Listen(ListenConfig{
		Address: "fake:1",
		OnOpen:  func(*Server, Handle) Protocol { return nil },
	})
	require.NoError(t, err)

	assert.Equal(t, 3, e.srv.Count(testService))
	assert.Equal(t, 1, e.srv.Count(other))
	// 监听协议不计入
	assert.Equal(t, 4, e.srv.Count(nil))
}

func TestSetTimeout(t *testing.T) {
	e := newTestEnv(t, 8)
	h := e.r.openAt(2)
	require.NoError(t, e.srv.Attach(h, &Funcs{}))

	require.NoError(t, e.srv.SetTimeout(h, 0))
	assert.Zero(t, e.srv.Timeout(h))
	require.NoError(t, e.srv.SetTimeout(h, 90*time.Second))
	assert.Equal(t, 90*time.Second, e.srv.Timeout(h))
	// 秒精度
	require.NoError(t, e.srv.SetTimeout(h, 1500*time.Millisecond))
	assert.Equal(t, time.Second, e.srv.Timeout(h))

	assert.ErrorIs(t, e.srv.SetTimeout(h, -time.Second), ErrInvalidArgument)
	assert.ErrorIs(t, e.srv.SetTimeout(InvalidHandle, time.Second), ErrInvalidHandle)
	assert.Zero(t, e.srv.Timeout(InvalidHandle))
}

func TestEventsDispatchUnderLocks(t *testing.T) {
	e := newTestEnv(t, 8)
	h := e.r.openAt(1)
	var writeHeld bool
	p := &Funcs{Svc: testService}
	p.DataFunc = func(*Server, Handle) {}
	p.ReadyFunc = func(*Server, Handle) { writeHeld = p.Locked(LockWrite) }
	require.NoError(t, e.srv.Attach(h, p))

	ev := (*events)(e.srv)
	ev.OnReady(h)
	held, err := e.srv.TryLock(h, LockTask)
	require.NoError(t, err)
	ev.OnData(h)
	for n := 0; n < 8; n++ {
		e.pool.Step()
	}
	assert.True(t, writeHeld)
	// OnData 在 TASK 锁被占用期间持续重新入队
	assert.True(t, e.pool.HasQueue())
	e.srv.Unlock(held, LockTask)
	e.pool.Perform()
	assert.False(t, e.pool.HasQueue())
	assert.Zero(t, p.InFlight())

	ev.OnHangup(h)
	e.pool.Perform()
	assert.False(t, e.r.Valid(h))
	assert.Zero(t, e.srv.Count(nil))
}

func TestShutdownDispatchClosesAfterCallback(t *testing.T) {
	e := newTestEnv(t, 8)
	h := e.r.openAt(3)
	var c counters
	require.NoError(t, e.srv.Attach(h, c.protocol(testService)))

	e.srv.dispatchShutdown(h)
	e.pool.Perform()
	assert.EqualValues(t, 1, c.shutdown.Load())
	assert.EqualValues(t, 1, c.closes.Load())
	assert.False(t, e.r.Valid(h))
}
