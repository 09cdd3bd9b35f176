//go:build !linux

package poller

import (
	"time"

	"github.com/legamerdc/evcore"
)

// Poller 在非 Linux 平台上不可用
type Poller struct{}

func New(Config) (*Poller, error) { return nil, evcore.ErrPlatformNotSupported }

func (*Poller) Start(evcore.Events) error          { return evcore.ErrPlatformNotSupported }
func (*Poller) Poll(time.Duration) (int, error)    { return 0, evcore.ErrPlatformNotSupported }
func (*Poller) Register(evcore.Handle) error       { return evcore.ErrPlatformNotSupported }
func (*Poller) Deregister(evcore.Handle) error     { return evcore.ErrPlatformNotSupported }
func (*Poller) Active() bool                       { return false }
func (*Poller) Close() error                       { return nil }
func (*Poller) Capacity() int                      { return 0 }
func (*Poller) Valid(evcore.Handle) bool           { return false }
func (*Poller) Index(h evcore.Handle) int          { fd, _ := splitHandle(h); return fd }
func (*Poller) HandleAt(int) (evcore.Handle, bool) { return evcore.InvalidHandle, false }
func (*Poller) Flush(evcore.Handle) error          { return evcore.ErrPlatformNotSupported }
func (*Poller) CloseConn(evcore.Handle) error      { return evcore.ErrPlatformNotSupported }
func (*Poller) ForceClose(evcore.Handle) error     { return evcore.ErrPlatformNotSupported }
func (*Poller) Wake() error                        { return nil }
func (*Poller) Listen(string) (evcore.Handle, error) {
	return evcore.InvalidHandle, evcore.ErrPlatformNotSupported
}
func (*Poller) Accept(evcore.Handle) (evcore.Handle, error) {
	return evcore.InvalidHandle, evcore.ErrPlatformNotSupported
}
func (*Poller) Connect(string) (evcore.Handle, error) {
	return evcore.InvalidHandle, evcore.ErrPlatformNotSupported
}
func (*Poller) OpenTimer(time.Duration) (evcore.Handle, error) {
	return evcore.InvalidHandle, evcore.ErrPlatformNotSupported
}
func (*Poller) ResetTimer(evcore.Handle) error { return evcore.ErrPlatformNotSupported }
func (*Poller) Adopt(int) (evcore.Handle, error) {
	return evcore.InvalidHandle, evcore.ErrPlatformNotSupported
}
func (*Poller) Read(evcore.Handle, []byte) (int, error) { return 0, evcore.ErrPlatformNotSupported }
func (*Poller) Write(evcore.Handle, []byte) error       { return evcore.ErrPlatformNotSupported }
func (*Poller) Queued(evcore.Handle) int                { return 0 }
func (*Poller) LocalAddr(evcore.Handle) (string, error) { return "", evcore.ErrPlatformNotSupported }
