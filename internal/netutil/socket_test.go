//go:build unix

package netutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestResolveSockaddr(t *testing.T) {
	fam, sa, err := ResolveSockaddr("127.0.0.1:8080")
	require.NoError(t, err)
	assert.Equal(t, unix.AF_INET, fam)
	assert.Equal(t, "127.0.0.1:8080", SockaddrString(sa))

	fam, sa, err = ResolveSockaddr(":9000")
	require.NoError(t, err)
	assert.Equal(t, unix.AF_INET, fam)
	assert.Equal(t, "0.0.0.0:9000", SockaddrString(sa))

	fam, sa, err = ResolveSockaddr("[::1]:7000")
	require.NoError(t, err)
	assert.Equal(t, unix.AF_INET6, fam)
	assert.Equal(t, "[::1]:7000", SockaddrString(sa))

	fam, sa, err = ResolveSockaddr("unix:/tmp/evcore.sock")
	require.NoError(t, err)
	assert.Equal(t, unix.AF_UNIX, fam)
	assert.Equal(t, "unix:/tmp/evcore.sock", SockaddrString(sa))

	_, _, err = ResolveSockaddr("unix:")
	assert.Error(t, err)
	_, _, err = ResolveSockaddr("no-port")
	assert.Error(t, err)
}
