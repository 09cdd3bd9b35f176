//go:build unix

// Package netutil 封装 poller 使用的 socket 选项与地址解析。
package netutil

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// UnixPrefix 标记 unix domain socket 地址，例如 "unix:/tmp/evcore.sock"
const UnixPrefix = "unix:"

func setBool(fd, level, opt int, enable bool) error {
	v := 0
	if enable {
		v = 1
	}
	return unix.SetsockoptInt(fd, level, opt, v)
}

func SetReusePort(fd int, enable bool) error {
	return setBool(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, enable)
}

func SetReuseAddr(fd int, enable bool) error {
	return setBool(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, enable)
}

func SetNoDelay(fd int, enable bool) error {
	return setBool(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, enable)
}

// ResolveSockaddr 把地址解析为 socket 族与 Sockaddr。
// 没有主机部分的 TCP 地址（":8080"）绑定到 IPv4 的所有地址。
func ResolveSockaddr(address string) (int, unix.Sockaddr, error) {
	if path, ok := strings.CutPrefix(address, UnixPrefix); ok {
		if path == "" {
			return 0, nil, fmt.Errorf("netutil: empty unix socket path")
		}
		return unix.AF_UNIX, &unix.SockaddrUnix{Name: path}, nil
	}
	addr, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return 0, nil, err
	}
	if addr.IP == nil || addr.IP.To4() != nil {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		if addr.IP != nil {
			copy(sa.Addr[:], addr.IP.To4())
		}
		return unix.AF_INET, sa, nil
	}
	sa := &unix.SockaddrInet6{Port: addr.Port}
	copy(sa.Addr[:], addr.IP.To16())
	if addr.Zone != "" {
		if ifi, err := net.InterfaceByName(addr.Zone); err == nil {
			sa.ZoneId = uint32(ifi.Index)
		}
	}
	return unix.AF_INET6, sa, nil
}

// SockaddrString 与 ResolveSockaddr 互逆
func SockaddrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	case *unix.SockaddrInet6:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	case *unix.SockaddrUnix:
		return UnixPrefix + a.Name
	default:
		return ""
	}
}
