//go:build linux
// +build linux

package transfer

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// WARNING: This context is used both by net.Dialer and net.Listen

func (o *sockopts) tcpContext(network, address string, c syscall.RawConn) error {
	if o.congestion == "" {
		return nil
	}
	var cc error
	control := c.Control(func(fd uintptr) {
		cc = unix.SetsockoptString(int(fd), unix.IPPROTO_TCP, unix.TCP_CONGESTION, o.congestion)
	})

	// Not fatal, the kernel default algorithm stays in place
	if cc != nil {
		o.log.Warnf("Failed to set tcp_congestion_control to %s: %s", o.congestion, cc)
	}
	if control != nil {
		o.log.Warnf("Failed to set tcp_congestion_control to %s, Control error: %s", o.congestion, control)
	}
	return nil
}
