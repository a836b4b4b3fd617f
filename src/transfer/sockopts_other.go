//go:build !linux
// +build !linux

package transfer

import (
	"syscall"
)

func (o *sockopts) tcpContext(network, address string, c syscall.RawConn) error {
	if o.congestion != "" {
		o.log.Warnln("Congestion control selection is only supported on Linux, ignoring", o.congestion)
	}
	return nil
}
