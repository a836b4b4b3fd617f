package transfer

import (
	"fmt"
	"syscall"

	"github.com/gologme/log"
	"github.com/libp2p/go-reuseport"
)

// sockopts is applied to sockets before bind/connect, through the Control
// hook of net.ListenConfig and net.Dialer.
type sockopts struct {
	log        *log.Logger
	congestion string
	reuse      bool
}

func (o *sockopts) control(network, address string, c syscall.RawConn) error {
	if o.reuse {
		if err := reuseport.Control(network, address, c); err != nil {
			return fmt.Errorf("setsockopt: %w", err)
		}
	}
	return o.tcpContext(network, address, c)
}
