package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"

	"github.com/gologme/log"

	"github.com/RiV-chain/txrate/src/util"
)

// Receiver listens on a TCP port, accepts exactly one connection and reads
// from it until the peer closes the stream or the transfer is cancelled.
type Receiver struct {
	log      *log.Logger
	config   config
	listener net.Listener
	addr     net.Addr
}

// NewReceiver prepares a receiver. A nil logger discards log output.
func NewReceiver(logger *log.Logger, opts ...SetupOption) *Receiver {
	r := &Receiver{
		log:    discardLogger(logger),
		config: defaultConfig(),
	}
	for _, opt := range opts {
		r.config._applyOption(opt)
	}
	return r
}

// wildcard reports whether address already names every interface.
func wildcard(address string) bool {
	switch address {
	case "", "*", "0.0.0.0", "any":
		return true
	}
	return false
}

// Listen binds the listening socket with SO_REUSEADDR and SO_REUSEPORT set.
// The socket is always bound to every IPv4 interface; address is only
// reported. Failures wrap the underlying OS error.
func (r *Receiver) Listen(ctx context.Context, address string, port int) error {
	if !wildcard(address) {
		r.log.Infof("Listening on all interfaces, bind address %s is ignored", address)
	}
	opts := &sockopts{log: r.log, congestion: r.config.congestion, reuse: true}
	lc := &net.ListenConfig{Control: opts.control}
	hostport := net.JoinHostPort("0.0.0.0", strconv.Itoa(port))
	listener, err := lc.Listen(ctx, "tcp4", hostport)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("bind %s: %w", hostport, ErrInterrupted)
		}
		return fmt.Errorf("bind %s: %w", hostport, err)
	}
	r.listener = listener
	r.addr = listener.Addr()
	r.log.Infof("Listening on %s", listener.Addr())
	return nil
}

// Addr is the bound address, or nil before Listen.
func (r *Receiver) Addr() net.Addr {
	return r.addr
}

// Close releases the listening socket if it is still open.
func (r *Receiver) Close() error {
	if r.listener == nil {
		return nil
	}
	err := r.listener.Close()
	r.listener = nil
	return err
}

// Serve accepts one connection and runs the receive loop on it. The listener
// is closed once the connection is accepted. A read error is fatal: the
// connection is closed and no result is returned.
func (r *Receiver) Serve(c util.Cancellation) (*Result, error) {
	conn, err := r.accept(c)
	if err != nil {
		return nil, err
	}
	fmt.Fprintln(r.config.output, "connected")
	r.log.Infof("Accepted connection from %s", conn.RemoteAddr())
	return r.receive(c, conn)
}

func (r *Receiver) accept(c util.Cancellation) (net.Conn, error) {
	if r.listener == nil {
		return nil, ErrNotConnected
	}
	defer r.Close()
	listener := r.listener
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-c.Finished():
			_ = listener.Close()
		case <-done:
		}
	}()
	conn, err := listener.Accept()
	if err != nil {
		if c.Cancelled() {
			return nil, fmt.Errorf("accept: %w", reason(c))
		}
		return nil, fmt.Errorf("accept: %w", err)
	}
	return conn, nil
}

func (r *Receiver) receive(c util.Cancellation, conn net.Conn) (*Result, error) {
	buffer := make([]byte, r.config.bufferSize)
	result := newResult(Receive, conn)
	result.Measurement.Begin()
	s := r.config.begin(c, Receive, conn)
	defer s.end()

	for !s.cancellation.Cancelled() {
		n, err := conn.Read(buffer)
		result.Measurement.Add(n)
		s.add(n)
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			result.End = EndPeerClosed
			break
		}
		if s.stopped(err) {
			break
		}
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %w", ErrRead, err)
	}
	result.Measurement.Finish()
	if result.End == "" {
		result.End = s.endReason()
	}
	if err := conn.Close(); err != nil {
		r.log.Debugln("close:", err)
	}
	r.log.Debugf("Received %d bytes from %s", result.Measurement.Bytes, result.Remote)
	return result, nil
}
