package transfer

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"github.com/gologme/log"

	"github.com/RiV-chain/txrate/src/util"
)

// Sender connects to a receiver and writes the transfer buffer to it over
// and over until cancelled or a write fails.
type Sender struct {
	log    *log.Logger
	config config
	conn   net.Conn
}

// NewSender prepares a sender. A nil logger discards log output.
func NewSender(logger *log.Logger, opts ...SetupOption) *Sender {
	s := &Sender{
		log:    discardLogger(logger),
		config: defaultConfig(),
	}
	for _, opt := range opts {
		s.config._applyOption(opt)
	}
	return s
}

// ParseAddress accepts numeric IPv4 addresses only. Host names are never
// resolved.
func ParseAddress(address string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(address)
	if err != nil || !addr.Is4() {
		return netip.Addr{}, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	return addr, nil
}

// Dial connects to address:port. The address is validated before any
// connection attempt; cancelling ctx aborts a pending connect.
func (s *Sender) Dial(ctx context.Context, address string, port int) error {
	addr, err := ParseAddress(address)
	if err != nil {
		return err
	}
	opts := &sockopts{log: s.log, congestion: s.config.congestion}
	dialer := &net.Dialer{Control: opts.control}
	hostport := net.JoinHostPort(addr.String(), strconv.Itoa(port))
	conn, err := dialer.DialContext(ctx, "tcp4", hostport)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("connect %s: %w", hostport, ErrInterrupted)
		}
		return fmt.Errorf("connect %s: %w", hostport, err)
	}
	s.attach(conn)
	return nil
}

// attach hands an established connection to the sender.
func (s *Sender) attach(conn net.Conn) {
	s.conn = conn
	fmt.Fprintln(s.config.output, "connected")
	s.log.Infof("Connected to %s from %s", conn.RemoteAddr(), conn.LocalAddr())
}

// Close closes the connection if it is still open.
func (s *Sender) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// Send runs the write loop and closes the connection when it ends. Write
// failures end the loop but are not fatal: the result carries the error
// alongside whatever was sent before it.
func (s *Sender) Send(c util.Cancellation) (*Result, error) {
	if s.conn == nil {
		return nil, ErrNotConnected
	}
	conn := s.conn
	defer s.Close()

	buffer := make([]byte, s.config.bufferSize)
	result := newResult(Send, conn)
	result.Measurement.Begin()
	sess := s.config.begin(c, Send, conn)
	defer sess.end()

	for !sess.cancellation.Cancelled() {
		n, err := conn.Write(buffer)
		result.Measurement.Add(n)
		sess.add(n)
		if err != nil {
			if sess.stopped(err) {
				break
			}
			s.log.Errorln("write:", err)
			result.End, result.Err = EndWriteFailed, err
			break
		}
		if n == 0 {
			s.log.Warnln("write returns 0")
			result.End = EndZeroWrite
			break
		}
	}
	result.Measurement.Finish()
	if result.End == "" {
		result.End = sess.endReason()
	}
	s.log.Debugf("Sent %d bytes to %s", result.Measurement.Bytes, result.Remote)
	return result, nil
}
