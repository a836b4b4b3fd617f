// Package transfer moves a continuous byte stream over a single TCP
// connection and measures how fast it went. A Receiver accepts one
// connection and reads until the peer closes or the transfer is cancelled;
// a Sender connects and writes until cancelled or a write fails.
package transfer

import (
	"errors"
	"io"
	"net"
	"os"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/gologme/log"

	"github.com/RiV-chain/txrate/src/rate"
	"github.com/RiV-chain/txrate/src/util"
)

var (
	// ErrInterrupted is the cancellation reason used when the user stops a run.
	ErrInterrupted = errors.New("interrupted")
	// ErrInvalidAddress is returned for peer addresses that are not numeric IPv4.
	ErrInvalidAddress = errors.New("invalid address/ address not supported")
	// ErrRead marks a receive loop that failed on a read error.
	ErrRead = errors.New("read failed")
	// ErrNotConnected is returned when Serve or Send run before Listen or Dial.
	ErrNotConnected = errors.New("not connected")
)

// Direction of the measured stream.
type Direction string

const (
	Receive Direction = "rx"
	Send    Direction = "tx"
)

// EndReason says why a transfer loop stopped.
type EndReason string

const (
	EndPeerClosed  EndReason = "peer closed"
	EndInterrupted EndReason = "interrupted"
	EndElapsed     EndReason = "time elapsed"
	EndWriteFailed EndReason = "write failed"
	EndZeroWrite   EndReason = "write returned 0"
)

// Result describes a finished transfer loop.
type Result struct {
	Direction   Direction
	Local       net.Addr
	Remote      net.Addr
	Measurement rate.Measurement
	End         EndReason
	// Err is the write error that ended a send loop, if any.
	Err error
}

// Report converts the result into its printable form.
func (r *Result) Report() *rate.Report {
	report := rate.NewReport(string(r.Direction), &r.Measurement)
	if r.Local != nil {
		report.Local = r.Local.String()
	}
	if r.Remote != nil {
		report.Remote = r.Remote.String()
	}
	report.End = string(r.End)
	if r.Err != nil {
		report.Error = r.Err.Error()
	}
	return report
}

func newResult(dir Direction, conn net.Conn) *Result {
	return &Result{
		Direction: dir,
		Local:     conn.LocalAddr(),
		Remote:    conn.RemoteAddr(),
	}
}

func discardLogger(logger *log.Logger) *log.Logger {
	if logger == nil {
		return log.New(io.Discard, "", 0)
	}
	return logger
}

// reason returns why c was cancelled, defaulting to ErrInterrupted.
func reason(c util.Cancellation) error {
	if err := c.Error(); err != nil {
		return err
	}
	return ErrInterrupted
}

var progressTemplate pb.ProgressBarTemplate = `{{string . "prefix"}}{{counters . }} {{speed . }} {{etime . }}`

// session is the state shared by both transfer loops: the cancellation the
// loop polls, a watcher that unblocks pending I/O once it fires and the
// optional progress bar.
type session struct {
	cancellation util.Cancellation
	derived      bool
	conn         net.Conn
	bar          *pb.ProgressBar
	done         chan struct{}
}

func (c *config) begin(parent util.Cancellation, dir Direction, conn net.Conn) *session {
	s := &session{
		cancellation: parent,
		conn:         conn,
		done:         make(chan struct{}),
	}
	if c.duration > 0 {
		s.cancellation = util.CancellationWithTimeout(parent, c.duration)
		s.derived = true
	}
	if c.progress != nil {
		s.bar = progressTemplate.New(0).
			SetWriter(c.progress).
			Set(pb.Bytes, true).
			Set("prefix", string(dir)+" ").
			SetRefreshRate(500 * time.Millisecond).
			Start()
	}
	go s.watch()
	return s
}

// watch sets an immediate deadline on the connection when the cancellation
// fires so a blocked Read or Write returns instead of waiting for the peer.
func (s *session) watch() {
	select {
	case <-s.cancellation.Finished():
		_ = s.conn.SetDeadline(time.Now())
	case <-s.done:
	}
}

func (s *session) add(n int) {
	if s.bar != nil && n > 0 {
		s.bar.Add(n)
	}
}

// stopped reports whether err is the result of the watcher's deadline.
func (s *session) stopped(err error) bool {
	return s.cancellation.Cancelled() && errors.Is(err, os.ErrDeadlineExceeded)
}

func (s *session) endReason() EndReason {
	if errors.Is(s.cancellation.Error(), util.CancellationTimeoutError) {
		return EndElapsed
	}
	return EndInterrupted
}

func (s *session) end() {
	close(s.done)
	if s.derived {
		// Releases the timer goroutine of the derived cancellation.
		s.cancellation.Cancel(nil)
	}
	if s.bar != nil {
		s.bar.Finish()
	}
}
