package transfer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"net"
	"os"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/gologme/log"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/nettest"

	"github.com/RiV-chain/txrate/src/util"
)

const testBufferSize = 64 * 1024

// GetLoggerWithPrefix creates a new logger instance with prefix.
// If verbose is set to true, three log levels are enabled: "info", "warn", "error".
func GetLoggerWithPrefix(prefix string, verbose bool) *log.Logger {
	l := log.New(os.Stderr, prefix, log.Flags())
	if !verbose {
		return l
	}
	l.EnableLevel("info")
	l.EnableLevel("warn")
	l.EnableLevel("error")
	return l
}

type served struct {
	result *Result
	err    error
}

// startReceiver binds a receiver on a loopback ephemeral port and serves it
// in the background.
func startReceiver(t *testing.T, c util.Cancellation, opts ...SetupOption) (*Receiver, <-chan served) {
	t.Helper()
	r := NewReceiver(GetLoggerWithPrefix("rx: ", testing.Verbose()), opts...)
	require.NoError(t, r.Listen(context.Background(), "127.0.0.1", 0))
	ch := make(chan served, 1)
	go func() {
		res, err := r.Serve(c)
		ch <- served{res, err}
	}()
	return r, ch
}

func wait(t *testing.T, ch <-chan served) served {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(10 * time.Second):
		t.Fatal("transfer did not finish")
	}
	return served{}
}

func portOf(t *testing.T, addr net.Addr) int {
	t.Helper()
	_, p, err := net.SplitHostPort(addr.String())
	require.NoError(t, err)
	port, err := strconv.Atoi(p)
	require.NoError(t, err)
	return port
}

// loopbackAddr is where a test reaches a receiver bound to every interface.
func loopbackAddr(t *testing.T, r *Receiver) string {
	t.Helper()
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(portOf(t, r.Addr())))
}

func TestReceiverPeerCloses(t *testing.T) {
	var out bytes.Buffer
	r, ch := startReceiver(t, util.NewCancellation(), BufferSize(testBufferSize), Output{&out})

	conn, err := net.Dial("tcp4", loopbackAddr(t, r))
	require.NoError(t, err)
	payload := make([]byte, 3*1024*1024+17)
	_, err = conn.Write(payload)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	s := wait(t, ch)
	require.NoError(t, s.err)
	require.Equal(t, EndPeerClosed, s.result.End)
	require.Equal(t, uint64(len(payload)), s.result.Measurement.Bytes)
	require.Equal(t, Receive, s.result.Direction)
	require.Equal(t, "connected\n", out.String())
	require.Contains(t, s.result.Report().Line(), "rx rate ")
}

func TestReceiverPeerClosesWithoutData(t *testing.T) {
	r, ch := startReceiver(t, util.NewCancellation(), BufferSize(testBufferSize), Output{io.Discard})

	conn, err := net.Dial("tcp4", loopbackAddr(t, r))
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	s := wait(t, ch)
	require.NoError(t, s.err)
	require.Equal(t, EndPeerClosed, s.result.End)
	require.Zero(t, s.result.Measurement.Bytes)
	rate := s.result.Measurement.Rate()
	require.False(t, math.IsNaN(rate) || math.IsInf(rate, 0))
	require.Equal(t, "rx rate 0.00MiB/s", s.result.Report().Line())
}

func TestReceiverBindInUse(t *testing.T) {
	occupant, err := net.Listen("tcp4", "0.0.0.0:0")
	require.NoError(t, err)
	defer occupant.Close()

	r := NewReceiver(nil)
	err = r.Listen(context.Background(), "127.0.0.1", portOf(t, occupant.Addr()))
	require.Error(t, err)
	require.True(t, errors.Is(err, syscall.EADDRINUSE), err)
	require.Nil(t, r.Addr())

	// Nothing is listening, so nothing can be accepted.
	_, err = r.Serve(util.NewCancellation())
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestReceiverListensOnAllInterfaces(t *testing.T) {
	// 192.0.2.1 is TEST-NET-1 and never assigned locally.
	for _, address := range []string{"192.0.2.1", "no-such-host.invalid", "*"} {
		r := NewReceiver(nil, Output{io.Discard})
		require.NoError(t, r.Listen(context.Background(), address, 0), address)
		tcp, ok := r.Addr().(*net.TCPAddr)
		require.True(t, ok)
		require.True(t, tcp.IP.IsUnspecified(), "bound to %s for %q", tcp.IP, address)

		conn, err := net.DialTimeout("tcp4", loopbackAddr(t, r), time.Second)
		require.NoError(t, err, address)
		conn.Close()
		require.NoError(t, r.Close())
	}
}

func TestReceiverInterruptedBeforeAccept(t *testing.T) {
	c := util.NewCancellation()
	r, ch := startReceiver(t, c, Output{io.Discard})
	addr := loopbackAddr(t, r)
	c.Cancel(ErrInterrupted)

	s := wait(t, ch)
	require.ErrorIs(t, s.err, ErrInterrupted)
	require.Nil(t, s.result)

	// The listener is gone once Serve returns.
	_, err := net.DialTimeout("tcp4", addr, time.Second)
	require.Error(t, err)
}

func TestReceiverInterruptedWhileIdle(t *testing.T) {
	c := util.NewCancellation()
	r, ch := startReceiver(t, c, BufferSize(testBufferSize), Output{io.Discard})

	conn, err := net.Dial("tcp4", loopbackAddr(t, r))
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("some bytes"))
	require.NoError(t, err)

	// The peer never closes: only the cancellation can end the loop.
	time.Sleep(100 * time.Millisecond)
	c.Cancel(ErrInterrupted)

	s := wait(t, ch)
	require.NoError(t, s.err)
	require.Equal(t, EndInterrupted, s.result.End)
	require.Equal(t, uint64(len("some bytes")), s.result.Measurement.Bytes)
}

func TestReceiverReadError(t *testing.T) {
	r, ch := startReceiver(t, util.NewCancellation(), BufferSize(testBufferSize), Output{io.Discard})

	conn, err := net.Dial("tcp4", loopbackAddr(t, r))
	require.NoError(t, err)
	// A zero linger turns Close into a reset.
	require.NoError(t, conn.(*net.TCPConn).SetLinger(0))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, conn.Close())

	s := wait(t, ch)
	require.ErrorIs(t, s.err, ErrRead)
	require.Nil(t, s.result)
}

func TestReceiverTimeLimit(t *testing.T) {
	r, ch := startReceiver(t, util.NewCancellation(),
		BufferSize(testBufferSize), Duration(150*time.Millisecond), Output{io.Discard})

	conn, err := net.Dial("tcp4", loopbackAddr(t, r))
	require.NoError(t, err)
	defer conn.Close()
	go func() {
		buf := make([]byte, testBufferSize)
		for {
			if _, err := conn.Write(buf); err != nil {
				return
			}
		}
	}()

	s := wait(t, ch)
	require.NoError(t, s.err)
	require.Equal(t, EndElapsed, s.result.End)
	require.NotZero(t, s.result.Measurement.Bytes)
	require.GreaterOrEqual(t, s.result.Measurement.Elapsed(), 150*time.Millisecond)
}

func TestParseAddress(t *testing.T) {
	for _, good := range []string{"127.0.0.1", "0.0.0.0", "10.1.2.3"} {
		_, err := ParseAddress(good)
		require.NoError(t, err, good)
	}
	for _, bad := range []string{"", "localhost", "1.2.3", "::1", "256.1.1.1", "1.2.3.4:80"} {
		_, err := ParseAddress(bad)
		require.ErrorIs(t, err, ErrInvalidAddress, bad)
	}
}

func TestSenderInvalidAddress(t *testing.T) {
	var out bytes.Buffer
	s := NewSender(nil, Output{&out})
	err := s.Dial(context.Background(), "example.com", 9000)
	require.ErrorIs(t, err, ErrInvalidAddress)
	require.Empty(t, out.String())

	_, err = s.Send(util.NewCancellation())
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestSenderConnectRefused(t *testing.T) {
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	port := portOf(t, l.Addr())
	require.NoError(t, l.Close())

	s := NewSender(nil, Output{io.Discard})
	err = s.Dial(context.Background(), "127.0.0.1", port)
	require.Error(t, err)
	require.True(t, errors.Is(err, syscall.ECONNREFUSED), err)
}

func TestSenderDialCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewSender(nil, Output{io.Discard})
	err := s.Dial(ctx, "127.0.0.1", 9)
	require.ErrorIs(t, err, ErrInterrupted)
}

// drain accepts one connection and discards everything it receives.
func drain(t *testing.T) (net.Listener, <-chan int64) {
	t.Helper()
	l, err := nettest.NewLocalListener("tcp4")
	require.NoError(t, err)
	ch := make(chan int64, 1)
	go func() {
		conn, err := l.Accept()
		if err != nil {
			ch <- -1
			return
		}
		defer conn.Close()
		n, _ := io.Copy(io.Discard, conn)
		ch <- n
	}()
	return l, ch
}

func TestSenderInterrupted(t *testing.T) {
	l, drained := drain(t)
	defer l.Close()

	var out bytes.Buffer
	c := util.NewCancellation()
	s := NewSender(nil, BufferSize(testBufferSize), Output{&out})
	require.NoError(t, s.Dial(context.Background(), "127.0.0.1", portOf(t, l.Addr())))
	require.Equal(t, "connected\n", out.String())

	time.AfterFunc(100*time.Millisecond, func() { c.Cancel(ErrInterrupted) })
	res, err := s.Send(c)
	require.NoError(t, err)
	require.Equal(t, EndInterrupted, res.End)
	require.Equal(t, Send, res.Direction)
	require.NoError(t, res.Err)
	require.NotZero(t, res.Measurement.Bytes)

	// The connection was closed by Send, so the peer sees the end of the stream.
	select {
	case n := <-drained:
		require.Equal(t, int64(res.Measurement.Bytes), n)
	case <-time.After(5 * time.Second):
		t.Fatal("peer never saw the connection close")
	}
}

func TestSenderPeerGone(t *testing.T) {
	l, err := nettest.NewLocalListener("tcp4")
	require.NoError(t, err)
	defer l.Close()
	dialed := make(chan struct{})
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		// Reset only once the sender is connected, otherwise Dial sees it.
		<-dialed
		_ = conn.(*net.TCPConn).SetLinger(0)
		conn.Close()
	}()

	s := NewSender(GetLoggerWithPrefix("tx: ", testing.Verbose()),
		BufferSize(testBufferSize), Duration(5*time.Second), Output{io.Discard})
	err = s.Dial(context.Background(), "127.0.0.1", portOf(t, l.Addr()))
	close(dialed)
	require.NoError(t, err)

	res, err := s.Send(util.NewCancellation())
	require.NoError(t, err)
	require.Equal(t, EndWriteFailed, res.End)
	require.Error(t, res.Err)
	require.Equal(t, "write failed", res.Report().End)
	require.NotEmpty(t, res.Report().Error)
}

// zeroWriter is a connection whose writes never make progress.
type zeroWriter struct{ net.Conn }

func (zeroWriter) Write([]byte) (int, error) { return 0, nil }

func TestSenderZeroWrite(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()

	var logs, out bytes.Buffer
	logger := log.New(&logs, "", 0)
	logger.EnableLevel("warn")
	s := NewSender(logger, BufferSize(testBufferSize), Output{&out})
	s.attach(zeroWriter{local})
	require.Equal(t, "connected\n", out.String())

	res, err := s.Send(util.NewCancellation())
	require.NoError(t, err)
	require.Equal(t, EndZeroWrite, res.End)
	require.NoError(t, res.Err)
	require.Zero(t, res.Measurement.Bytes)
	require.Contains(t, logs.String(), "write returns 0")
	require.Equal(t, "tx rate 0.00MiB/s", res.Report().Line())
}

func TestSenderProgress(t *testing.T) {
	l, _ := drain(t)
	defer l.Close()

	var bar bytes.Buffer
	s := NewSender(nil, BufferSize(testBufferSize), Duration(100*time.Millisecond),
		Progress{&bar}, Output{io.Discard})
	require.NoError(t, s.Dial(context.Background(), "127.0.0.1", portOf(t, l.Addr())))
	res, err := s.Send(util.NewCancellation())
	require.NoError(t, err)
	require.Equal(t, EndElapsed, res.End)
	require.NotEmpty(t, bar.String())
}

func TestLoopback(t *testing.T) {
	rc := util.NewCancellation()
	r, ch := startReceiver(t, rc, BufferSize(testBufferSize), Output{io.Discard})

	s := NewSender(GetLoggerWithPrefix("tx: ", testing.Verbose()),
		BufferSize(testBufferSize), Duration(200*time.Millisecond), Output{io.Discard})
	require.NoError(t, s.Dial(context.Background(), "127.0.0.1", portOf(t, r.Addr())))
	sent, err := s.Send(util.NewCancellation())
	require.NoError(t, err)
	require.Equal(t, EndElapsed, sent.End)

	received := wait(t, ch)
	require.NoError(t, received.err)
	require.Equal(t, EndPeerClosed, received.result.End)
	require.Equal(t, sent.Measurement.Bytes, received.result.Measurement.Bytes)
	require.Equal(t, sent.Local.String(), received.result.Remote.String())
}
