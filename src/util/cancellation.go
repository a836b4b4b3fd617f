package util

import (
	"errors"
	"runtime"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Cancellation is used to signal when a transfer should stop. It is similar to
// a context, but carries the reason for the cancellation as an error and
// exposes a flag that can be polled from a hot loop without blocking.
type Cancellation interface {
	Finished() <-chan struct{} // Finished returns a channel which will be closed when Cancellation.Cancel is first called.
	Cancel(error) error        // Cancel closes the channel returned by Finished and sets the error returned by Error, or else returns the existing error if the Cancellation has already run.
	Cancelled() bool           // Cancelled reports whether Cancel has been called. It never blocks.
	Error() error              // Error returns the error provided to Cancel, or nil if no error has been provided.
}

// CancellationFinalized is an error returned if a cancellation object was garbage collected and the finalizer was run.
var CancellationFinalized = errors.New("finalizer called")

// CancellationTimeoutError is used when a CancellationWithTimeout is cancelled due to said timeout.
var CancellationTimeoutError = errors.New("timeout")

// CancellationFinalizer is set as a finalizer when creating a new cancellation with NewCancellation().
func CancellationFinalizer(c Cancellation) {
	c.Cancel(CancellationFinalized)
}

type cancellation struct {
	cancel chan struct{}
	flag   atomic.Bool
	mutex  sync.RWMutex
	err    error
}

// NewCancellation returns a pointer to a struct satisfying the Cancellation interface.
func NewCancellation() Cancellation {
	c := cancellation{
		cancel: make(chan struct{}),
	}
	runtime.SetFinalizer(&c, CancellationFinalizer)
	return &c
}

func (c *cancellation) Finished() <-chan struct{} {
	return c.cancel
}

func (c *cancellation) Cancel(err error) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.flag.Load() {
		return c.err
	}
	c.err = err
	c.flag.Store(true)
	close(c.cancel)
	return nil
}

func (c *cancellation) Cancelled() bool {
	return c.flag.Load()
}

func (c *cancellation) Error() error {
	c.mutex.RLock()
	err := c.err
	c.mutex.RUnlock()
	return err
}

// CancellationChild returns a new Cancellation which can be Cancelled independently of the parent, but which will also be Cancelled if the parent is Cancelled first.
func CancellationChild(parent Cancellation) Cancellation {
	child := NewCancellation()
	go func() {
		select {
		case <-child.Finished():
		case <-parent.Finished():
			child.Cancel(parent.Error())
		}
	}()
	return child
}

// CancellationWithTimeout returns a ChildCancellation that will automatically be Cancelled with a CancellationTimeoutError after the timeout.
func CancellationWithTimeout(parent Cancellation, timeout time.Duration) Cancellation {
	child := CancellationChild(parent)
	go func() {
		timer := time.NewTimer(timeout)
		defer TimerStop(timer)
		select {
		case <-child.Finished():
		case <-timer.C:
			child.Cancel(CancellationTimeoutError)
		}
	}()
	return child
}
