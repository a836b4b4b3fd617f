package transfer

import (
	"io"
	"os"
	"time"
)

// DefaultBufferSize is the size of the buffer handed to every read and write.
const DefaultBufferSize = 32 * 1024 * 1024

type config struct {
	bufferSize int
	duration   time.Duration
	congestion string
	progress   io.Writer
	output     io.Writer
}

func defaultConfig() config {
	return config{
		bufferSize: DefaultBufferSize,
		output:     os.Stdout,
	}
}

func (c *config) _applyOption(opt SetupOption) {
	switch v := opt.(type) {
	case BufferSize:
		if v > 0 {
			c.bufferSize = int(v)
		}
	case Duration:
		c.duration = time.Duration(v)
	case Congestion:
		c.congestion = string(v)
	case Progress:
		c.progress = v.Writer
	case Output:
		if v.Writer != nil {
			c.output = v.Writer
		}
	}
}

type SetupOption interface {
	isSetupOption()
}

// BufferSize sets the transfer buffer size in bytes.
type BufferSize int

// Duration stops the transfer loop once it has run this long. Zero runs
// until the peer goes away or the transfer is cancelled.
type Duration time.Duration

// Congestion names a TCP congestion control algorithm, e.g. "bbr". Only
// honoured on Linux.
type Congestion string

// Progress draws a live byte counter to Writer while the loop runs.
type Progress struct{ Writer io.Writer }

// Output receives the "connected" status line. Defaults to os.Stdout.
type Output struct{ Writer io.Writer }

func (a BufferSize) isSetupOption() {}
func (a Duration) isSetupOption()   {}
func (a Congestion) isSetupOption() {}
func (a Progress) isSetupOption()   {}
func (a Output) isSetupOption()     {}
