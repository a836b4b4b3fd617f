// Package rate measures how many bytes crossed a connection in how long and
// renders the result.
package rate

import (
	"time"

	"github.com/dustin/go-humanize"
)

// MiB is the unit rates are expressed in.
const MiB = 1024 * 1024

// Measurement is a byte counter bracketed by two timestamps.
type Measurement struct {
	Start time.Time
	End   time.Time
	Bytes uint64
}

// Begin resets the measurement and records the start time.
func (m *Measurement) Begin() {
	*m = Measurement{Start: time.Now()}
}

// Add counts n transferred bytes. Non-positive values are ignored.
func (m *Measurement) Add(n int) {
	if n > 0 {
		m.Bytes += uint64(n)
	}
}

// Finish records the end time.
func (m *Measurement) Finish() {
	m.End = time.Now()
}

// Elapsed is the time between Begin and Finish.
func (m *Measurement) Elapsed() time.Duration {
	if m.End.Before(m.Start) {
		return 0
	}
	return m.End.Sub(m.Start)
}

// Rate returns the throughput in MiB/s. A measurement with no elapsed time
// reports 0 rather than dividing by zero.
func (m *Measurement) Rate() float64 {
	return Rate(m.Bytes, m.Elapsed())
}

// Rate computes bytes / seconds / MiB.
func Rate(bytes uint64, elapsed time.Duration) float64 {
	seconds := elapsed.Seconds()
	if seconds <= 0 {
		return 0
	}
	return float64(bytes) / seconds / MiB
}

// DataUnit is a byte count that prints itself in binary units.
type DataUnit uint64

func (d DataUnit) String() string {
	return humanize.IBytes(uint64(d))
}
