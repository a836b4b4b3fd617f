package util

// These are misc. utility functions that didn't really fit anywhere else

import "time"

// This is a workaround to go's broken timer implementation
func TimerStop(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
