package pci

import "time"

// Sleep busy-waits for ms milliseconds, one millisecond stall at a time.
// Callers run where the goroutine's thread must not be given up, so this
// never parks.
func (a *Adapter) Sleep(ms uint32) {
	for i := uint32(0); i < ms; i++ {
		a.host.Stall(1000)
	}
}

// SpinStall spins on the monotonic clock for us microseconds.
func SpinStall(us uint32) {
	deadline := time.Now().Add(time.Duration(us) * time.Microsecond)
	for time.Now().Before(deadline) {
	}
}
