package pci

import (
	"errors"
	"fmt"
	"sync"
)

// NumBARs is the number of base address registers in a type 0 header.
const NumBARs = 6

var (
	ErrInvalidBAR = errors.New("pci: invalid BAR")
	ErrUnmapped   = errors.New("pci: BAR range is not mapped")
)

// BAR describes a base address register.
type BAR struct {
	Base   uint64 // physical base address, or first port
	Length uint64 // length in bytes
	Port   bool   // port space rather than memory space
}

// barSlot is a BAR and the base it's mapped at. The base is set at most once
// and then never changes.
type barSlot struct {
	BAR

	mu     sync.Mutex
	base   uintptr
	mapped bool
}

func (s *barSlot) get(mapBase func() (uintptr, error)) (uintptr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mapped {
		return s.base, nil
	}

	base, err := mapBase()
	if err != nil {
		return 0, err
	}

	if base == 0 {
		return 0, errors.New("host returned a nil base")
	}

	s.base = base
	s.mapped = true

	return base, nil
}

func (a *Adapter) slot(bar int) *barSlot {
	if bar < 0 || bar >= len(a.bars) {
		return nil
	}

	return &a.bars[bar]
}

// ResourceLength returns the length of a BAR, or 0 if bar is not a valid
// index.
func (a *Adapter) ResourceLength(bar int) uint64 {
	if s := a.slot(bar); s != nil {
		return s.Length
	}

	return 0
}

// MapAddressRange returns the address of offset within a BAR. The BAR is
// mapped on first use and the mapping is reused for the adapter's lifetime.
// A failed mapping isn't remembered, so a later call tries again. The
// maxLen argument is accepted for symmetry with the ring engine's callers
// but doesn't limit the result.
func (a *Adapter) MapAddressRange(bar int, offset, maxLen uint64) (uintptr, error) {
	s := a.slot(bar)
	if s == nil {
		return 0, fmt.Errorf("%w: %d", ErrInvalidBAR, bar)
	}

	base, err := s.get(func() (uintptr, error) {
		return a.host.MapDeviceBase(a.bus, s.Base, s.Length, s.Port)
	})

	if err != nil {
		a.log.Error("BAR mapping failed",
			"bar", bar, "base", s.Base, "length", s.Length, "port", s.Port, "err", err)
		return 0, fmt.Errorf("%w: bar %d: %w", ErrUnmapped, bar, err)
	}

	if offset >= s.Length {
		return 0, fmt.Errorf("%w: bar %d: offset %#x >= length %#x", ErrUnmapped, bar, offset, s.Length)
	}

	return base + uintptr(offset), nil
}

// UnmapAddressRange does nothing. The host unmaps every BAR of the function
// when the device goes away.
func (*Adapter) UnmapAddressRange(uintptr) {}
