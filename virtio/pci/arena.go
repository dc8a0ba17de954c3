package pci

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"
)

// ErrNoMemory is returned when an arena can't satisfy an allocation.
var ErrNoMemory = errors.New("pci: out of memory")

// Arena is a bump allocator over a fixed span of memory. Blocks are handed
// out in address order and are never freed individually: the whole span is
// released at once by Reset.
type Arena struct {
	mu    sync.Mutex
	mem   []byte
	off   int
	align int
}

// NewArena returns an arena over mem that rounds every block up to a
// multiple of align. The align must be a power of two, and both the address
// and the length of mem must be multiples of it.
func NewArena(mem []byte, align int) (*Arena, error) {
	if align <= 0 || align&(align-1) != 0 {
		return nil, fmt.Errorf("alignment %d is not a power of two", align)
	}

	if len(mem)%align != 0 {
		return nil, fmt.Errorf("size %d is not a multiple of %d", len(mem), align)
	}

	if len(mem) > 0 && uintptr(unsafe.Pointer(&mem[0]))%uintptr(align) != 0 {
		return nil, fmt.Errorf("base %p is not %d-byte aligned", &mem[0], align)
	}

	return &Arena{mem: mem, align: align}, nil
}

// Alloc returns the next zeroed block of at least size bytes. The block is
// size rounded up to the arena's alignment. Alloc fails with ErrNoMemory if
// size bytes don't fit in the rest of the arena, and the arena is unchanged.
func (a *Arena) Alloc(size int) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if size < 0 || size > len(a.mem)-a.off {
		return nil, ErrNoMemory
	}

	// off and len(mem) are multiples of align, so the rounded block fits
	n := (size + a.align - 1) &^ (a.align - 1)
	b := a.mem[a.off : a.off+n : a.off+n]
	clear(b)
	a.off += n

	return b, nil
}

// Offset returns the number of bytes handed out so far.
func (a *Arena) Offset() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.off
}

// Size returns the arena's capacity in bytes.
func (a *Arena) Size() int {
	return len(a.mem)
}

// Reset releases every block. Blocks returned earlier must no longer be in
// use by the caller or the device.
func (a *Arena) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.off = 0
}
