package pci

import "unsafe"

// AllocContiguousPages returns a zeroed block of size bytes rounded up to
// whole pages. Blocks come from the adapter's DMA extent in address order
// and stay valid for the adapter's lifetime. When the extent is exhausted
// it returns ErrNoMemory; there is nothing to retry against.
func (a *Adapter) AllocContiguousPages(size int) ([]byte, error) {
	b, err := a.pages.Alloc(size)
	if err != nil {
		a.log.Error("ran out of contiguous memory",
			"size", size, "offset", a.pages.Offset(), "extent", a.pages.Size())
		return nil, err
	}

	return b, nil
}

// FreeContiguousPages does nothing. The extent is released as a whole by
// its owner.
func (*Adapter) FreeContiguousPages([]byte) {}

// AllocNonPagedBlock returns a zeroed block of size bytes from the
// adapter's pool.
func (a *Adapter) AllocNonPagedBlock(size int) ([]byte, error) {
	b, err := a.pool.Alloc(size)
	if err != nil {
		a.log.Error("ran out of pool memory",
			"size", size, "offset", a.pool.Offset(), "pool", a.pool.Size())
		return nil, err
	}

	return b, nil
}

// FreeNonPagedBlock does nothing. The pool is released as a whole by its
// owner.
func (*Adapter) FreeNonPagedBlock([]byte) {}

// PhysicalAddress returns the bus address of the first byte of p.
func (a *Adapter) PhysicalAddress(p []byte) uint64 {
	return a.host.PhysicalAddress(uintptr(unsafe.Pointer(unsafe.SliceData(p))))
}
