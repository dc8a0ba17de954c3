package pci

// SystemOps is everything a virtio ring engine needs from the transport.
type SystemOps interface {

	// Register access. Addresses below 0x10000 are ports, everything else is
	// memory-mapped.
	Read8(addr uintptr) uint8
	Read16(addr uintptr) uint16
	Read32(addr uintptr) uint32
	Write8(addr uintptr, v uint8)
	Write16(addr uintptr, v uint16)
	Write32(addr uintptr, v uint32)

	// DMA memory. Frees are no-ops; memory lives as long as the device.
	AllocContiguousPages(size int) ([]byte, error)
	FreeContiguousPages(p []byte)
	PhysicalAddress(p []byte) uint64
	AllocNonPagedBlock(size int) ([]byte, error)
	FreeNonPagedBlock(p []byte)

	// Configuration space, served from a snapshot.
	ReadConfig8(off int) uint8
	ReadConfig16(off int) uint16
	ReadConfig32(off int) uint32

	// BARs.
	ResourceLength(bar int) uint64
	MapAddressRange(bar int, offset, maxLen uint64) (uintptr, error)
	UnmapAddressRange(addr uintptr)

	// MSIXVector returns the vector for a queue, or NoVector.
	MSIXVector(queue int) uint16

	// Sleep busy-waits for ms milliseconds.
	Sleep(ms uint32)
}

var _ SystemOps = (*Adapter)(nil)

// ReadConfig8 reads a byte from the configuration snapshot.
func (a *Adapter) ReadConfig8(off int) uint8 {
	return a.config.Read8(off)
}

// ReadConfig16 reads a little-endian word from the configuration snapshot.
func (a *Adapter) ReadConfig16(off int) uint16 {
	return a.config.Read16(off)
}

// ReadConfig32 reads a little-endian dword from the configuration snapshot.
func (a *Adapter) ReadConfig32(off int) uint32 {
	return a.config.Read32(off)
}
