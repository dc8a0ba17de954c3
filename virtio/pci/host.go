// Package pci implements the system operations a virtio ring engine uses to
// reach a virtio-pci device: typed register access, contiguous DMA memory,
// PCI configuration reads, BAR mapping, MSI-X vector assignment and a
// busy-wait sleep.
//
// The engine sees only the SystemOps interface. An Adapter implements it on
// top of a Host, which supplies the environment-specific primitives.
package pci

// RegisterSpace performs typed register accesses in one address space.
type RegisterSpace interface {
	Read8(addr uintptr) uint8
	Read16(addr uintptr) uint16
	Read32(addr uintptr) uint32
	Write8(addr uintptr, v uint8)
	Write16(addr uintptr, v uint16)
	Write32(addr uintptr, v uint32)
}

// Host is the environment an Adapter runs in.
type Host interface {

	// Ports returns the legacy port I/O space.
	Ports() RegisterSpace

	// Memory returns the memory-mapped register space.
	Memory() RegisterSpace

	// MapDeviceBase makes a BAR accessible and returns its base address.
	// For a port space BAR the result is a port number below 0x10000.
	MapDeviceBase(bus uint32, base, length uint64, port bool) (uintptr, error)

	// PhysicalAddress returns the bus address backing virt.
	PhysicalAddress(virt uintptr) uint64

	// Stall spins for us microseconds without giving up the CPU.
	Stall(us uint32)
}
