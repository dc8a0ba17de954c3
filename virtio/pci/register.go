package pci

// PortMask covers the legacy port space. Nothing is memory-mapped below
// 64K, so an address with no bits above the mask is always a port.
const PortMask = 0xffff

// IsPortAddress reports whether addr is dispatched to the port space.
func IsPortAddress(addr uintptr) bool {
	return addr&^PortMask == 0
}

func (a *Adapter) space(addr uintptr) RegisterSpace {
	if IsPortAddress(addr) {
		return a.host.Ports()
	}

	return a.host.Memory()
}

// Read8 reads the byte register at addr.
func (a *Adapter) Read8(addr uintptr) uint8 {
	return a.space(addr).Read8(addr)
}

// Read16 reads the word register at addr.
func (a *Adapter) Read16(addr uintptr) uint16 {
	return a.space(addr).Read16(addr)
}

// Read32 reads the dword register at addr.
func (a *Adapter) Read32(addr uintptr) uint32 {
	return a.space(addr).Read32(addr)
}

// Write8 writes the byte register at addr.
func (a *Adapter) Write8(addr uintptr, v uint8) {
	a.space(addr).Write8(addr, v)
}

// Write16 writes the word register at addr.
func (a *Adapter) Write16(addr uintptr, v uint16) {
	a.space(addr).Write16(addr, v)
}

// Write32 writes the dword register at addr.
func (a *Adapter) Write32(addr uintptr, v uint32) {
	a.space(addr).Write32(addr, v)
}
