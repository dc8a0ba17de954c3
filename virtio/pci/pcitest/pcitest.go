// Package pcitest provides an in-memory pci.Host for testing code that
// drives a virtio-pci transport.
package pcitest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"github.com/c35s/viopci/virtio/pci"
)

// Access records one register access.
type Access struct {
	Port  bool
	Write bool
	Width int // in bytes
	Addr  uintptr
	Value uint32
}

// Mapping records one MapDeviceBase call that succeeded.
type Mapping struct {
	Bus    uint32
	Base   uint64
	Length uint64
	Port   bool
	Addr   uintptr
}

// Host is a pci.Host backed by sparse in-memory register files. Memory
// BARs are mapped at synthetic addresses starting at MemoryBase.
type Host struct {

	// PhysOffset is added to a virtual address to get its physical address.
	PhysOffset uint64

	// MapErr, if set, is returned by every MapDeviceBase call.
	MapErr error

	mu       sync.Mutex
	ports    space
	mem      space
	next     uintptr
	accesses []Access
	mappings []Mapping
	stalls   []uint32
}

// MemoryBase is the address of the first memory BAR mapped by a Host.
const MemoryBase = 0x10000000

var le = binary.LittleEndian

var _ pci.Host = (*Host)(nil)

// NewHost returns an empty host.
func NewHost() *Host {
	h := &Host{next: MemoryBase}
	h.ports = space{h: h, port: true, regs: make(map[uintptr]byte)}
	h.mem = space{h: h, regs: make(map[uintptr]byte)}
	return h
}

func (h *Host) Ports() pci.RegisterSpace  { return &h.ports }
func (h *Host) Memory() pci.RegisterSpace { return &h.mem }

// MapDeviceBase returns the port number for a port BAR and the next free
// synthetic address for a memory BAR.
func (h *Host) MapDeviceBase(bus uint32, base, length uint64, port bool) (uintptr, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.MapErr != nil {
		return 0, h.MapErr
	}

	var addr uintptr
	if port {
		if base == 0 || base+length > pci.PortMask+1 {
			return 0, fmt.Errorf("port range %#x+%#x is out of bounds", base, length)
		}

		addr = uintptr(base)
	} else {
		if length == 0 {
			return 0, errors.New("zero-length memory BAR")
		}

		addr = h.next
		h.next += uintptr((length + 0xfff) &^ 0xfff)
	}

	h.mappings = append(h.mappings, Mapping{
		Bus:    bus,
		Base:   base,
		Length: length,
		Port:   port,
		Addr:   addr,
	})

	return addr, nil
}

func (h *Host) PhysicalAddress(virt uintptr) uint64 {
	return uint64(virt) + h.PhysOffset
}

// Stall records the request and returns immediately.
func (h *Host) Stall(us uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stalls = append(h.stalls, us)
}

// SetPort preloads the port registers starting at port with p.
func (h *Host) SetPort(port uint16, p []byte) {
	h.ports.set(uintptr(port), p)
}

// SetMemory preloads the memory registers starting at addr with p.
func (h *Host) SetMemory(addr uintptr, p []byte) {
	h.mem.set(addr, p)
}

// Accesses returns the register accesses made so far, in order.
func (h *Host) Accesses() []Access {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Access(nil), h.accesses...)
}

// Mappings returns the successful MapDeviceBase calls, in order.
func (h *Host) Mappings() []Mapping {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Mapping(nil), h.mappings...)
}

// Stalls returns the Stall requests, in order.
func (h *Host) Stalls() []uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]uint32(nil), h.stalls...)
}

// space is a sparse little-endian register file.
type space struct {
	h    *Host
	port bool
	regs map[uintptr]byte
}

func (s *space) set(addr uintptr, p []byte) {
	s.h.mu.Lock()
	defer s.h.mu.Unlock()

	for i, b := range p {
		s.regs[addr+uintptr(i)] = b
	}
}

func (s *space) read(addr uintptr, width int) uint32 {
	s.h.mu.Lock()
	defer s.h.mu.Unlock()

	var buf [4]byte
	for i := 0; i < width; i++ {
		buf[i] = s.regs[addr+uintptr(i)]
	}

	v := le.Uint32(buf[:])
	s.h.accesses = append(s.h.accesses, Access{Port: s.port, Width: width, Addr: addr, Value: v})

	return v
}

func (s *space) write(addr uintptr, width int, v uint32) {
	s.h.mu.Lock()
	defer s.h.mu.Unlock()

	var buf [4]byte
	le.PutUint32(buf[:], v)
	for i := 0; i < width; i++ {
		s.regs[addr+uintptr(i)] = buf[i]
	}

	s.h.accesses = append(s.h.accesses, Access{Port: s.port, Write: true, Width: width, Addr: addr, Value: v})
}

func (s *space) Read8(addr uintptr) uint8       { return uint8(s.read(addr, 1)) }
func (s *space) Read16(addr uintptr) uint16     { return uint16(s.read(addr, 2)) }
func (s *space) Read32(addr uintptr) uint32     { return s.read(addr, 4) }
func (s *space) Write8(addr uintptr, v uint8)   { s.write(addr, 1, uint32(v)) }
func (s *space) Write16(addr uintptr, v uint16) { s.write(addr, 2, uint32(v)) }
func (s *space) Write32(addr uintptr, v uint32) { s.write(addr, 4, v) }

// AlignedBytes returns a zeroed slice of size bytes whose address is a
// multiple of align, which must be a power of two.
func AlignedBytes(size, align int) []byte {
	buf := make([]byte, size+align)
	off := int(uintptr(unsafe.Pointer(&buf[0])) & uintptr(align-1))
	if off != 0 {
		off = align - off
	}

	return buf[off : off+size : off+size]
}
