//go:build linux

package sysfs

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/c35s/viopci/virtio/pci"
	"golang.org/x/sys/unix"
)

// Config describes a function to open.
type Config struct {

	// Addr is the function's PCI address, like 0000:00:04.0.
	Addr string

	// Root is the directory holding PCI functions.
	// If Root is empty, DefaultRoot is used.
	Root string

	// PortDevice is used for port I/O. It's only opened if the function has
	// a port BAR. If PortDevice is empty, /dev/port is used.
	PortDevice string

	// Pagemap translates virtual to physical addresses.
	// If Pagemap is empty, /proc/self/pagemap is used.
	Pagemap string

	// Logger receives the host's log output.
	// If Logger is nil, slog.Default is used.
	Logger *slog.Logger
}

// Host is a pci.Host for a PCI function owned by the calling process. It
// maps memory BARs through the function's sysfs resource files, reaches
// port BARs through the port device and resolves physical addresses
// through the pagemap. Everything it maps is released by Close.
type Host struct {
	addr   Addr
	dir    string
	config pci.ConfigSpace
	bars   []pci.BAR
	pgsz   int
	log    *slog.Logger

	port    *os.File
	pagemap *os.File

	mu      sync.Mutex
	regions [][]byte
}

const (
	minConfigSize = 64 // unprivileged readers only see the header

	pagemapPresent = 1 << 63
	pagemapPFNMask = 1<<55 - 1
)

var (
	ErrOpen   = errors.New("sysfs: open failed")
	ErrConfig = errors.New("sysfs: invalid config")
	ErrMap    = errors.New("sysfs: map failed")
	ErrAlloc  = errors.New("sysfs: extent allocation failed")
)

var le = binary.LittleEndian

var _ pci.Host = (*Host)(nil)

// Open reads the function's configuration space and resources and opens
// the files needed to drive it.
func Open(cfg Config) (*Host, error) {
	cfg = cfg.withDefaults()

	addr, err := ParseAddr(cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	h := &Host{
		addr: addr,
		dir:  filepath.Join(cfg.Root, cfg.Addr),
		pgsz: unix.Getpagesize(),
		log:  cfg.Logger.With("pci", cfg.Addr),
	}

	raw, err := os.ReadFile(filepath.Join(h.dir, "config"))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpen, err)
	}

	if len(raw) < minConfigSize {
		return nil, fmt.Errorf("%w: config is too short: %d < %d", ErrOpen, len(raw), minConfigSize)
	}

	if n := copy(h.config[:], raw); n < pci.ConfigSpaceSize {
		h.log.Warn("config space is truncated", "size", n)
	}

	res, err := os.ReadFile(filepath.Join(h.dir, "resource"))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpen, err)
	}

	if h.bars, err = ParseResource(string(res)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpen, err)
	}

	for _, b := range h.bars {
		if b.Port && h.port == nil {
			if h.port, err = os.OpenFile(cfg.PortDevice, os.O_RDWR, 0); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrOpen, err)
			}
		}
	}

	if h.pagemap, err = os.Open(cfg.Pagemap); err != nil {
		h.Close()
		return nil, fmt.Errorf("%w: %w", ErrOpen, err)
	}

	return h, nil
}

// Addr returns the function's PCI address.
func (h *Host) Addr() string { return h.addr.String() }

// Bus returns the function's bus number.
func (h *Host) Bus() uint32 { return h.addr.Bus }

// Config returns the configuration space read by Open.
func (h *Host) Config() pci.ConfigSpace { return h.config }

// BARs returns the function's BARs.
func (h *Host) BARs() []pci.BAR { return append([]pci.BAR(nil), h.bars...) }

// PageSize returns the host page size.
func (h *Host) PageSize() int { return h.pgsz }

func (h *Host) Ports() pci.RegisterSpace  { return portSpace{f: h.port} }
func (h *Host) Memory() pci.RegisterSpace { return memSpace{h: h} }

// MapDeviceBase maps a memory BAR's resource file into the process. A port
// BAR needs no mapping: its base is the port number.
func (h *Host) MapDeviceBase(bus uint32, base, length uint64, port bool) (uintptr, error) {
	if bus != h.addr.Bus {
		return 0, fmt.Errorf("%w: bus %d is not %s's bus", ErrMap, bus, h.addr)
	}

	if port {
		if h.port == nil {
			return 0, fmt.Errorf("%w: no port device", ErrMap)
		}

		if base == 0 || base+length > pci.PortMask+1 {
			return 0, fmt.Errorf("%w: port range %#x+%#x is out of bounds", ErrMap, base, length)
		}

		return uintptr(base), nil
	}

	i := h.barIndex(base)
	if i < 0 {
		return 0, fmt.Errorf("%w: no memory BAR at %#x", ErrMap, base)
	}

	size := (int(length) + h.pgsz - 1) &^ (h.pgsz - 1)

	f, err := os.OpenFile(filepath.Join(h.dir, fmt.Sprintf("resource%d", i)), os.O_RDWR|unix.O_SYNC, 0)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrMap, err)
	}

	defer f.Close()

	mem, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return 0, fmt.Errorf("%w: bar %d: %w", ErrMap, i, err)
	}

	h.mu.Lock()
	h.regions = append(h.regions, mem)
	h.mu.Unlock()

	h.log.Debug("mapped BAR", "bar", i, "base", base, "length", length)

	return uintptr(unsafe.Pointer(&mem[0])), nil
}

func (h *Host) barIndex(base uint64) int {
	for i, b := range h.bars {
		if !b.Port && b.Length > 0 && b.Base == base {
			return i
		}
	}

	return -1
}

// PhysicalAddress looks virt up in the pagemap. It returns 0 if the page
// isn't present or the process may not see physical frame numbers.
func (h *Host) PhysicalAddress(virt uintptr) uint64 {
	var (
		pg  = uintptr(h.pgsz)
		buf [8]byte
	)

	if _, err := unix.Pread(int(h.pagemap.Fd()), buf[:], int64(virt/pg)*8); err != nil {
		h.log.Error("pagemap read failed", "addr", virt, "err", err)
		return 0
	}

	e := le.Uint64(buf[:])
	if e&pagemapPresent == 0 {
		h.log.Error("page is not present", "addr", virt)
		return 0
	}

	return (e&pagemapPFNMask)*uint64(pg) + uint64(virt%pg)
}

func (h *Host) Stall(us uint32) {
	pci.SpinStall(us)
}

// AllocExtent maps size bytes of anonymous memory for DMA. The memory is
// page-aligned, populated and, where the memlock limit allows, locked.
func (h *Host) AllocExtent(size int) ([]byte, error) {
	if size <= 0 || size%h.pgsz != 0 {
		return nil, fmt.Errorf("%w: size %d is not a positive multiple of the page size (%d)", ErrAlloc, size, h.pgsz)
	}

	const (
		prot  = unix.PROT_READ | unix.PROT_WRITE
		flags = unix.MAP_SHARED | unix.MAP_ANONYMOUS | unix.MAP_POPULATE
	)

	mem, err := unix.Mmap(-1, 0, size, prot, flags|unix.MAP_LOCKED)
	if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EPERM) {
		h.log.Warn("can't lock DMA extent", "size", size, "err", err)
		mem, err = unix.Mmap(-1, 0, size, prot, flags)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAlloc, err)
	}

	h.mu.Lock()
	h.regions = append(h.regions, mem)
	h.mu.Unlock()

	return mem, nil
}

// Close unmaps every BAR and extent and closes the host's files. Nothing
// returned by the host may be used afterwards.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var errs []error
	for _, mem := range h.regions {
		errs = append(errs, unix.Munmap(mem))
	}

	h.regions = nil

	for _, f := range []*os.File{h.port, h.pagemap} {
		if f != nil {
			errs = append(errs, f.Close())
		}
	}

	return errors.Join(errs...)
}

func (cfg Config) withDefaults() Config {
	if cfg.Root == "" {
		cfg.Root = DefaultRoot
	}

	if cfg.PortDevice == "" {
		cfg.PortDevice = "/dev/port"
	}

	if cfg.Pagemap == "" {
		cfg.Pagemap = "/proc/self/pagemap"
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return cfg
}

// portSpace does port I/O through positioned reads and writes on the port
// device.
type portSpace struct {
	f *os.File
}

func (s portSpace) read(port uintptr, p []byte) {
	if _, err := unix.Pread(int(s.f.Fd()), p, int64(port)); err != nil {
		panic(fmt.Errorf("sysfs: read port %#x: %w", port, err))
	}
}

func (s portSpace) write(port uintptr, p []byte) {
	if _, err := unix.Pwrite(int(s.f.Fd()), p, int64(port)); err != nil {
		panic(fmt.Errorf("sysfs: write port %#x: %w", port, err))
	}
}

func (s portSpace) Read8(port uintptr) uint8 {
	var b [1]byte
	s.read(port, b[:])
	return b[0]
}

func (s portSpace) Read16(port uintptr) uint16 {
	var b [2]byte
	s.read(port, b[:])
	return le.Uint16(b[:])
}

func (s portSpace) Read32(port uintptr) uint32 {
	var b [4]byte
	s.read(port, b[:])
	return le.Uint32(b[:])
}

func (s portSpace) Write8(port uintptr, v uint8) {
	s.write(port, []byte{v})
}

func (s portSpace) Write16(port uintptr, v uint16) {
	var b [2]byte
	le.PutUint16(b[:], v)
	s.write(port, b[:])
}

func (s portSpace) Write32(port uintptr, v uint32) {
	var b [4]byte
	le.PutUint32(b[:], v)
	s.write(port, b[:])
}

// memSpace accesses registers in regions mapped by the host. An address
// outside every region is a bug in the caller and panics.
type memSpace struct {
	h *Host
}

// reg returns the n bytes at addr.
func (s memSpace) reg(addr uintptr, n int) []byte {
	s.h.mu.Lock()
	defer s.h.mu.Unlock()

	for _, mem := range s.h.regions {
		base := uintptr(unsafe.Pointer(&mem[0]))
		if addr >= base && addr-base+uintptr(n) <= uintptr(len(mem)) {
			off := int(addr - base)
			return mem[off : off+n : off+n]
		}
	}

	panic(fmt.Errorf("sysfs: address %#x is not mapped", addr))
}

func (s memSpace) Read8(addr uintptr) uint8 {
	return s.reg(addr, 1)[0]
}

func (s memSpace) Read16(addr uintptr) uint16 {
	return *(*uint16)(unsafe.Pointer(&s.reg(addr, 2)[0]))
}

func (s memSpace) Read32(addr uintptr) uint32 {
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(&s.reg(addr, 4)[0])))
}

func (s memSpace) Write8(addr uintptr, v uint8) {
	s.reg(addr, 1)[0] = v
}

func (s memSpace) Write16(addr uintptr, v uint16) {
	*(*uint16)(unsafe.Pointer(&s.reg(addr, 2)[0])) = v
}

func (s memSpace) Write32(addr uintptr, v uint32) {
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&s.reg(addr, 4)[0])), v)
}
