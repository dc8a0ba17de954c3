package pci

import "encoding/binary"

// ConfigSpaceSize is the size of conventional PCI configuration space.
const ConfigSpaceSize = 256

// ConfigSpace is a point-in-time copy of a function's configuration space.
type ConfigSpace [ConfigSpaceSize]byte

// configuration header offsets

const (
	cfgVendorID    = 0x00
	cfgDeviceID    = 0x02
	cfgCommand     = 0x04
	cfgStatus      = 0x06
	cfgRevision    = 0x08
	cfgHeaderType  = 0x0e
	cfgBAR0        = 0x10
	cfgSubVendorID = 0x2c
	cfgSubsystemID = 0x2e
	cfgCapPtr      = 0x34
	cfgIntLine     = 0x3c
	cfgIntPin      = 0x3d
)

const (
	statusCapList = 1 << 4 // capability list is present

	capIDMSIX = 0x11

	msixCtlTableSize = 0x07ff
	msixCtlMask      = 1 << 14
	msixCtlEnable    = 1 << 15
	msixBIRMask      = 0x7

	barIOSpace   = 1 << 0
	barMemType   = 0x6
	barMem64     = 0x4
	barIOMask    = ^uint32(0x3)
	barMemMask   = ^uint32(0xf)
	headerTypeMF = 1 << 7
)

var le = binary.LittleEndian

// Read8 returns the byte at off.
func (c *ConfigSpace) Read8(off int) uint8 {
	return c[off]
}

// Read16 returns the little-endian word at off.
func (c *ConfigSpace) Read16(off int) uint16 {
	return le.Uint16(c[off:])
}

// Read32 returns the little-endian dword at off.
func (c *ConfigSpace) Read32(off int) uint32 {
	return le.Uint32(c[off:])
}

func (c *ConfigSpace) VendorID() uint16    { return c.Read16(cfgVendorID) }
func (c *ConfigSpace) DeviceID() uint16    { return c.Read16(cfgDeviceID) }
func (c *ConfigSpace) Command() uint16     { return c.Read16(cfgCommand) }
func (c *ConfigSpace) Status() uint16      { return c.Read16(cfgStatus) }
func (c *ConfigSpace) Revision() uint8     { return c.Read8(cfgRevision) }
func (c *ConfigSpace) SubVendorID() uint16 { return c.Read16(cfgSubVendorID) }
func (c *ConfigSpace) SubsystemID() uint16 { return c.Read16(cfgSubsystemID) }
func (c *ConfigSpace) IntLine() uint8      { return c.Read8(cfgIntLine) }
func (c *ConfigSpace) IntPin() uint8       { return c.Read8(cfgIntPin) }

// Class returns the 24-bit class code that follows the revision id.
func (c *ConfigSpace) Class() uint32 {
	return c.Read32(cfgRevision) >> 8
}

// HeaderType returns the header layout without the multi-function bit.
func (c *ConfigSpace) HeaderType() uint8 {
	return c.Read8(cfgHeaderType) &^ headerTypeMF
}

// Capability locates a capability in the capability list.
type Capability struct {
	ID     uint8
	Offset int
}

// Capabilities walks the capability list. A malformed list ends the walk
// rather than looping.
func (c *ConfigSpace) Capabilities() []Capability {
	if c.Status()&statusCapList == 0 {
		return nil
	}

	var (
		caps []Capability
		seen = make(map[int]bool)
		off  = int(c.Read8(cfgCapPtr) &^ 0x3)
	)

	for off >= 0x40 && off < ConfigSpaceSize-1 && !seen[off] {
		seen[off] = true
		caps = append(caps, Capability{ID: c.Read8(off), Offset: off})
		off = int(c.Read8(off+1) &^ 0x3)
	}

	return caps
}

// FindCapability returns the offset of the first capability with the given
// id.
func (c *ConfigSpace) FindCapability(id uint8) (off int, found bool) {
	for _, cap := range c.Capabilities() {
		if cap.ID == id {
			return cap.Offset, true
		}
	}

	return 0, false
}

// MSIX describes a function's MSI-X capability.
type MSIX struct {
	TableSize   int
	Enabled     bool
	Masked      bool
	TableBAR    int
	TableOffset uint32
	PBABAR      int
	PBAOffset   uint32
}

// MSIX decodes the MSI-X capability. It returns false if the function
// doesn't have one.
func (c *ConfigSpace) MSIX() (MSIX, bool) {
	off, ok := c.FindCapability(capIDMSIX)
	if !ok || off+12 > ConfigSpaceSize {
		return MSIX{}, false
	}

	var (
		ctl   = c.Read16(off + 2)
		table = c.Read32(off + 4)
		pba   = c.Read32(off + 8)
	)

	return MSIX{
		TableSize:   int(ctl&msixCtlTableSize) + 1,
		Enabled:     ctl&msixCtlEnable != 0,
		Masked:      ctl&msixCtlMask != 0,
		TableBAR:    int(table & msixBIRMask),
		TableOffset: table &^ msixBIRMask,
		PBABAR:      int(pba & msixBIRMask),
		PBAOffset:   pba &^ msixBIRMask,
	}, true
}

// DecodeBARs decodes the base address registers of a type 0 header. A
// snapshot can't tell a BAR's length, so Length is always 0; the second half
// of a 64-bit BAR decodes as an empty entry.
func (c *ConfigSpace) DecodeBARs() [NumBARs]BAR {
	var bars [NumBARs]BAR

	for i := 0; i < NumBARs; i++ {
		v := c.Read32(cfgBAR0 + 4*i)

		switch {
		case v&barIOSpace != 0:
			bars[i] = BAR{Base: uint64(v & barIOMask), Port: true}

		case v&barMemType == barMem64 && i+1 < NumBARs:
			hi := c.Read32(cfgBAR0 + 4*(i+1))
			bars[i] = BAR{Base: uint64(hi)<<32 | uint64(v&barMemMask)}
			i++

		default:
			bars[i] = BAR{Base: uint64(v & barMemMask)}
		}
	}

	return bars
}
