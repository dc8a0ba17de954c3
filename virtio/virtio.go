// Package virtio holds identifiers shared by the virtio-pci transport.
package virtio

import "fmt"

// DeviceID identifies the type of a virtio device.
type DeviceID uint32

const (
	InvalidDeviceID = DeviceID(0)
	NetworkDeviceID = DeviceID(1)
	BlockDeviceID   = DeviceID(2)
	ConsoleDeviceID = DeviceID(3)
	SCSIDeviceID    = DeviceID(8)
	SocketDeviceID  = DeviceID(19)
)

const (

	// PCIVendorID is the PCI vendor id of every virtio-pci function.
	PCIVendorID = 0x1af4

	// PCI device ids 0x1000 through 0x103f are transitional devices. Their
	// virtio type is carried in the PCI subsystem id.
	pciLegacyDeviceIDFirst = 0x1000
	pciLegacyDeviceIDLast  = 0x103f

	// PCI device ids from 0x1040 encode the virtio type as an offset.
	pciModernDeviceIDBase = 0x1040
	pciModernDeviceIDLast = 0x107f
)

// MSINoVector is written to a vector register to leave the source without an
// MSI-X vector.
const MSINoVector = 0xffff

// PCIDeviceID returns the modern PCI device id for a virtio device type.
func (id DeviceID) PCIDeviceID() uint16 {
	return uint16(pciModernDeviceIDBase + id)
}

// DeviceIDFromPCI returns the virtio type of a PCI function. It returns
// InvalidDeviceID if the function isn't a virtio device.
func DeviceIDFromPCI(vendor, device, subsystem uint16) DeviceID {
	if vendor != PCIVendorID {
		return InvalidDeviceID
	}

	switch {
	case device >= pciLegacyDeviceIDFirst && device <= pciLegacyDeviceIDLast:
		return DeviceID(subsystem)

	case device >= pciModernDeviceIDBase && device <= pciModernDeviceIDLast:
		return DeviceID(device - pciModernDeviceIDBase)

	default:
		return InvalidDeviceID
	}
}

func (id DeviceID) String() string {
	switch id {
	case InvalidDeviceID:
		return "invalid"

	case NetworkDeviceID:
		return "network"

	case BlockDeviceID:
		return "block"

	case ConsoleDeviceID:
		return "console"

	case SCSIDeviceID:
		return "scsi"

	case SocketDeviceID:
		return "socket"

	default:
		return fmt.Sprintf("DeviceID(%d)", id)
	}
}
