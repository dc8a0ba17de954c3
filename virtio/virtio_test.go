package virtio_test

import (
	"fmt"
	"testing"

	"github.com/c35s/viopci/virtio"
)

func TestDeviceIDFromPCI(t *testing.T) {
	tests := []struct {
		vendor, device, subsystem uint16
		want                      virtio.DeviceID
	}{
		{virtio.PCIVendorID, 0x1004, 8, virtio.SCSIDeviceID},
		{virtio.PCIVendorID, 0x1001, 2, virtio.BlockDeviceID},
		{virtio.PCIVendorID, 0x1048, 0, virtio.SCSIDeviceID},
		{virtio.PCIVendorID, 0x1053, 0, virtio.SocketDeviceID},
		{virtio.PCIVendorID, 0x1100, 8, virtio.InvalidDeviceID},
		{0x8086, 0x1048, 8, virtio.InvalidDeviceID},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%04x:%04x/%d", tt.vendor, tt.device, tt.subsystem), func(t *testing.T) {
			if got := virtio.DeviceIDFromPCI(tt.vendor, tt.device, tt.subsystem); got != tt.want {
				t.Errorf("device id %v != %v", got, tt.want)
			}
		})
	}
}

func TestPCIDeviceID(t *testing.T) {
	if id := virtio.SCSIDeviceID.PCIDeviceID(); id != 0x1048 {
		t.Errorf("pci device id %#x != 0x1048", id)
	}
}

func TestDeviceIDString(t *testing.T) {
	if s := virtio.SCSIDeviceID.String(); s != "scsi" {
		t.Errorf("%q != scsi", s)
	}

	if s := virtio.DeviceID(42).String(); s != "DeviceID(42)" {
		t.Errorf("%q != DeviceID(42)", s)
	}
}
