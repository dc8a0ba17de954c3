// Package sysfs finds virtio-pci functions through Linux sysfs and provides
// a pci.Host that drives them from user space.
package sysfs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/c35s/viopci/virtio"
	"golang.org/x/sync/errgroup"
)

// DefaultRoot is the sysfs directory holding one entry per PCI function.
const DefaultRoot = "/sys/bus/pci/devices"

// scanLimit bounds the number of functions read concurrently by Scan.
const scanLimit = 8

var ErrScan = errors.New("sysfs: scan failed")

// Function describes a virtio-pci function found by Scan.
type Function struct {
	Addr      string
	Vendor    uint16
	Device    uint16
	Subsystem uint16
	Class     uint32
	Type      virtio.DeviceID
}

// Addr is a PCI function address.
type Addr struct {
	Domain uint32
	Bus    uint32
	Slot   uint32
	Func   uint32
}

// ParseAddr parses an address in the dddd:bb:ss.f form sysfs uses.
func ParseAddr(s string) (Addr, error) {
	var a Addr
	if n, err := fmt.Sscanf(s, "%x:%x:%x.%x", &a.Domain, &a.Bus, &a.Slot, &a.Func); err != nil || n != 4 {
		return Addr{}, fmt.Errorf("malformed PCI address %q", s)
	}

	if a.Bus > 0xff || a.Slot > 0x1f || a.Func > 0x7 {
		return Addr{}, fmt.Errorf("PCI address %q is out of range", s)
	}

	return a, nil
}

func (a Addr) String() string {
	return fmt.Sprintf("%04x:%02x:%02x.%x", a.Domain, a.Bus, a.Slot, a.Func)
}

// Scan returns the virtio functions under root in name order. If root is
// empty, DefaultRoot is used.
func Scan(ctx context.Context, root string) ([]Function, error) {
	if root == "" {
		root = DefaultRoot
	}

	ents, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScan, err)
	}

	fns := make([]Function, len(ents))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(scanLimit)

	for i, e := range ents {
		i, name := i, e.Name()
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			fn, err := readFunction(filepath.Join(root, name))
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}

			fn.Addr = name
			fns[i] = fn

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScan, err)
	}

	var virtioFns []Function
	for _, fn := range fns {
		if fn.Type != virtio.InvalidDeviceID {
			virtioFns = append(virtioFns, fn)
		}
	}

	return virtioFns, nil
}

func readFunction(dir string) (fn Function, err error) {
	vendor, err := readHex(dir, "vendor")
	if err != nil {
		return
	}

	fn.Vendor = uint16(vendor)

	// skip the other reads for functions that can't be virtio
	if fn.Vendor != virtio.PCIVendorID {
		return
	}

	device, err := readHex(dir, "device")
	if err != nil {
		return
	}

	subsystem, err := readHex(dir, "subsystem_device")
	if err != nil {
		return
	}

	class, err := readHex(dir, "class")
	if err != nil {
		return
	}

	fn.Device = uint16(device)
	fn.Subsystem = uint16(subsystem)
	fn.Class = uint32(class)
	fn.Type = virtio.DeviceIDFromPCI(fn.Vendor, fn.Device, fn.Subsystem)

	return
}

func readHex(dir, name string) (uint64, error) {
	b, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return 0, err
	}

	v, err := strconv.ParseUint(strings.TrimSpace(string(b)), 0, 32)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}

	return v, nil
}
