// Package snapshot captures what the transport needs to know about a
// virtio-pci function and stores it as a cpio archive, so the function can
// be inspected or replayed away from the machine it came from.
package snapshot

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/c35s/viopci/sysfs"
	"github.com/c35s/viopci/virtio"
	"github.com/c35s/viopci/virtio/pci"
	"github.com/cavaliergopher/cpio"
)

// Snapshot describes a function at a point in time.
type Snapshot struct {
	Addr   string
	Bus    uint32
	Config pci.ConfigSpace
	BARs   []pci.BAR
}

// Source is a function a Snapshot can be captured from. *sysfs.Host is a
// Source.
type Source interface {
	Addr() string
	Bus() uint32
	Config() pci.ConfigSpace
	BARs() []pci.BAR
}

// archive member names
const (
	fileAddr     = "addr"
	fileBus      = "bus"
	fileConfig   = "config"
	fileResource = "resource"
)

var ErrFormat = errors.New("snapshot: bad format")

// Capture takes a snapshot of src.
func Capture(src Source) *Snapshot {
	return &Snapshot{
		Addr:   src.Addr(),
		Bus:    src.Bus(),
		Config: src.Config(),
		BARs:   src.BARs(),
	}
}

// Type returns the function's virtio device type.
func (s *Snapshot) Type() virtio.DeviceID {
	return virtio.DeviceIDFromPCI(s.Config.VendorID(), s.Config.DeviceID(), s.Config.SubsystemID())
}

// MSIX reports whether the function's MSI-X capability was enabled.
func (s *Snapshot) MSIX() bool {
	m, ok := s.Config.MSIX()
	return ok && m.Enabled
}

// AdapterConfig returns the pci.Config for driving the function through h.
// The extent, pool and logger are left for the caller to fill in.
func (s *Snapshot) AdapterConfig(h pci.Host) pci.Config {
	return pci.Config{
		Host:   h,
		Config: s.Config,
		BARs:   append([]pci.BAR(nil), s.BARs...),
		Bus:    s.Bus,
		MSIX:   s.MSIX(),
	}
}

// Write writes s to w as a cpio archive.
func Write(w io.Writer, s *Snapshot) error {
	cw := cpio.NewWriter(w)

	files := []struct {
		name string
		data []byte
	}{
		{fileAddr, []byte(s.Addr + "\n")},
		{fileBus, []byte(strconv.FormatUint(uint64(s.Bus), 10) + "\n")},
		{fileConfig, s.Config[:]},
		{fileResource, []byte(sysfs.FormatResource(s.BARs))},
	}

	for _, f := range files {
		err := cw.WriteHeader(&cpio.Header{
			Name: f.name,
			Mode: 0644,
			Size: int64(len(f.data)),
		})

		if err != nil {
			return fmt.Errorf("snapshot: write %s: %w", f.name, err)
		}

		if _, err := cw.Write(f.data); err != nil {
			return fmt.Errorf("snapshot: write %s: %w", f.name, err)
		}
	}

	return cw.Close()
}

// Read reads a snapshot written by Write. Unknown members are skipped.
func Read(r io.Reader) (*Snapshot, error) {
	var (
		s    Snapshot
		seen = make(map[string]bool)
		cr   = cpio.NewReader(r)
	)

	for {
		hdr, err := cr.Next()
		if err == io.EOF {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFormat, err)
		}

		data, err := io.ReadAll(cr)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrFormat, hdr.Name, err)
		}

		if err := s.decode(hdr.Name, data); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrFormat, hdr.Name, err)
		}

		seen[hdr.Name] = true
	}

	for _, name := range []string{fileAddr, fileBus, fileConfig, fileResource} {
		if !seen[name] {
			return nil, fmt.Errorf("%w: missing %s", ErrFormat, name)
		}
	}

	return &s, nil
}

func (s *Snapshot) decode(name string, data []byte) error {
	switch name {
	case fileAddr:
		s.Addr = string(bytes.TrimSpace(data))
		if _, err := sysfs.ParseAddr(s.Addr); err != nil {
			return err
		}

	case fileBus:
		bus, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 32)
		if err != nil {
			return err
		}

		s.Bus = uint32(bus)

	case fileConfig:
		if len(data) != pci.ConfigSpaceSize {
			return fmt.Errorf("size %d != %d", len(data), pci.ConfigSpaceSize)
		}

		copy(s.Config[:], data)

	case fileResource:
		bars, err := sysfs.ParseResource(string(data))
		if err != nil {
			return err
		}

		s.BARs = bars
	}

	return nil
}
