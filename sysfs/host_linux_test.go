//go:build linux

package sysfs_test

import (
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"unsafe"

	"github.com/c35s/viopci/sysfs"
	"github.com/c35s/viopci/virtio/pci"
	"github.com/google/go-cmp/cmp"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// memOnlyResource describes a function with a single 4K memory BAR at
// index 1, so opening it doesn't need the port device.
var memOnlyResource = sysfs.FormatResource([]pci.BAR{
	{},
	{Base: 0xfebf1000, Length: 0x1000},
	{},
	{},
	{},
	{},
})

func openFake(t *testing.T, config []byte) (*sysfs.Host, string) {
	t.Helper()

	root := t.TempDir()
	dir := writeFunction(t, root, "0000:00:04.0", map[string]string{
		"config":    string(config),
		"resource":  memOnlyResource,
		"resource1": string(make([]byte, 0x1000)),
	})

	h, err := sysfs.Open(sysfs.Config{
		Addr:   "0000:00:04.0",
		Root:   root,
		Logger: discard,
	})

	if err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() {
		if err := h.Close(); err != nil {
			t.Error(err)
		}
	})

	return h, dir
}

func TestOpen(t *testing.T) {
	config := make([]byte, pci.ConfigSpaceSize)
	binary.LittleEndian.PutUint16(config[0x00:], 0x1af4)
	binary.LittleEndian.PutUint16(config[0x02:], 0x1048)

	h, _ := openFake(t, config)

	cs := h.Config()
	if v := cs.DeviceID(); v != 0x1048 {
		t.Errorf("device %#x != 0x1048", v)
	}

	if n := len(h.BARs()); n != pci.NumBARs {
		t.Errorf("%d BARs != %d", n, pci.NumBARs)
	}

	if h.Bus() != 0 || h.Addr() != "0000:00:04.0" {
		t.Errorf("bus=%d addr=%s", h.Bus(), h.Addr())
	}

	t.Run("header only", func(t *testing.T) {
		h, _ := openFake(t, config[:64])
		cs := h.Config()
		if v := cs.VendorID(); v != 0x1af4 {
			t.Errorf("vendor %#x != 0x1af4", v)
		}
	})

	t.Run("bad addr", func(t *testing.T) {
		if _, err := sysfs.Open(sysfs.Config{Addr: "nope", Logger: discard}); !errors.Is(err, sysfs.ErrConfig) {
			t.Errorf("err %v is not ErrConfig", err)
		}
	})

	t.Run("missing", func(t *testing.T) {
		_, err := sysfs.Open(sysfs.Config{Addr: "0000:00:09.0", Root: t.TempDir(), Logger: discard})
		if !errors.Is(err, sysfs.ErrOpen) {
			t.Errorf("err %v is not ErrOpen", err)
		}
	})
}

func TestHostMapsMemoryBAR(t *testing.T) {
	h, dir := openFake(t, make([]byte, pci.ConfigSpaceSize))

	a, err := pci.New(pci.Config{
		Host:     h,
		PageSize: h.PageSize(),
		BARs:     h.BARs(),
		Bus:      h.Bus(),
		Logger:   discard,
	})

	if err != nil {
		t.Fatal(err)
	}

	p, err := a.MapAddressRange(1, 0x10, 4)
	if err != nil {
		t.Fatal(err)
	}

	if pci.IsPortAddress(p) {
		t.Fatalf("mapped address %#x is in port space", p)
	}

	a.Write32(p, 0xdeadbeef)
	a.Write8(p+4, 0x7f)

	if v := a.Read32(p); v != 0xdeadbeef {
		t.Errorf("read %#x != 0xdeadbeef", v)
	}

	data, err := os.ReadFile(filepath.Join(dir, "resource1"))
	if err != nil {
		t.Fatal(err)
	}

	if v := binary.LittleEndian.Uint32(data[0x10:]); v != 0xdeadbeef {
		t.Errorf("resource1 dword %#x != 0xdeadbeef", v)
	}

	if data[0x14] != 0x7f {
		t.Errorf("resource1 byte %#x != 0x7f", data[0x14])
	}

	q, err := a.MapAddressRange(1, 0x10, 4)
	if err != nil || q != p {
		t.Errorf("second mapping: p=%#x err=%v", q, err)
	}

	t.Run("unknown base", func(t *testing.T) {
		if _, err := h.MapDeviceBase(0, 0x1000, 0x1000, false); !errors.Is(err, sysfs.ErrMap) {
			t.Errorf("err %v is not ErrMap", err)
		}
	})

	t.Run("wrong bus", func(t *testing.T) {
		if _, err := h.MapDeviceBase(1, 0xfebf1000, 0x1000, false); !errors.Is(err, sysfs.ErrMap) {
			t.Errorf("err %v is not ErrMap", err)
		}
	})

	t.Run("port without device", func(t *testing.T) {
		if _, err := h.MapDeviceBase(0, 0xc000, 0x40, true); !errors.Is(err, sysfs.ErrMap) {
			t.Errorf("err %v is not ErrMap", err)
		}
	})
}

func TestHostAllocExtent(t *testing.T) {
	h, _ := openFake(t, make([]byte, pci.ConfigSpaceSize))
	pgsz := h.PageSize()

	if _, err := h.AllocExtent(pgsz + 1); !errors.Is(err, sysfs.ErrAlloc) {
		t.Errorf("err %v is not ErrAlloc", err)
	}

	extent, err := h.AllocExtent(4 * pgsz)
	if err != nil {
		t.Fatal(err)
	}

	if p := uintptr(unsafe.Pointer(&extent[0])); p%uintptr(pgsz) != 0 {
		t.Fatalf("extent %#x is not page-aligned", p)
	}

	a, err := pci.New(pci.Config{
		Host:     h,
		Extent:   extent,
		PageSize: pgsz,
		Logger:   discard,
	})

	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 4; i++ {
		if _, err := a.AllocContiguousPages(1); err != nil {
			t.Fatalf("alloc %d: %v", i, err)
		}
	}

	if _, err := a.AllocContiguousPages(1); !errors.Is(err, pci.ErrNoMemory) {
		t.Errorf("err %v is not ErrNoMemory", err)
	}
}

func TestHostPhysicalAddress(t *testing.T) {
	root := t.TempDir()
	writeFunction(t, root, "0000:00:04.0", map[string]string{
		"config":   string(make([]byte, pci.ConfigSpaceSize)),
		"resource": memOnlyResource,
	})

	entries := []uint64{
		5: 1<<63 | 0x42,
		6: 0x42, // not present
		7: 1<<63 | 1<<55 | 0x7,
	}

	pagemap := make([]byte, 8*len(entries))
	for i, e := range entries {
		binary.LittleEndian.PutUint64(pagemap[8*i:], e)
	}

	path := filepath.Join(t.TempDir(), "pagemap")
	if err := os.WriteFile(path, pagemap, 0644); err != nil {
		t.Fatal(err)
	}

	h, err := sysfs.Open(sysfs.Config{
		Addr:    "0000:00:04.0",
		Root:    root,
		Pagemap: path,
		Logger:  discard,
	})

	if err != nil {
		t.Fatal(err)
	}

	defer h.Close()

	pg := uint64(h.PageSize())

	tests := []struct {
		name string
		virt uintptr
		want uint64
	}{
		{"present", uintptr(5*pg + 0x123), 0x42*pg + 0x123},
		{"page start", uintptr(5 * pg), 0x42 * pg},
		{"flag bits", uintptr(7*pg + 0x10), 0x7*pg + 0x10},
		{"not present", uintptr(6*pg + 0x123), 0},
		{"past the end", uintptr(100 * pg), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := h.PhysicalAddress(tt.virt); got != tt.want {
				t.Errorf("phys %#x != %#x", got, tt.want)
			}
		})
	}
}

func TestHostMemorySpace(t *testing.T) {
	h, _ := openFake(t, make([]byte, pci.ConfigSpaceSize))

	extent, err := h.AllocExtent(h.PageSize())
	if err != nil {
		t.Fatal(err)
	}

	mem := h.Memory()
	p := uintptr(unsafe.Pointer(&extent[0]))

	mem.Write32(p, 0x11223344)
	mem.Write16(p+4, 0x5566)
	mem.Write8(p+6, 0x77)

	want := []byte{0x44, 0x33, 0x22, 0x11, 0x66, 0x55, 0x77}
	if diff := cmp.Diff(want, extent[:7]); diff != "" {
		t.Errorf("extent (-want +got):\n%s", diff)
	}

	if v := mem.Read16(p + 2); v != 0x1122 {
		t.Errorf("read16 %#x != 0x1122", v)
	}

	if v := mem.Read8(p + 6); v != 0x77 {
		t.Errorf("read8 %#x != 0x77", v)
	}

	bad := map[string]uintptr{
		"unmapped":     0x10000000,
		"past the end": p + uintptr(len(extent)) - 2,
	}

	for name, addr := range bad {
		t.Run(name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Errorf("read at %#x didn't panic", addr)
				}
			}()

			mem.Read32(addr)
		})
	}
}
