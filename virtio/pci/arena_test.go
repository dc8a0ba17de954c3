package pci_test

import (
	"errors"
	"testing"

	"github.com/c35s/viopci/virtio/pci"
	"github.com/c35s/viopci/virtio/pci/pcitest"
)

func TestNewArena(t *testing.T) {
	t.Run("bad alignment", func(t *testing.T) {
		for _, align := range []int{0, -1, 3, 100} {
			if _, err := pci.NewArena(nil, align); err == nil {
				t.Errorf("align %d: no error", align)
			}
		}
	})

	t.Run("bad size", func(t *testing.T) {
		if _, err := pci.NewArena(pcitest.AlignedBytes(100, 64), 64); err == nil {
			t.Error("no error")
		}
	})

	t.Run("bad base", func(t *testing.T) {
		mem := pcitest.AlignedBytes(2*pageSize, pageSize)
		if _, err := pci.NewArena(mem[8:8+pageSize], pageSize); err == nil {
			t.Error("no error")
		}
	})

	t.Run("empty", func(t *testing.T) {
		a, err := pci.NewArena(nil, pageSize)
		if err != nil {
			t.Fatal(err)
		}

		if _, err := a.Alloc(1); !errors.Is(err, pci.ErrNoMemory) {
			t.Errorf("err %v is not ErrNoMemory", err)
		}

		if _, err := a.Alloc(-1); !errors.Is(err, pci.ErrNoMemory) {
			t.Errorf("negative size: err %v is not ErrNoMemory", err)
		}
	})
}

func TestArenaReset(t *testing.T) {
	mem := pcitest.AlignedBytes(2*pageSize, pageSize)
	a, err := pci.NewArena(mem, pageSize)
	if err != nil {
		t.Fatal(err)
	}

	b1, err := a.Alloc(2 * pageSize)
	if err != nil {
		t.Fatal(err)
	}

	b1[0] = 0xaa

	if _, err := a.Alloc(1); !errors.Is(err, pci.ErrNoMemory) {
		t.Fatalf("err %v is not ErrNoMemory", err)
	}

	a.Reset()

	if off := a.Offset(); off != 0 {
		t.Fatalf("offset %d != 0", off)
	}

	b2, err := a.Alloc(1)
	if err != nil {
		t.Fatal(err)
	}

	if &b2[0] != &b1[0] || b2[0] != 0 {
		t.Error("block after reset is not the zeroed start of the arena")
	}
}
