//go:build linux

// Command vioinfo inspects virtio-pci functions the way the transport sees
// them. With no arguments it lists the virtio functions on the machine.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/c35s/viopci/snapshot"
	"github.com/c35s/viopci/sysfs"
	"github.com/c35s/viopci/virtio/pci"
	"github.com/c35s/viopci/virtio/pci/pcitest"
	"golang.org/x/term"
)

func main() {

	var (
		root     = flag.String("root", sysfs.DefaultRoot, "read PCI functions from `dir`")
		dev      = flag.String("dev", "", "inspect the function at PCI address `addr`")
		replay   = flag.String("replay", "", "inspect the snapshot in `file` instead of a live function")
		save     = flag.String("snapshot", "", "write a snapshot of the function to `file`")
		dump     = flag.Bool("dump", false, "dump the function's configuration space")
		mapBARs  = flag.Bool("map", false, "map every BAR and allocate a DMA page")
		queues   = flag.Int("queues", 4, "show MSI-X vectors for `n` queues")
		pages    = flag.Int("pages", 4, "size of the DMA extent in pages")
		verbose  = flag.Bool("v", false, "log debug output")
		logLevel = slog.LevelInfo
	)

	flag.Parse()

	if *verbose {
		logLevel = slog.LevelDebug
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	opts := reportOpts{
		mapBARs: *mapBARs,
		queues:  *queues,
	}

	switch {
	case *replay != "":
		f, err := os.Open(*replay)
		if err != nil {
			panic(err)
		}

		defer f.Close()

		s, err := snapshot.Read(f)
		if err != nil {
			panic(err)
		}

		if *dump {
			dumpConfig(os.Stdout, &s.Config)
			return
		}

		cfg := s.AdapterConfig(pcitest.NewHost())
		cfg.Extent = pcitest.AlignedBytes(*pages*os.Getpagesize(), os.Getpagesize())

		a, err := pci.New(cfg)
		if err != nil {
			panic(err)
		}

		if err := report(os.Stdout, s, a, opts); err != nil {
			panic(err)
		}

	case *dev != "":
		h, err := sysfs.Open(sysfs.Config{Addr: *dev, Root: *root})
		if err != nil {
			panic(err)
		}

		defer h.Close()

		s := snapshot.Capture(h)

		if *save != "" {
			if err := writeSnapshot(*save, s); err != nil {
				panic(err)
			}
		}

		if *dump {
			dumpConfig(os.Stdout, &s.Config)
			return
		}

		cfg := s.AdapterConfig(h)
		cfg.PageSize = h.PageSize()

		if *mapBARs {
			if cfg.Extent, err = h.AllocExtent(*pages * h.PageSize()); err != nil {
				panic(err)
			}
		}

		a, err := pci.New(cfg)
		if err != nil {
			panic(err)
		}

		if err := report(os.Stdout, s, a, opts); err != nil {
			panic(err)
		}

	default:
		fns, err := sysfs.Scan(context.Background(), *root)
		if err != nil {
			panic(err)
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
		fmt.Fprintln(tw, "ADDR\tTYPE\tID\tCLASS")
		for _, fn := range fns {
			fmt.Fprintf(tw, "%s\t%v\t%04x:%04x\t%06x\n", fn.Addr, fn.Type, fn.Vendor, fn.Device, fn.Class)
		}

		tw.Flush()
	}
}

func writeSnapshot(path string, s *snapshot.Snapshot) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if err := snapshot.Write(f, s); err != nil {
		f.Close()
		return err
	}

	return f.Close()
}

// dumpConfig writes a hex dump to a terminal and raw bytes to anything else.
func dumpConfig(f *os.File, cs *pci.ConfigSpace) {
	if term.IsTerminal(int(f.Fd())) {
		io.WriteString(f, hex.Dump(cs[:]))
		return
	}

	f.Write(cs[:])
}
