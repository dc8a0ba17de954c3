//go:build linux

package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/c35s/viopci/snapshot"
	"github.com/c35s/viopci/virtio/pci"
)

type reportOpts struct {
	mapBARs bool
	queues  int
}

// report describes a function through the same operations a ring engine
// would use.
func report(w io.Writer, s *snapshot.Snapshot, ops pci.SystemOps, opts reportOpts) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)

	fmt.Fprintf(tw, "addr\t%s\n", s.Addr)
	fmt.Fprintf(tw, "type\t%v\n", s.Type())
	fmt.Fprintf(tw, "id\t%04x:%04x\tsubsystem %04x:%04x\n",
		ops.ReadConfig16(0x00), ops.ReadConfig16(0x02),
		ops.ReadConfig16(0x2c), ops.ReadConfig16(0x2e))

	fmt.Fprintf(tw, "class\t%06x\trev %d\n", s.Config.Class(), ops.ReadConfig8(0x08))
	fmt.Fprintf(tw, "bus\t%d\n", s.Bus)

	if m, ok := s.Config.MSIX(); ok {
		fmt.Fprintf(tw, "msix\t%d vectors\tenabled=%v table=bar%d+%#x\n",
			m.TableSize, m.Enabled, m.TableBAR, m.TableOffset)
	} else {
		fmt.Fprintf(tw, "msix\tnone\n")
	}

	regs := s.Config.DecodeBARs()

	for i := 0; i < pci.NumBARs; i++ {
		n := ops.ResourceLength(i)
		if n == 0 {
			continue
		}

		kind := "mem"
		if i < len(s.BARs) && s.BARs[i].Port {
			kind = "port"
		}

		fmt.Fprintf(tw, "bar%d\t%s\t%#x\tlen %#x", i, kind, s.BARs[i].Base, n)

		// only shown when it differs from the kernel's resource
		if r := regs[i]; r.Base != s.BARs[i].Base || r.Port != s.BARs[i].Port {
			fmt.Fprintf(tw, "\tregister %#x", r.Base)
		}

		if opts.mapBARs {
			p, err := ops.MapAddressRange(i, 0, n)
			if err != nil {
				fmt.Fprintf(tw, "\tunmapped: %v", err)
			} else {
				fmt.Fprintf(tw, "\tat %#x", p)
			}
		}

		fmt.Fprintln(tw)
	}

	if opts.mapBARs {
		pg, err := ops.AllocContiguousPages(1)
		if err != nil {
			return err
		}

		fmt.Fprintf(tw, "dma\t%d bytes\tphys %#x\n", len(pg), ops.PhysicalAddress(pg))
	}

	for q := 0; q < opts.queues; q++ {
		fmt.Fprintf(tw, "queue %d\t%s\n", q, vectorString(ops.MSIXVector(q)))
	}

	fmt.Fprintf(tw, "config\t%s\n", vectorString(ops.MSIXVector(pci.ConfigChangeQueue)))

	return tw.Flush()
}

func vectorString(v uint16) string {
	if v == pci.NoVector {
		return "no vector"
	}

	return fmt.Sprintf("vector %d", v)
}
