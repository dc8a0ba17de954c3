package sysfs

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/c35s/viopci/virtio/pci"
)

// resource flags from include/linux/ioport.h
const (
	ioresourceIO  = 0x00000100
	ioresourceMem = 0x00000200
)

// ParseResource parses the contents of a function's sysfs resource file.
// The first pci.NumBARs lines describe the BARs; unused BARs parse as
// empty entries.
func ParseResource(data string) ([]pci.BAR, error) {
	var (
		bars []pci.BAR
		sc   = bufio.NewScanner(strings.NewReader(data))
	)

	for len(bars) < pci.NumBARs && sc.Scan() {
		var start, end, flags uint64
		if _, err := fmt.Sscanf(sc.Text(), "0x%x 0x%x 0x%x", &start, &end, &flags); err != nil {
			return nil, fmt.Errorf("resource line %d: %w", len(bars), err)
		}

		if start == 0 && end == 0 {
			bars = append(bars, pci.BAR{})
			continue
		}

		if end < start {
			return nil, fmt.Errorf("resource line %d: end %#x < start %#x", len(bars), end, start)
		}

		bars = append(bars, pci.BAR{
			Base:   start,
			Length: end - start + 1,
			Port:   flags&ioresourceIO != 0,
		})
	}

	if err := sc.Err(); err != nil {
		return nil, err
	}

	if len(bars) < pci.NumBARs {
		return nil, fmt.Errorf("resource has %d lines, want at least %d", len(bars), pci.NumBARs)
	}

	return bars, nil
}

// FormatResource formats bars the way sysfs presents them.
func FormatResource(bars []pci.BAR) string {
	var sb strings.Builder
	for _, b := range bars {
		var start, end, flags uint64
		if b.Length > 0 {
			start = b.Base
			end = b.Base + b.Length - 1
			flags = ioresourceMem
			if b.Port {
				flags = ioresourceIO
			}
		}

		fmt.Fprintf(&sb, "0x%016x 0x%016x 0x%016x\n", start, end, flags)
	}

	return sb.String()
}
