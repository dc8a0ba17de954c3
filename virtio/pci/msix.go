package pci

import "github.com/c35s/viopci/virtio"

const (

	// NoVector means a source has no MSI-X vector. Callers fall back to
	// polling or the legacy interrupt line.
	NoVector = virtio.MSINoVector

	// ConfigChangeQueue selects the configuration change source in
	// MSIXVector.
	ConfigChangeQueue = -1

	// MaxVectorQueue is the highest queue index that can get a vector.
	// Vector n+1 must fit in 16 bits without colliding with NoVector.
	MaxVectorQueue = NoVector - 2
)

// MSIXVector returns the MSI-X vector for a queue. Queue n uses vector n+1
// when MSI-X is enabled. Configuration changes and queues above
// MaxVectorQueue never get a vector.
func (a *Adapter) MSIXVector(queue int) uint16 {
	if queue < 0 || queue > MaxVectorQueue || !a.msix {
		return NoVector
	}

	return uint16(queue + 1)
}
