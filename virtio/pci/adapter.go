package pci

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
)

// Config describes a new Adapter.
type Config struct {

	// Host provides register access, BAR mapping and address translation.
	Host Host

	// Extent is the contiguous DMA memory handed out by
	// AllocContiguousPages. Its address and length must be multiples of
	// PageSize. It is allocated once by the caller and released by the
	// caller after the adapter is gone.
	Extent []byte

	// Pool backs AllocNonPagedBlock. Its address and length must be
	// multiples of PoolAlign. Pool may be nil.
	Pool []byte

	// PageSize is the DMA page size in bytes.
	// If PageSize is 0, the host's page size is used.
	PageSize int

	// Config is a snapshot of the function's PCI configuration space.
	Config ConfigSpace

	// BARs describes the function's base address registers, in index order.
	// It holds at most NumBARs entries.
	BARs []BAR

	// Bus is the number of the PCI bus the BARs belong to.
	Bus uint32

	// MSIX is set if the function's MSI-X capability is enabled.
	MSIX bool

	// Logger receives the adapter's log output.
	// If Logger is nil, slog.Default is used.
	Logger *slog.Logger
}

// Adapter implements SystemOps for one virtio-pci function. It holds the
// function's DMA memory, configuration snapshot and BAR mappings for the
// lifetime of the device.
type Adapter struct {
	host   Host
	pages  *Arena
	pool   *Arena
	config ConfigSpace
	bars   []barSlot
	bus    uint32
	msix   bool
	log    *slog.Logger
}

// PoolAlign is the granularity of AllocNonPagedBlock.
const PoolAlign = 16

var ErrConfig = errors.New("pci: invalid config")

// New creates an adapter. The configuration snapshot is copied; the extent
// and pool are used in place.
func New(cfg Config) (*Adapter, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	pages, err := NewArena(cfg.Extent, cfg.PageSize)
	if err != nil {
		return nil, fmt.Errorf("%w: extent: %w", ErrConfig, err)
	}

	pool, err := NewArena(cfg.Pool, PoolAlign)
	if err != nil {
		return nil, fmt.Errorf("%w: pool: %w", ErrConfig, err)
	}

	a := &Adapter{
		host:   cfg.Host,
		pages:  pages,
		pool:   pool,
		config: cfg.Config,
		bars:   make([]barSlot, len(cfg.BARs)),
		bus:    cfg.Bus,
		msix:   cfg.MSIX,
		log:    cfg.Logger,
	}

	for i, b := range cfg.BARs {
		a.bars[i].BAR = b
	}

	return a, nil
}

// Pages returns the arena behind AllocContiguousPages.
func (a *Adapter) Pages() *Arena {
	return a.pages
}

// Pool returns the arena behind AllocNonPagedBlock.
func (a *Adapter) Pool() *Arena {
	return a.pool
}

// Config returns the adapter's copy of the configuration space.
func (a *Adapter) Config() *ConfigSpace {
	return &a.config
}

func (cfg Config) validate() error {
	if cfg.Host == nil {
		return errors.New("host is not set")
	}

	if cfg.PageSize <= 0 || cfg.PageSize&(cfg.PageSize-1) != 0 {
		return fmt.Errorf("page size %d is not a power of two", cfg.PageSize)
	}

	if len(cfg.Extent)%cfg.PageSize != 0 {
		return fmt.Errorf("extent size must be a multiple of the page size (%d)", cfg.PageSize)
	}

	if len(cfg.BARs) > NumBARs {
		return fmt.Errorf("too many BARs: %d > %d", len(cfg.BARs), NumBARs)
	}

	return nil
}

func (cfg Config) withDefaults() Config {
	if cfg.PageSize == 0 {
		cfg.PageSize = os.Getpagesize()
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return cfg
}
