package store

import "go.uber.org/zap"

// StoreOption configures how a Store is opened or created.
type StoreOption func(*storeConfig)

type storeConfig struct {
	readOnly  bool
	oneWriter bool
	noUpgrade bool
	reserveVA int
	logger    *zap.Logger
}

// WithReadOnly opens the store in read-only mode.
// Writes, appends, and grow operations return ErrReadOnly.
// The file is mapped with PROT_READ only and no file lock is acquired.
// A read-only store is never upgraded.
func WithReadOnly() StoreOption {
	return func(c *storeConfig) {
		c.readOnly = true
	}
}

// WithOneWriter holds an exclusive flock on the sidecar .lock file, so no
// other process can open the store while it is open.
func WithOneWriter() StoreOption {
	return func(c *storeConfig) {
		c.oneWriter = true
	}
}

// WithoutFormatUpgrade refuses to upgrade an older file format; opening
// such a file fails with a FormatUpgradeRequired native error.
func WithoutFormatUpgrade() StoreOption {
	return func(c *storeConfig) {
		c.noUpgrade = true
	}
}

// WithReserveVA sets the virtual address space reserved for growth.
func WithReserveVA(n int) StoreOption {
	return func(c *storeConfig) {
		c.reserveVA = n
	}
}

// WithLogger sets the logger for lifecycle events. Nil keeps the no-op logger.
func WithLogger(l *zap.Logger) StoreOption {
	return func(c *storeConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

func applyOptions(opts []StoreOption) storeConfig {
	cfg := storeConfig{
		reserveVA: StoreReserveVA,
		logger:    zap.NewNop(),
	}
	for _, o := range opts {
		o(&cfg)
	}
	return cfg
}
