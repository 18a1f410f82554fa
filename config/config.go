// Package config loads and holds the STRUBS runtime configuration, the way
// the teacher's cmn/config.go loads a typed Config from JSON, except as one
// flat struct scoped to what the core storage engine actually consumes.
package config

import (
	"fmt"
	"os"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// DefaultChunkSize is the default per-chunk payload+header size.
	DefaultChunkSize = 16384
	// MaxChunkSize is the largest chunk size the 3-byte header field can hold.
	MaxChunkSize = 1<<24 - 1

	DefaultDataSliceCount   = 4
	DefaultParitySliceCount = 2

	// MaxTotalSliceCount bounds data_slice_count+parity_slice_count: the
	// rs package's reconstruction Bitmap packs one bit per shard index
	// into a uint64, so a chunk set can never span more than 64 shards.
	MaxTotalSliceCount = 64

	DefaultInstanceIdentityPath = "/var/lib/strubs/identity"
	DefaultMountRoot            = "/run/strubs/mounts"
	DefaultVerifyBatchSize      = 64
)

// Config is the set of options the core storage engine recognizes, read
// from a JSON config file by Load; nothing in this package reads the
// environment. Everything outside these
// fields (HTTP listeners, FUSE mount options, CLI flags) belongs to the
// out-of-scope adapters and is not the core's concern.
type Config struct {
	ChunkSize       int `json:"chunk_size"`
	DataSliceCount  int `json:"data_slice_count"`
	ParitySliceCount int `json:"parity_slice_count"`

	InstanceIdentityPath string `json:"instance_identity_path"`
	MountRoot            string `json:"mount_root"`

	VerifyBatchSize int `json:"verify_batch_size"`
}

// Default returns a Config populated with the documented defaults.
func Default() *Config {
	return &Config{
		ChunkSize:            DefaultChunkSize,
		DataSliceCount:       DefaultDataSliceCount,
		ParitySliceCount:     DefaultParitySliceCount,
		InstanceIdentityPath: DefaultInstanceIdentityPath,
		MountRoot:            DefaultMountRoot,
		VerifyBatchSize:      DefaultVerifyBatchSize,
	}
}

// Validate checks the invariants spec.md §6 requires of a Config.
func (c *Config) Validate() error {
	if c.ChunkSize <= 0 || c.ChunkSize > MaxChunkSize {
		return fmt.Errorf("config: chunk_size %d out of range (0, %d]", c.ChunkSize, MaxChunkSize)
	}
	if c.DataSliceCount < 1 {
		return fmt.Errorf("config: data_slice_count must be >= 1, got %d", c.DataSliceCount)
	}
	if c.ParitySliceCount < 0 {
		return fmt.Errorf("config: parity_slice_count must be >= 0, got %d", c.ParitySliceCount)
	}
	if total := c.DataSliceCount + c.ParitySliceCount; total > MaxTotalSliceCount {
		return fmt.Errorf("config: data_slice_count+parity_slice_count %d exceeds max %d", total, MaxTotalSliceCount)
	}
	if c.VerifyBatchSize < 1 {
		return fmt.Errorf("config: verify_batch_size must be >= 1, got %d", c.VerifyBatchSize)
	}
	if c.InstanceIdentityPath == "" {
		return fmt.Errorf("config: instance_identity_path must not be empty")
	}
	if c.MountRoot == "" {
		return fmt.Errorf("config: mount_root must not be empty")
	}
	return nil
}

// Load reads a JSON config file from path, applying defaults for any field
// the file omits; a field present in the file overrides its default.
func Load(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	cfg := Default()
	if err := json.Unmarshal(buf, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Owner holds a hot-swappable Config the way the teacher's
// globalConfigOwner does, guarding readers against a concurrent reload.
type Owner struct {
	ptr atomic.Pointer[Config]
}

// NewOwner wraps an initial Config in an Owner.
func NewOwner(c *Config) *Owner {
	o := &Owner{}
	o.ptr.Store(c)
	return o
}

// Get returns the currently active Config. Safe for concurrent use.
func (o *Owner) Get() *Config {
	return o.ptr.Load()
}

// Set installs a new Config, validating it first.
func (o *Owner) Set(c *Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	o.ptr.Store(c)
	return nil
}
