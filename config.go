package vos

import "fmt"

// Config is a serialisable representation of the kernel configuration. It can
// be populated from JSON or YAML; the zero-value inherits package defaults.

type Config struct {
	Memory  MemoryConfig  `json:"memory" yaml:"memory"`
	Boot    BootConfig    `json:"boot" yaml:"boot"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
}

// MemoryConfig sizes the simulated physical memory.
type MemoryConfig struct {
	Frames int `json:"frames" yaml:"frames"`
}

// BootConfig points the kernel at its filesystem and application manifest.
type BootConfig struct {
	RootFS      string `json:"rootfs" yaml:"rootfs"`
	ManifestURL string `json:"manifest" yaml:"manifest"`
}

// TracingConfig controls span emission.
type TracingConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Output  string `json:"output" yaml:"output"`
}

// DefaultConfig returns a Config populated with the same defaults the
// constructors previously hard-coded.
func DefaultConfig() *Config {
	return &Config{
		Memory: MemoryConfig{Frames: 4096},
	}
}

// Validate returns an error describing invalid settings or nil.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	// The kernel stack alone takes 8 frames plus the table root.
	if c.Memory.Frames < 16 {
		return fmt.Errorf("memory.frames must be >= 16, got %d", c.Memory.Frames)
	}
	return nil
}
