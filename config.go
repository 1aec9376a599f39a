package kestrel

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Default configuration values.
const (
	DefaultMaxValues      = 16
	DefaultWordSize       = Width64
	DefaultMaxGenerations = 10000
)

// Searcher names accepted by ExploreConfig.Searcher.
const (
	SearcherGenerational = "generational"
	SearcherDFS          = "dfs"
	SearcherBFS          = "bfs"
	SearcherRandom       = "random"
)

// Config holds the settings of the analysis and execution engines.
type Config struct {
	Analysis AnalysisConfig `toml:"analysis"`
	Memory   MemoryConfig   `toml:"memory"`
	Explore  ExploreConfig  `toml:"explore"`
}

// AnalysisConfig configures the value-set analysis.
type AnalysisConfig struct {
	// Number of distinct values tracked per variable before widening.
	MaxValues int `toml:"max_values"`

	// Solver iteration cap. Zero is unbounded.
	MaxIterations int `toml:"max_iterations"`

	Endian Endian `toml:"endian"`

	// Refine state on guarded edges. Off by default.
	NarrowEdges bool `toml:"narrow_edges"`
}

// MemoryConfig configures symbolic memory.
type MemoryConfig struct {
	WordSize uint          `toml:"word_size"`
	Endian   Endian        `toml:"endian"`
	Strict   bool          `toml:"strict"`
	Reserve  []RangeConfig `toml:"reserve"`
}

// RangeConfig is a range of memory that starts out zero-filled.
type RangeConfig struct {
	Address uint64 `toml:"address"`
	Size    uint64 `toml:"size"`
}

// ExploreConfig configures the exploration loop.
type ExploreConfig struct {
	// Maximum number of generations (or steps, with a searcher). Zero is unbounded.
	MaxGenerations int `toml:"max_generations"`

	// Step each generation concurrently.
	Parallel bool `toml:"parallel"`

	Searcher string `toml:"searcher"`
	Seed     int64  `toml:"seed"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Analysis: AnalysisConfig{
			MaxValues: DefaultMaxValues,
			Endian:    LittleEndian,
		},
		Memory: MemoryConfig{
			WordSize: DefaultWordSize,
			Endian:   LittleEndian,
		},
		Explore: ExploreConfig{
			MaxGenerations: DefaultMaxGenerations,
			Searcher:       SearcherGenerational,
		},
	}
}

// DecodeConfig parses a TOML document on top of the default configuration.
// Unknown keys are rejected.
func DecodeConfig(data string) (Config, error) {
	c := DefaultConfig()
	meta, err := toml.Decode(data, &c)
	if err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if keys := meta.Undecoded(); len(keys) > 0 {
		a := make([]string, len(keys))
		for i := range keys {
			a[i] = keys[i].String()
		}
		return Config{}, fmt.Errorf("decode config: unknown keys: %s", strings.Join(a, ", "))
	}
	return c, c.Validate()
}

// LoadConfig reads and decodes the TOML file at path.
func LoadConfig(path string) (Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return DecodeConfig(string(buf))
}

// Validate returns an error if the configuration cannot be used.
func (c *Config) Validate() error {
	if c.Analysis.MaxValues < 1 {
		return fmt.Errorf("analysis.max_values must be positive: %d", c.Analysis.MaxValues)
	} else if c.Analysis.MaxIterations < 0 {
		return fmt.Errorf("analysis.max_iterations must not be negative: %d", c.Analysis.MaxIterations)
	}

	switch c.Memory.WordSize {
	case Width8, Width16, Width32, Width64:
	default:
		return fmt.Errorf("memory.word_size must be 8, 16, 32 or 64: %d", c.Memory.WordSize)
	}

	if c.Explore.MaxGenerations < 0 {
		return fmt.Errorf("explore.max_generations must not be negative: %d", c.Explore.MaxGenerations)
	}
	switch c.Explore.Searcher {
	case SearcherGenerational, SearcherDFS, SearcherBFS, SearcherRandom:
	default:
		return fmt.Errorf("explore.searcher: unknown searcher %q", c.Explore.Searcher)
	}
	return nil
}

// NewMemory returns an empty memory configured by c, with every reserved range
// zero-filled.
func (c *MemoryConfig) NewMemory() *SymbolicMemory {
	m := NewSymbolicMemory(c.WordSize, c.Endian)
	for _, r := range c.Reserve {
		m.Reserve(r.Address, r.Size)
	}
	m.Strict = c.Strict
	return m
}
