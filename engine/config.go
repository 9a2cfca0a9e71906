package engine

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/wippyai/clr-embed/errors"
)

// MaxGenerationLimit bounds the configurable number of generations.
const MaxGenerationLimit = 8

// Config is the runtime configuration.
//
//	[gc]
//	max_generation = 2
//
//	[heap]
//	limit = 67108864
//
//	[assemblies]
//	search_paths = ["lib", "/opt/app/lib"]
//
//	[debug]
//	enabled = true
//
//	[[dllmap]]
//	name = "Sample.Native::Add"
//	target = "Sample.Math::Add"
type Config struct {
	DllMap     []DllMap       `toml:"dllmap"`
	Assemblies AssemblyConfig `toml:"assemblies"`
	Heap       HeapConfig     `toml:"heap"`
	GC         GCConfig       `toml:"gc"`
	Debug      DebugConfig    `toml:"debug"`
}

// GCConfig configures the collector.
type GCConfig struct {
	MaxGeneration int `toml:"max_generation"`
}

// HeapConfig configures the default heap allocator.
type HeapConfig struct {
	// Limit caps live heap bytes; 0 means unlimited.
	Limit uint64 `toml:"limit"`
}

// AssemblyConfig configures assembly path resolution.
type AssemblyConfig struct {
	SearchPaths []string `toml:"search_paths"`
}

// DebugConfig toggles debugger support.
type DebugConfig struct {
	Enabled bool `toml:"enabled"`
}

// DllMap aliases an internal call name to another registered name.
type DllMap struct {
	Name   string `toml:"name"`
	Target string `toml:"target"`
}

// DefaultConfig returns the configuration used when none is parsed.
func DefaultConfig() Config {
	return Config{GC: GCConfig{MaxGeneration: 2}}
}

// LoadConfig parses configuration text, or the file at data when isFile
// is set. Relative search paths in a file are resolved against the file's
// directory.
func LoadConfig(data string, isFile bool) (Config, error) {
	text := data
	dir := ""
	if isFile {
		b, err := os.ReadFile(data)
		if err != nil {
			return Config{}, errors.Wrap(errors.PhaseConfig, errors.KindLoadFailure, err, "read config "+data)
		}
		text = string(b)
		dir = filepath.Dir(data)
	}

	cfg := DefaultConfig()
	md, err := toml.Decode(text, &cfg)
	if err != nil {
		return Config{}, errors.ParseFailed("runtime config", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return Config{}, errors.InvalidInput(errors.PhaseConfig, "unknown config keys: "+strings.Join(keys, ", "))
	}

	if dir != "" {
		for i, p := range cfg.Assemblies.SearchPaths {
			if !filepath.IsAbs(p) {
				cfg.Assemblies.SearchPaths[i] = filepath.Join(dir, p)
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.GC.MaxGeneration < 0 || c.GC.MaxGeneration > MaxGenerationLimit {
		return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Path("gc", "max_generation").
			Value(c.GC.MaxGeneration).
			Detail("must be between 0 and %d", MaxGenerationLimit).
			Build()
	}
	for i, m := range c.DllMap {
		if m.Name == "" || m.Target == "" {
			return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
				Path("dllmap").
				Value(i).
				Detail("entry %d needs both name and target", i).
				Build()
		}
	}
	return nil
}
