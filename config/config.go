// Package config handles stackvm.toml project configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// FileName is the configuration file looked up by Load and FindAndLoad.
const FileName = "stackvm.toml"

// Config represents a stackvm.toml file.
type Config struct {
	Machine Machine `toml:"machine" json:"machine"`
	Run     Run     `toml:"run" json:"run"`
	Log     Log     `toml:"log" json:"log"`

	// Path is the file the configuration was read from (set at load time).
	Path string `toml:"-" json:"-"`
}

// Machine configures the virtual machine.
type Machine struct {
	MaxStack int   `toml:"max-stack" json:"max-stack"`
	Pooling  *bool `toml:"pooling" json:"pooling,omitempty"`
}

// Run configures what the CLI does around a run.
type Run struct {
	Stats   bool   `toml:"stats" json:"stats"`
	StatsDB string `toml:"stats-db" json:"stats-db"`
	Trace   bool   `toml:"trace" json:"trace"`
}

// Log configures logging.
type Log struct {
	Verbosity int    `toml:"verbosity" json:"verbosity"`
	File      string `toml:"file" json:"file"`
}

// Default returns the configuration used when no stackvm.toml exists.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// PoolingEnabled reports whether value pooling is on. It defaults to true.
func (c *Config) PoolingEnabled() bool {
	return c.Machine.Pooling == nil || *c.Machine.Pooling
}

// Dir returns the directory holding the configuration file, or "" for a
// default configuration.
func (c *Config) Dir() string {
	if c.Path == "" {
		return ""
	}
	return filepath.Dir(c.Path)
}

// StatsDBPath returns the run history database path, resolved against the
// configuration directory. It is "" when no database is configured.
func (c *Config) StatsDBPath() string {
	p := c.Run.StatsDB
	if p == "" || filepath.IsAbs(p) || c.Path == "" {
		return p
	}
	return filepath.Join(c.Dir(), p)
}

func (c *Config) applyDefaults() {
	if c.Machine.Pooling == nil {
		on := true
		c.Machine.Pooling = &on
	}
}

// Load parses stackvm.toml from the given directory and validates it.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	return Parse(path, data)
}

// Parse decodes and validates configuration text. path is used for
// messages and to resolve relative paths.
func Parse(path string, data []byte) (*Config, error) {
	var c Config
	md, err := toml.Decode(string(data), &c)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%s: unknown key %q", path, undecoded[0].String())
	}

	if path != "" {
		if c.Path, err = filepath.Abs(path); err != nil {
			return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
		}
	}
	c.applyDefaults()

	if err := Validate(&c); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &c, nil
}

// FindAndLoad walks up from startDir to find a stackvm.toml file, then
// loads and returns it. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}
