// Package manifest handles ivm.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// FileName is the manifest file looked up by Load and FindAndLoad.
const FileName = "ivm.toml"

// Manifest represents an ivm.toml project configuration.
type Manifest struct {
	Project Project      `toml:"project"`
	Source  Source       `toml:"source"`
	Run     RunConfig    `toml:"run"`
	Cache   CacheConfig  `toml:"cache"`
	Server  ServerConfig `toml:"server"`
	Log     LogConfig    `toml:"log"`

	// Dir is the directory containing the ivm.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Source configures the program and its sample tests.
type Source struct {
	Main  string   `toml:"main"`  // program file run by default
	Entry string   `toml:"entry"` // function called by default
	Tests []string `toml:"tests"` // directories or .txtar archives for `ivm test`
}

// RunConfig holds default run parameters.
type RunConfig struct {
	Args     []int64 `toml:"args"`
	MaxSteps int     `toml:"max-steps"`
	Trace    bool    `toml:"trace"` // log every executed instruction
}

// CacheConfig configures the compiled-binary cache.
type CacheConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// ServerConfig configures the evaluation server.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// LogConfig configures logging.
type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Default returns the configuration used when no ivm.toml is present.
func Default(dir string) *Manifest {
	m := &Manifest{Dir: dir}
	m.applyDefaults()
	return m
}

// Load parses an ivm.toml file from the given directory and validates it
// against the schema.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return m, nil
}

// Parse decodes and validates manifest data. Dir is left empty.
func Parse(data []byte) (*Manifest, error) {
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	if err := Validate(raw); err != nil {
		return nil, err
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	m.applyDefaults()
	return &m, nil
}

func (m *Manifest) applyDefaults() {
	if m.Source.Entry == "" {
		m.Source.Entry = "main"
	}
	if len(m.Source.Tests) == 0 {
		m.Source.Tests = []string{"tests"}
	}
	if m.Cache.Path == "" {
		m.Cache.Path = filepath.Join(".ivm", "cache.db")
	}
	if m.Server.Addr == "" {
		m.Server.Addr = "localhost:4567"
	}
}

// FindAndLoad walks up from startDir to find an ivm.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
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
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Resolve returns p relative to the manifest directory unless it is
// already absolute.
func (m *Manifest) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}

// MainPath returns the absolute path of the main program, or "".
func (m *Manifest) MainPath() string {
	return m.Resolve(m.Source.Main)
}

// TestPaths returns absolute paths for the configured test locations.
func (m *Manifest) TestPaths() []string {
	var paths []string
	for _, p := range m.Source.Tests {
		paths = append(paths, m.Resolve(p))
	}
	return paths
}

// CachePath returns the absolute path of the cache database.
func (m *Manifest) CachePath() string {
	return m.Resolve(m.Cache.Path)
}

// LogFilePath returns the absolute path of the log file, or "".
func (m *Manifest) LogFilePath() string {
	return m.Resolve(m.Log.File)
}
