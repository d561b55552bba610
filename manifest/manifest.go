// Package manifest handles dexasm.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/tliron/commonlog"

	"github.com/chazu/dexasm/disasm"
)

var log = commonlog.GetLogger("dexasm.manifest")

// Filename is the name of the configuration file.
const Filename = "dexasm.toml"

// Manifest represents a dexasm.toml configuration.
type Manifest struct {
	Run         Run                  `toml:"run"`
	Disassemble Disassemble          `toml:"disassemble"`
	Deodex      Deodex               `toml:"deodex"`
	Frameworks  map[string]Framework `toml:"frameworks"`

	// Dir is the directory containing the dexasm.toml file (set at load time).
	Dir string `toml:"-"`
}

// Run configures the worker pool and logging.
type Run struct {
	Jobs      int `toml:"jobs"`
	Verbosity int `toml:"verbosity"`
}

// Disassemble configures the rendered text.
type Disassemble struct {
	ParameterRegisters bool   `toml:"parameter-registers"`
	DebugInfo          bool   `toml:"debug-info"`
	CodeOffsets        bool   `toml:"code-offsets"`
	CFGDir             string `toml:"cfg-dir"`
}

// Deodex configures optimized code resolution.
type Deodex struct {
	Classpath           []string `toml:"classpath"`
	InlineTable         string   `toml:"inline-table"`
	CheckPackagePrivate bool     `toml:"check-package-private-access"`
}

// Framework is a set of class containers used as classpath, either in a
// local directory or in a git repository.
type Framework struct {
	Git  string `toml:"git"`
	Tag  string `toml:"tag"`
	Path string `toml:"path"`

	// Dirs lists the classpath entries inside the framework. When empty,
	// the framework's own dexasm.toml classpath is used, then its root.
	Dirs []string `toml:"dirs"`
}

// Default returns the configuration used when no dexasm.toml exists.
func Default() *Manifest {
	return &Manifest{
		Run: Run{Jobs: 1},
		Disassemble: Disassemble{
			ParameterRegisters: true,
			DebugInfo:          true,
		},
	}
}

// Load parses a dexasm.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, Filename)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m := Default()
	if err := toml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	if m.Run.Jobs < 1 {
		m.Run.Jobs = 1
	}
	log.Debugf("loaded %s", path)
	return m, nil
}

// FindAndLoad walks up from startDir to find a dexasm.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, Filename)
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

// path resolves p against the manifest directory.
func (m *Manifest) path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}

// ClasspathPaths returns the configured classpath entries as paths.
func (m *Manifest) ClasspathPaths() []string {
	var paths []string
	for _, e := range m.Deodex.Classpath {
		paths = append(paths, m.path(e))
	}
	return paths
}

// InlineTablePath returns the custom inline table path, or "".
func (m *Manifest) InlineTablePath() string {
	return m.path(m.Deodex.InlineTable)
}

// DisasmOptions returns the renderer options of the [disassemble] section.
func (m *Manifest) DisasmOptions() disasm.Options {
	return disasm.Options{
		ParameterRegisters: m.Disassemble.ParameterRegisters,
		DebugInfo:          m.Disassemble.DebugInfo,
		CodeOffsets:        m.Disassemble.CodeOffsets,
		CFGDir:             m.path(m.Disassemble.CFGDir),
	}
}

// DepsDir returns the path to the .dexasm/frameworks directory.
func (m *Manifest) DepsDir() string {
	return filepath.Join(m.Dir, ".dexasm", "frameworks")
}

// LockFilePath returns the path to .dexasm/lock.toml.
func (m *Manifest) LockFilePath() string {
	return filepath.Join(m.Dir, ".dexasm", "lock.toml")
}
