// Package config implements the layered (project/user/system) configuration
// store described in spec §3 "Config" and §6 "Config search order".
package config

import (
	"os"
	"path/filepath"
	"runtime"

	"jhm/buildererr"
	"jhm/confmt"
)

// Options mirrors the CLI surface (spec §6) sufficient to build a Config.
type Options struct {
	Arch   string
	OS     string
	Config string // the selected build configuration (debug, release, ...)

	ProjectConfDir string
	UserConfDir    string
	SysConfDir     string
	RootDir        string
}

// DefaultOptions fills in host-derived defaults for any unset field.
func DefaultOptions() Options {
	return Options{
		Arch:   runtime.GOARCH,
		OS:     runtime.GOOS,
		Config: "debug",
	}
}

// rootMarker is the directory name that identifies a project root.
const rootMarker = ".jhm"

// FindRoot searches from startDir upward for a directory containing
// rootMarker, matching the original's TryFindRoot.
func FindRoot(startDir string) (string, bool) {
	path, err := filepath.Abs(startDir)
	if err != nil {
		return "", false
	}
	for {
		if info, err := os.Stat(filepath.Join(path, rootMarker)); err == nil && info.IsDir() {
			return path, true
		}
		parent := filepath.Dir(path)
		if parent == path {
			return "", false
		}
		path = parent
	}
}

// candidateNames returns the four specializations of base+ext to try, in
// precedence order, per spec §6: "C_O_A.ext, C_O.ext, C_A.ext, C.ext".
func candidateNames(base, ext, osName, arch string) []string {
	return []string{
		base + "_" + osName + "_" + arch + ext,
		base + "_" + osName + ext,
		base + "_" + arch + ext,
		base + ext,
	}
}

// Layer is one level (project, user, or system) of configuration: the
// primary config file (if any was found) plus the directory it was
// resolved against, used as the base for relative paths declared within it.
type Layer struct {
	Root string
	file *confmt.File
}

// LoadLayer searches dir for the config search sequence (the build
// configuration name, then the literal name "jhm") and parses whichever
// file is found first. A layer with no matching file is valid: every Get
// simply reports absence.
func LoadLayer(dir, name, osName, arch string) (*Layer, error) {
	names := append(candidateNames(name, ".jhm", osName, arch), candidateNames("jhm", ".jhm", osName, arch)...)
	for _, n := range names {
		full := filepath.Join(dir, n)
		if info, err := os.Stat(full); err == nil && !info.IsDir() {
			f, err := confmt.Parse(full)
			if err != nil {
				return nil, err
			}
			return &Layer{Root: dir, file: f}, nil
		}
	}
	return &Layer{Root: dir}, nil
}

// Get returns key within section, or ok=false if this layer has no value.
func (l *Layer) Get(key, section string) (string, bool) {
	if l == nil || l.file == nil {
		return "", false
	}
	return l.file.Get(key, section)
}

// Section returns the layer's merged (file + its parent chain) section.
func (l *Layer) Section(section string) map[string]string {
	if l == nil || l.file == nil {
		return map[string]string{}
	}
	return l.file.Section(section)
}

// SectionNames enumerates every section name present in the layer's file
// (not its parent chain), used by the declarative "command kind" discovery
// in package builtin.
func (l *Layer) SectionNames() []string {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.SectionNames()
}

// Config is the full three-layer (project > user > system) configuration,
// matching spec §3's precedence: "project > user > system".
type Config struct {
	Project *Layer
	User    *Layer
	Sys     *Layer

	WorkingDir string
}

// Load builds the layered Config for the given options. projectDir,
// userDir, sysDir are the resolved directories for each layer (already
// reconciled against CLI overrides by the caller).
func Load(opts Options, projectDir, userDir, sysDir string) (*Config, error) {
	project, err := LoadLayer(projectDir, opts.Config, opts.OS, opts.Arch)
	if err != nil {
		return nil, err
	}
	user, err := LoadLayer(userDir, opts.Config, opts.OS, opts.Arch)
	if err != nil {
		return nil, err
	}
	sys, err := LoadLayer(sysDir, opts.Config, opts.OS, opts.Arch)
	if err != nil {
		return nil, err
	}
	return &Config{Project: project, User: user, Sys: sys}, nil
}

// Get resolves key/section across all three layers, project first (spec's
// Env.GetConfig).
func (c *Config) Get(key, section, def string) string {
	if v, ok := c.Project.Get(key, section); ok {
		return v
	}
	if v, ok := c.User.Get(key, section); ok {
		return v
	}
	if v, ok := c.Sys.Get(key, section); ok {
		return v
	}
	return def
}

// GetSys resolves key/section across user and system layers only, skipping
// project (spec's Env.GetSysConfig: used for machine-level settings like
// num_cores that a project shouldn't override).
func (c *Config) GetSys(key, section, def string) string {
	if v, ok := c.User.Get(key, section); ok {
		return v
	}
	if v, ok := c.Sys.Get(key, section); ok {
		return v
	}
	return def
}

// YieldSection merges a section across all three layers, project values
// winning, per spec's "right-fold, later (higher precedence) overrides".
func (c *Config) YieldSection(section string) map[string]string {
	out := map[string]string{}
	for k, v := range c.Sys.Section(section) {
		out[k] = v
	}
	for k, v := range c.User.Section(section) {
		out[k] = v
	}
	for k, v := range c.Project.Section(section) {
		out[k] = v
	}
	return out
}

// AllSectionNames merges section names across all three layers.
func (c *Config) AllSectionNames() []string {
	seen := map[string]bool{}
	var out []string
	for _, l := range []*Layer{c.Project, c.User, c.Sys} {
		for _, n := range l.SectionNames() {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	return out
}

// ResolveProjectPath joins a possibly-relative path against the project
// root, matching the original's ProjectAbs helper.
func ResolveProjectPath(root, path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Clean(filepath.Join(root, path))
}

// MissingRootError builds the Environment BuildError raised when no project
// root can be located.
func MissingRootError() error {
	return buildererr.New(buildererr.Environment,
		"unable to find build root; create a %q directory or pass --root-dir", rootMarker)
}
