// Package confmt implements the line-oriented ".jhm" configuration file
// format shared by the layered Config store, per-file ".jhm" companions,
// and per-artifact ".jhm-cache" files (spec §6 "Config file format").
//
// Format:
//
//	# comment to end of line
//	+section               opens a section
//	key                     key with no value, in the current section
//	key=value               key with a value, in the current section
//	parent=<path>           (root section only) chain to another file,
//	                        loaded before this one in precedence
package confmt

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"jhm/buildererr"
)

// rootSection is the unnamed section name, matching the original's "".
const rootSection = ""

// File is a parsed configuration file plus its optional parent chain.
type File struct {
	path     string
	sections map[string]map[string]*string // nil value = key with no value
	parent   *File
}

// newFile returns an empty File for path holding only the root section.
// Sections are kept in a map, so Save writes them in no defined order.
func newFile(path string) *File {
	return &File{path: path, sections: map[string]map[string]*string{rootSection: {}}}
}

// Parse reads and parses the file at path. A missing file is reported as a
// Configuration BuildError, matching the original's IOError(ENOENT) mapping.
func Parse(path string) (*File, error) {
	f := newFile(path)
	fh, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, buildererr.New(buildererr.Configuration, "config file %q does not exist", path)
		}
		return nil, buildererr.Wrap(buildererr.Configuration, err, "reading config file %q", path)
	}
	defer fh.Close()

	section := rootSection
	scanner := bufio.NewScanner(fh)
	for scanner.Scan() {
		line := scanner.Text()
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if line[0] == '+' {
			section = strings.TrimSpace(line[1:])
			if _, ok := f.sections[section]; !ok {
				f.sections[section] = map[string]*string{}
			}
			continue
		}

		k, v, hasValue := splitKV(line)
		if section == rootSection && k == "parent" {
			if f.parent != nil {
				return nil, buildererr.New(buildererr.Configuration, "duplicate entry for %q in %s", "parent", path)
			}
			parentPath := v
			if !filepath.IsAbs(parentPath) {
				parentPath = filepath.Join(filepath.Dir(path), parentPath)
			}
			parent, err := Parse(parentPath)
			if err != nil {
				return nil, err
			}
			f.parent = parent
		}

		if hasValue {
			val := v
			f.sections[section][k] = &val
		} else {
			f.sections[section][k] = nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, buildererr.Wrap(buildererr.Configuration, err, "scanning config file %q", path)
	}
	return f, nil
}

func splitKV(line string) (key, value string, hasValue bool) {
	parts := strings.SplitN(line, "=", 2)
	key = strings.TrimSpace(parts[0])
	if len(parts) == 1 {
		return key, "", false
	}
	return key, strings.TrimSpace(parts[1]), true
}

// Get returns the value of key within section, deferring to the parent
// chain only on absence (spec §3 "Config precedence").
func (f *File) Get(key, section string) (string, bool) {
	if f == nil {
		return "", false
	}
	sect, ok := f.sections[section]
	if !ok {
		if f.parent != nil {
			return f.parent.Get(key, section)
		}
		return "", false
	}
	if v, ok := sect[key]; ok {
		if v == nil {
			return "", true
		}
		return *v, true
	}
	if f.parent != nil {
		return f.parent.Get(key, section)
	}
	return "", false
}

// Section returns this file's own section merged over its parent chain's
// same section (own values win), flattened to plain strings (a key with no
// value is reported as "").
func (f *File) Section(section string) map[string]string {
	if f == nil {
		return map[string]string{}
	}
	out := map[string]string{}
	if f.parent != nil {
		for k, v := range f.parent.Section(section) {
			out[k] = v
		}
	}
	for k, v := range f.sections[section] {
		if v == nil {
			out[k] = ""
		} else {
			out[k] = *v
		}
	}
	return out
}

// MergeSection right-folds Section(section) over a precedence-ordered list
// of files (files[0] is highest precedence) and returns the merged map.
// This is the free-standing form of the original's
// JHMFile.MergeAndYieldSection.
func MergeSection(files []*File, section string) map[string]string {
	out := map[string]string{}
	for i := len(files) - 1; i >= 0; i-- {
		for k, v := range files[i].Section(section) {
			out[k] = v
		}
	}
	return out
}

// OutFile is a File that can be mutated and persisted, used for per-file
// ".jhm-cache" companions.
type OutFile struct {
	*File
	path string
}

// LoadOutFile loads an existing cache-shaped file if present, or starts an
// empty one that Save will later create.
func LoadOutFile(path string) (*OutFile, error) {
	if _, err := os.Stat(path); err == nil {
		f, err := Parse(path)
		if err != nil {
			return nil, err
		}
		return &OutFile{File: f, path: path}, nil
	}
	return &OutFile{File: newFile(path), path: path}, nil
}

// Set stores a key (optionally with a value) in section, overwriting any
// existing entry.
func (o *OutFile) Set(section, key string, value string) {
	if _, ok := o.sections[section]; !ok {
		o.sections[section] = map[string]*string{}
	}
	v := value
	o.sections[section][key] = &v
}

// SetFlag stores a key with no value (spec's "key" line with no "=value").
func (o *OutFile) SetFlag(section, key string) {
	if _, ok := o.sections[section]; !ok {
		o.sections[section] = map[string]*string{}
	}
	o.sections[section][key] = nil
}

// Save writes the file to disk in the format above, creating parent
// directories as needed. It does not persist the parent chain (parent
// files are inputs, not managed by this file).
func (o *OutFile) Save() error {
	if err := os.MkdirAll(filepath.Dir(o.path), 0o777); err != nil {
		return buildererr.Wrap(buildererr.Environment, err, "creating directory for %q", o.path)
	}
	fh, err := os.Create(o.path)
	if err != nil {
		return buildererr.Wrap(buildererr.Environment, err, "creating %q", o.path)
	}
	defer fh.Close()

	w := bufio.NewWriter(fh)
	for section, kv := range o.sections {
		if section != rootSection {
			fmt.Fprintf(w, "+%s\n", section)
		}
		for k, v := range kv {
			if v != nil {
				fmt.Fprintf(w, "%s=%s\n", k, *v)
			} else {
				fmt.Fprintf(w, "%s\n", k)
			}
		}
	}
	return w.Flush()
}

// Path returns the file's on-disk path.
func (f *File) Path() string { return f.path }

// SectionNames returns every section name declared directly in this file
// (not its parent chain), excluding the unnamed root section.
func (f *File) SectionNames() []string {
	if f == nil {
		return nil
	}
	var out []string
	for name := range f.sections {
		if name != rootSection {
			out = append(out, name)
		}
	}
	return out
}
