// Package tree implements the directory-tree registry described in spec
// §3 "Tree" and §4.1 "Tree registry": the SRC tree, zero or more INC trees,
// and the OUT tree that together ground every relative path in a build.
package tree

import (
	"os"
	"path/filepath"
	"strings"

	"jhm/buildererr"
)

// Kind identifies which role a Tree plays in the search order (spec §4.1:
// "SRC, then each INC in declared order, then OUT").
type Kind string

const (
	// SRC is the single primary input tree.
	SRC Kind = "SRC"
	// INC is an input tree that may be used, but isn't primary.
	INC Kind = "INC"
	// OUT is the tree where all build output is located.
	OUT Kind = "OUT"
)

// Tree is one directory rooted in the filesystem, normalized to an absolute
// path with a single trailing separator so prefix containment checks are
// exact.
type Tree struct {
	kind Kind
	path string // absolute, trailing separator
}

// New validates and wraps dir as a Tree of the given kind. dir must be an
// absolute path; it need not exist yet (OUT trees are created on demand).
func New(kind Kind, dir string) (*Tree, error) {
	if !filepath.IsAbs(dir) {
		return nil, buildererr.New(buildererr.Configuration, "tree path %q is not absolute", dir)
	}
	clean := filepath.Clean(dir)
	return &Tree{kind: kind, path: clean + string(os.PathSeparator)}, nil
}

// Kind returns the tree's role.
func (t *Tree) Kind() Kind { return t.kind }

// Path returns the tree's absolute root, with a trailing separator.
func (t *Tree) Path() string { return t.path }

func (t *Tree) String() string { return string(t.kind) }

// ContainsAbs reports whether an absolute path falls within this tree.
func (t *Tree) ContainsAbs(path string) bool {
	trimmed := strings.TrimSuffix(t.path, string(os.PathSeparator))
	return path == trimmed || (len(path) >= len(t.path) && path[:len(t.path)] == t.path)
}

// ContainsRel reports whether a relative path names a file that currently
// exists within this tree.
func (t *Tree) ContainsRel(rel string) bool {
	if filepath.IsAbs(rel) {
		return false
	}
	_, err := os.Stat(t.AbsPath(rel))
	return err == nil
}

// AbsPath joins a relative path onto this tree's root.
func (t *Tree) AbsPath(rel string) string {
	return filepath.Join(t.path, rel)
}

// RelPath strips this tree's root from an absolute path known to be inside
// it. Callers must check ContainsAbs first; RelPath panics otherwise, since
// it signals a bug in the caller, not a data problem.
func (t *Tree) RelPath(abs string) string {
	if !t.ContainsAbs(abs) {
		panic("tree: RelPath called with a path outside the tree: " + abs)
	}
	return strings.TrimPrefix(abs[len(t.path):], string(os.PathSeparator))
}

// Set is the ordered collection of trees searched when grounding a
// relative path: the SRC tree, then each INC tree in declared order, then
// the OUT tree, matching spec §4.1's precedence.
type Set struct {
	Src  *Tree
	Incs []*Tree
	Out  *Tree
}

// NewSet builds a Set from directories, validating and normalizing each.
func NewSet(srcDir, outDir string, incDirs []string) (*Set, error) {
	src, err := New(SRC, srcDir)
	if err != nil {
		return nil, err
	}
	out, err := New(OUT, outDir)
	if err != nil {
		return nil, err
	}
	incs := make([]*Tree, 0, len(incDirs))
	for _, dir := range incDirs {
		inc, err := New(INC, dir)
		if err != nil {
			return nil, err
		}
		incs = append(incs, inc)
	}
	return &Set{Src: src, Incs: incs, Out: out}, nil
}

// Ordered returns every tree in search precedence: SRC, then INCs in
// declared order, then OUT.
func (s *Set) Ordered() []*Tree {
	out := make([]*Tree, 0, 2+len(s.Incs))
	out = append(out, s.Src)
	out = append(out, s.Incs...)
	out = append(out, s.Out)
	return out
}

// FindRel returns the first tree in search order that currently contains
// rel as an existing file, and whether one was found.
func (s *Set) FindRel(rel string) (*Tree, bool) {
	for _, t := range s.Ordered() {
		if t.ContainsRel(rel) {
			return t, true
		}
	}
	return nil, false
}

// FindAbs returns the tree containing the given absolute path, and whether
// one was found. Every tree is eligible regardless of whether the file
// currently exists, since this is used to classify paths, not to test for
// existence.
func (s *Set) FindAbs(abs string) (*Tree, bool) {
	for _, t := range s.Ordered() {
		if t.ContainsAbs(abs) {
			return t, true
		}
	}
	return nil, false
}
