// Path splitting/joining between a tree-relative path and its branch,
// base, and extension-list decomposition (spec §3 "File", "branch/base/
// ext_list/atom/prefix").
package graph

import (
	"path/filepath"
	"regexp"
	"strings"

	"jhm/buildererr"
)

var atomRE = regexp.MustCompile(`^([_a-zA-Z][_\-a-zA-Z0-9]*)?$`)

// IsValidAtom reports whether atom conforms to the engine's atom grammar:
// empty, or a leading letter/underscore followed by word characters and
// hyphens.
func IsValidAtom(atom string) bool {
	return atomRE.MatchString(atom)
}

// IsValidExtList reports whether every extension but the last is
// non-empty; only the final extension may be empty, meaning "no
// extension" (or, for a leading-dot file, the whole visible name).
func IsValidExtList(extList []string) bool {
	if len(extList) == 0 {
		return false
	}
	for _, e := range extList[:len(extList)-1] {
		if e == "" {
			return false
		}
	}
	return true
}

// SplitRelPath decomposes a tree-relative path into branch, base, and
// ext_list, matching the original's SplitRelPath exactly, including its
// leading-dot special case (".gitignore" splits to base="",
// ext_list=["gitignore"]) and no-extension case ("foo" splits to
// base="foo", ext_list=[""]).
func SplitRelPath(relPath string) (branch, base string, extList []string, err error) {
	branch, rem := filepath.Split(relPath)
	branch = strings.TrimSuffix(branch, string(filepath.Separator))
	if rem == "" {
		return "", "", nil, buildererr.New(buildererr.Resolution, "empty file name in path %q", relPath)
	}

	var head, rest string
	hasRest := false
	if idx := strings.IndexByte(rem, '.'); idx >= 0 {
		head, rest, hasRest = rem[:idx], rem[idx+1:], true
	} else {
		head = rem
	}

	if rem[0] == '.' {
		base = ""
	} else {
		base = head
	}

	if hasRest {
		extList = strings.Split(rest, ".")
	} else {
		extList = []string{""}
	}
	if !IsValidExtList(extList) {
		return "", "", nil, buildererr.New(buildererr.Resolution, "invalid extension list in path %q", relPath)
	}
	return branch, base, extList, nil
}

// ToRelPath is SplitRelPath's inverse: joins branch, base, and ext_list
// back into a tree-relative path.
func ToRelPath(branch, base string, extList []string) string {
	parts := []string{base}
	if len(extList) > 0 && extList[len(extList)-1] != "" {
		parts = append(parts, extList...)
	} else if len(extList) > 1 {
		parts = append(parts, extList[:len(extList)-1]...)
	}
	name := strings.Join(parts, ".")
	if branch == "" {
		return name
	}
	return filepath.Join(branch, name)
}

// stem is the relative path with its final extension removed (used to
// name sibling output files that share everything but the last
// extension, e.g. producing "foo.o" from "foo.c").
func stem(branch, base string, extList []string) string {
	return ToRelPath(branch, base, extList[:len(extList)-1])
}
