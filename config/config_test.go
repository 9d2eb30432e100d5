package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gotestyourself/gotestyourself/assert"
)

func writeConf(t *testing.T, dir, name, content string) {
	t.Helper()
	assert.NilError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestFindRootWalksUpward(t *testing.T) {
	root := t.TempDir()
	assert.NilError(t, os.Mkdir(filepath.Join(root, ".jhm"), 0o755))
	nested := filepath.Join(root, "a", "b", "c")
	assert.NilError(t, os.MkdirAll(nested, 0o755))

	found, ok := FindRoot(nested)
	assert.Assert(t, ok)
	assert.Equal(t, found, root)
}

func TestFindRootNotFound(t *testing.T) {
	_, ok := FindRoot(t.TempDir())
	assert.Assert(t, !ok)
}

func TestCandidateNamesOrder(t *testing.T) {
	names := candidateNames("debug", ".jhm", "linux", "amd64")
	assert.Equal(t, names[0], "debug_linux_amd64.jhm")
	assert.Equal(t, names[1], "debug_linux.jhm")
	assert.Equal(t, names[2], "debug_amd64.jhm")
	assert.Equal(t, names[3], "debug.jhm")
}

func TestLoadLayerPicksMostSpecificName(t *testing.T) {
	dir := t.TempDir()
	writeConf(t, dir, "debug.jhm", "+opts\ngeneric=1\n")
	writeConf(t, dir, "debug_linux.jhm", "+opts\nspecific=1\n")

	layer, err := LoadLayer(dir, "debug", "linux", "amd64")
	assert.NilError(t, err)
	v, ok := layer.Get("specific", "opts")
	assert.Assert(t, ok)
	assert.Equal(t, v, "1")
}

func TestLoadLayerFallsBackToJhmName(t *testing.T) {
	dir := t.TempDir()
	writeConf(t, dir, "jhm.jhm", "+opts\nfallback=1\n")

	layer, err := LoadLayer(dir, "release", "linux", "amd64")
	assert.NilError(t, err)
	v, ok := layer.Get("fallback", "opts")
	assert.Assert(t, ok)
	assert.Equal(t, v, "1")
}

func TestLoadLayerMissingIsEmptyNotError(t *testing.T) {
	layer, err := LoadLayer(t.TempDir(), "debug", "linux", "amd64")
	assert.NilError(t, err)
	_, ok := layer.Get("anything", "opts")
	assert.Assert(t, !ok)
}

func TestConfigPrecedenceProjectUserSys(t *testing.T) {
	projectDir, userDir, sysDir := t.TempDir(), t.TempDir(), t.TempDir()
	writeConf(t, sysDir, "debug.jhm", "+opts\nk=sys\nonly-sys=1\n")
	writeConf(t, userDir, "debug.jhm", "+opts\nk=user\n")
	writeConf(t, projectDir, "debug.jhm", "+opts\nk=project\n")

	cfg, err := Load(Options{Config: "debug", OS: "linux", Arch: "amd64"}, projectDir, userDir, sysDir)
	assert.NilError(t, err)

	assert.Equal(t, cfg.Get("k", "opts", ""), "project")
	assert.Equal(t, cfg.GetSys("k", "opts", ""), "user")

	merged := cfg.YieldSection("opts")
	assert.Equal(t, merged["k"], "project")
	assert.Equal(t, merged["only-sys"], "1")
}

func TestAllSectionNamesMergesLayers(t *testing.T) {
	projectDir, userDir, sysDir := t.TempDir(), t.TempDir(), t.TempDir()
	writeConf(t, projectDir, "debug.jhm", "+kind:proto\nx=1\n")
	writeConf(t, sysDir, "debug.jhm", "+targets\ny=1\n")

	cfg, err := Load(Options{Config: "debug", OS: "linux", Arch: "amd64"}, projectDir, userDir, sysDir)
	assert.NilError(t, err)

	names := cfg.AllSectionNames()
	assert.Assert(t, containsStr(names, "kind:proto"))
	assert.Assert(t, containsStr(names, "targets"))
}

func containsStr(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestResolveProjectPath(t *testing.T) {
	assert.Equal(t, ResolveProjectPath("/root", "src/a.c"), filepath.Clean("/root/src/a.c"))
	assert.Equal(t, ResolveProjectPath("/root", "/abs/a.c"), filepath.Clean("/abs/a.c"))
}

func TestMissingRootError(t *testing.T) {
	err := MissingRootError()
	assert.ErrorContains(t, err, ".jhm")
}
