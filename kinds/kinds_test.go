package kinds

import (
	"testing"

	"github.com/gotestyourself/gotestyourself/assert"
)

type fakeFileKind struct{ Base }

func (fakeFileKind) Includes(ScanContext) ([]Ref, error) { return nil, nil }

type fakeJobKind struct {
	Base
	name    string
	inExt   string
	outExts []string
}

func (f fakeJobKind) Name() string                           { return f.name }
func (f fakeJobKind) InExt() string                           { return f.inExt }
func (f fakeJobKind) OutExts() []string                       { return f.outExts }
func (f fakeJobKind) BaseDepends(RunContext) []Ref            { return nil }
func (f fakeJobKind) Depends(reqSet []Ref) []Ref              { return reqSet }
func (f fakeJobKind) Input(output Ref) (Ref, InputKind)       { return Ref{}, NoInput }
func (f fakeJobKind) Output(input Ref) ([]Ref, bool)          { return nil, false }
func (f fakeJobKind) Runner(RunContext) func() error          { return func() error { return nil } }

func TestBaseSplitWithPrefix(t *testing.T) {
	b := Base{KindPrefix: "lib"}
	prefix, atom := b.Split("libfoo")
	assert.Equal(t, prefix, "lib")
	assert.Equal(t, atom, "foo")

	prefix, atom = b.Split("foo")
	assert.Equal(t, prefix, "")
	assert.Equal(t, atom, "foo")
}

func TestNoInclReturnsNothing(t *testing.T) {
	incls, err := NoIncl{}.Includes(nil)
	assert.NilError(t, err)
	assert.Assert(t, incls == nil)
}

func TestRegistryFindFileKindPrefersLongestPrefix(t *testing.T) {
	reg := NewRegistry()
	plain := fakeFileKind{Base{KindName: "c", KindExt: "c"}}
	prefixed := fakeFileKind{Base{KindName: "libc", KindExt: "c", KindPrefix: "lib"}}
	reg.RegisterFileKind(plain)
	reg.RegisterFileKind(prefixed)

	fk, prefix, atom := reg.FindFileKind("libfoo", []string{"c"})
	assert.Equal(t, fk.Name(), "libc")
	assert.Equal(t, prefix, "lib")
	assert.Equal(t, atom, "foo")

	fk, prefix, atom = reg.FindFileKind("bar", []string{"c"})
	assert.Equal(t, fk.Name(), "c")
	assert.Equal(t, prefix, "")
	assert.Equal(t, atom, "bar")
}

func TestRegistryFindFileKindNoExtension(t *testing.T) {
	reg := NewRegistry()
	fk, prefix, atom := reg.FindFileKind("noext", nil)
	assert.Assert(t, fk == nil)
	assert.Equal(t, prefix, "")
	assert.Equal(t, atom, "noext")
}

func TestRegistryJobKindsWithOutputOrdersExactThenMagic(t *testing.T) {
	reg := NewRegistry()
	exact := fakeJobKind{name: "compile", inExt: "c", outExts: []string{"o"}}
	magic := fakeJobKind{name: "link", outExts: nil}
	reg.RegisterJobKind(magic)
	reg.RegisterJobKind(exact)

	found := reg.JobKindsWithOutput("o")
	assert.Equal(t, len(found), 2)
	assert.Equal(t, found[0].Name(), "compile")
	assert.Equal(t, found[1].Name(), "link")
}

func TestRegistryJobKindsWithOutputMagicOnlyForUnmatchedExt(t *testing.T) {
	reg := NewRegistry()
	magic := fakeJobKind{name: "link", outExts: nil}
	reg.RegisterJobKind(magic)

	found := reg.JobKindsWithOutput("anything")
	assert.Equal(t, len(found), 1)
	assert.Equal(t, found[0].Name(), "link")
}

func TestRegistryJobKindsWithInput(t *testing.T) {
	reg := NewRegistry()
	compile := fakeJobKind{name: "compile", inExt: "c", outExts: []string{"o"}}
	reg.RegisterJobKind(compile)

	found := reg.JobKindsWithInput("c")
	assert.Equal(t, len(found), 1)
	assert.Equal(t, found[0].Name(), "compile")

	assert.Equal(t, len(reg.JobKindsWithInput("missing")), 0)
}

func TestErrNoFileKind(t *testing.T) {
	err := ErrNoFileKind("weird.xyz")
	assert.ErrorContains(t, err, "weird.xyz")
}
