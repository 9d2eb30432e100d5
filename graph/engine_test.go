package graph

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gotestyourself/gotestyourself/assert"

	"jhm/buildererr"
	"jhm/config"
	"jhm/kinds"
	"jhm/scheduler"
	"jhm/tree"
)

// fakeSource is a minimal FileKind standing in for a C-like source file: it
// scans for quoted #include targets, the same shape builtin.CSource uses.
type fakeSource struct {
	kinds.Base
}

var includeRe = regexp.MustCompile(`#include\s+"([^"]+)"`)

func (fakeSource) Includes(ctx kinds.ScanContext) ([]kinds.Ref, error) {
	b, err := ctx.ReadFile()
	if err != nil {
		return nil, err
	}
	var refs []kinds.Ref
	for _, m := range includeRe.FindAllSubmatch(b, -1) {
		refs = append(refs, kinds.Ref{RelPath: string(m[1])})
	}
	return refs, nil
}

// fakeCompile is a JobKind standing in for a one-step compiler: it takes a
// single "c"-ext input and produces a single "o"-ext output by writing a
// fixed string, counting how many times it actually ran so tests can assert
// on cache reuse across separate Store instances over the same tree.
type fakeCompile struct {
	kinds.Base
	builds *int32
}

func (fakeCompile) InExt() string     { return "c" }
func (fakeCompile) OutExts() []string { return []string{"o"} }
func (fakeCompile) BaseDepends(kinds.RunContext) []kinds.Ref { return nil }
func (fakeCompile) Depends(reqSet []kinds.Ref) []kinds.Ref   { return reqSet }

func (fakeCompile) Input(output kinds.Ref) (kinds.Ref, kinds.InputKind) {
	if filepath.Ext(output.RelPath) != ".o" {
		return kinds.Ref{}, kinds.NoInput
	}
	return kinds.Ref{RelPath: output.RelPath[:len(output.RelPath)-2] + ".c"}, kinds.NeedsInput
}

func (fakeCompile) Output(input kinds.Ref) ([]kinds.Ref, bool) {
	if filepath.Ext(input.RelPath) != ".c" {
		return nil, false
	}
	return []kinds.Ref{{RelPath: input.RelPath[:len(input.RelPath)-2] + ".o"}}, true
}

func (f fakeCompile) Runner(ctx kinds.RunContext) func() error {
	return func() error {
		in, ok := ctx.Input()
		if !ok {
			return buildererr.New(buildererr.InternalInvariant, "fakeCompile run without an input")
		}
		outs := ctx.Outputs()
		if len(outs) != 1 {
			return buildererr.New(buildererr.InternalInvariant, "fakeCompile expects exactly one output")
		}
		if f.builds != nil {
			atomic.AddInt32(f.builds, 1)
		}
		content := fmt.Sprintf("compiled:%s", in.RelPath)
		return os.WriteFile(ctx.AbsPath(outs[0]), []byte(content), 0o644)
	}
}

// fakeExeProducer is a JobKind standing in for a linker-shaped closure job:
// it declares OutExts() == [""] (an ordinary, non-magic registration for the
// bare extension) rather than nil, so it is only found by
// JobKindsWithOutput("") and not by JobKindsWithOutput for any other
// extension — the distinction internWithRetry's executable-form probe
// depends on.
type fakeExeProducer struct {
	ran *int32
}

func (fakeExeProducer) Name() string                            { return "fake-link" }
func (fakeExeProducer) InExt() string                            { return "" }
func (fakeExeProducer) OutExts() []string                        { return []string{""} }
func (fakeExeProducer) BaseDepends(kinds.RunContext) []kinds.Ref { return nil }
func (fakeExeProducer) Depends([]kinds.Ref) []kinds.Ref          { return nil }

func (fakeExeProducer) Input(kinds.Ref) (kinds.Ref, kinds.InputKind) {
	return kinds.Ref{}, kinds.NoInputNeeded
}

func (fakeExeProducer) Output(kinds.Ref) ([]kinds.Ref, bool) { return nil, false }

func (p fakeExeProducer) Runner(ctx kinds.RunContext) func() error {
	return func() error {
		if p.ran != nil {
			atomic.AddInt32(p.ran, 1)
		}
		outs := ctx.Outputs()
		if len(outs) != 1 {
			return buildererr.New(buildererr.InternalInvariant, "fakeExeProducer expects exactly one output")
		}
		return os.WriteFile(ctx.AbsPath(outs[0]), []byte("linked"), 0o755)
	}
}

// TestExecutableFormRetryAdoptsBareExtension exercises spec §4.2's
// speculative retry: "tool.v2" first interns with ext_list=["v2"], which no
// registered job kind can produce (fakeExeProducer is only registered for
// the bare ""), so the retry re-probes with ext_list=["v2",""] — the same
// relPath, since ToRelPath collapses a trailing empty extension — and that
// probe finds fakeExeProducer via JobKindsWithOutput(""), so the retry is
// adopted and the file builds.
func TestExecutableFormRetryAdoptsBareExtension(t *testing.T) {
	h := newHarness(t)
	reg := kinds.NewRegistry()
	var ran int32
	reg.RegisterJobKind(fakeExeProducer{ran: &ran})
	trees, err := tree.NewSet(h.srcDir, h.outDir, nil)
	assert.NilError(t, err)
	s := NewStore(trees, reg, &config.Config{}, scheduler.New(), false)

	f, err := s.GetFileFromRelPath("tool.v2")
	assert.NilError(t, err)
	assert.Assert(t, f.IsAvailable())
	assert.Equal(t, f.RelPath(), "tool.v2")

	s.Scheduler().AddRequired([]Buildable{f})
	assert.NilError(t, s.Scheduler().Run(2))
	assert.Assert(t, f.Done())
	assert.Equal(t, atomic.LoadInt32(&ran), int32(1))

	content, err := os.ReadFile(f.AbsPath())
	assert.NilError(t, err)
	assert.Equal(t, string(content), "linked")
}

// TestExecutableFormRetryLeavesGenuinelyUnavailableFileAlone confirms the
// retry doesn't paper over a target nothing can produce: with no job kind
// registered for either "v9" or "", both the original and retried probes
// fail, and the file is reported unavailable, not silently adopted.
func TestExecutableFormRetryLeavesGenuinelyUnavailableFileAlone(t *testing.T) {
	h := newHarness(t)
	s := h.store(t)

	f, err := s.GetFileFromRelPath("missing.v9")
	assert.NilError(t, err)
	assert.Assert(t, !f.IsAvailable())
}

// harness bundles everything needed to drive a small on-disk build: a fresh
// Store/Registry/Queue over the same srcDir/outDir every time it is
// rebuilt, matching how a real jhm invocation starts cold each run and
// leans entirely on on-disk cache state for reuse.
type harness struct {
	srcDir, outDir string
	builds         *int32
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	h := &harness{
		srcDir: filepath.Join(dir, "src"),
		outDir: filepath.Join(dir, "out"),
		builds: new(int32),
	}
	assert.NilError(t, os.MkdirAll(h.srcDir, 0o777))
	assert.NilError(t, os.MkdirAll(h.outDir, 0o777))
	return h
}

func (h *harness) writeSrc(t *testing.T, rel, content string) string {
	t.Helper()
	path := filepath.Join(h.srcDir, rel)
	assert.NilError(t, os.MkdirAll(filepath.Dir(path), 0o777))
	assert.NilError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (h *harness) registry() *kinds.Registry {
	reg := kinds.NewRegistry()
	reg.RegisterFileKind(fakeSource{kinds.Base{KindName: "c-source", KindExt: "c"}})
	reg.RegisterFileKind(kinds.NoIncl{Base: kinds.Base{KindName: "c-header", KindExt: "h"}})
	reg.RegisterJobKind(fakeCompile{builds: h.builds})
	return reg
}

func (h *harness) store(t *testing.T) *Store {
	t.Helper()
	trees, err := tree.NewSet(h.srcDir, h.outDir, nil)
	assert.NilError(t, err)
	return NewStore(trees, h.registry(), &config.Config{}, scheduler.New(), false)
}

// build interns relPath, demands it, and drains the scheduler, returning the
// interned File so callers can assert on its final state.
func (h *harness) build(t *testing.T, s *Store, relPath string) *File {
	t.Helper()
	f, err := s.GetFileFromRelPath(relPath)
	assert.NilError(t, err)
	s.Scheduler().AddRequired([]Buildable{f})
	assert.NilError(t, s.Scheduler().Run(4))
	return f
}

func TestStoreInternsFilesByRelPath(t *testing.T) {
	h := newHarness(t)
	h.writeSrc(t, "main.c", "int main() {}\n")
	s := h.store(t)

	f1, err := s.GetFileFromRelPath("main.c")
	assert.NilError(t, err)
	f2, err := s.GetFileFromRelPath("main.c")
	assert.NilError(t, err)
	assert.Assert(t, f1 == f2)
}

func TestGetFileRejectsTreeMismatch(t *testing.T) {
	h := newHarness(t)
	s := h.store(t)
	trees := s.trees

	f, err := s.GetFile(trees.Src, "", "main", []string{"c"})
	assert.NilError(t, err)
	assert.Equal(t, f.Tree(), trees.Src)

	_, err = s.GetFile(trees.Out, "", "main", []string{"c"})
	assert.Assert(t, err != nil)
}

func TestEndToEndCompileProducesOutputAndCache(t *testing.T) {
	h := newHarness(t)
	h.writeSrc(t, "main.c", `#include "foo.h"`+"\nint main() {}\n")
	h.writeSrc(t, "foo.h", "// empty\n")

	s := h.store(t)
	out := h.build(t, s, "main.o")

	assert.Assert(t, out.Done())
	content, err := os.ReadFile(out.AbsPath())
	assert.NilError(t, err)
	assert.Equal(t, string(content), "compiled:main.c")
	assert.Equal(t, atomic.LoadInt32(h.builds), int32(1))

	cache, err := os.ReadFile(out.AbsPath() + ".jhm-cache")
	assert.NilError(t, err)
	assert.Assert(t, len(cache) > 0)
}

func TestRebuildSkipsUnchangedViaCache(t *testing.T) {
	h := newHarness(t)
	h.writeSrc(t, "main.c", `#include "foo.h"`+"\nint main() {}\n")
	h.writeSrc(t, "foo.h", "// empty\n")

	s1 := h.store(t)
	h.build(t, s1, "main.o")
	assert.Equal(t, atomic.LoadInt32(h.builds), int32(1))

	// Simulate a second, cold process run over the same on-disk tree: a
	// fresh Store/Registry/Queue, nothing carried over in memory.
	s2 := h.store(t)
	out2 := h.build(t, s2, "main.o")
	assert.Assert(t, out2.Done())
	assert.Equal(t, atomic.LoadInt32(h.builds), int32(1))
}

func TestIncludeChangeInvalidatesCache(t *testing.T) {
	h := newHarness(t)
	h.writeSrc(t, "main.c", `#include "foo.h"`+"\nint main() {}\n")
	hdr := h.writeSrc(t, "foo.h", "// empty\n")

	s1 := h.store(t)
	h.build(t, s1, "main.o")
	assert.Equal(t, atomic.LoadInt32(h.builds), int32(1))

	future := time.Now().Add(time.Hour)
	assert.NilError(t, os.Chtimes(hdr, future, future))

	s2 := h.store(t)
	out2 := h.build(t, s2, "main.o")
	assert.Assert(t, out2.Done())
	assert.Equal(t, atomic.LoadInt32(h.builds), int32(2))
}

func TestMissingProducerErrors(t *testing.T) {
	h := newHarness(t)
	s := h.store(t)

	f, err := s.GetFileFromRelPath("nowhere.xyz")
	assert.NilError(t, err)
	assert.Assert(t, !f.IsAvailable())

	s.Scheduler().AddRequired([]Buildable{f})
	err = s.Scheduler().Run(2)
	assert.Assert(t, err != nil)

	var cause error = err
	var producerKind bool
	for cause != nil {
		if be, ok := cause.(*buildererr.BuildError); ok && be.Kind == buildererr.Producer {
			producerKind = true
			break
		}
		cause = stdUnwrap(cause)
	}
	assert.Assert(t, producerKind)
}

func stdUnwrap(err error) error {
	u, ok := err.(interface{ Unwrap() error })
	if !ok {
		return nil
	}
	return u.Unwrap()
}

func TestSetProducerRejectsSecondProducer(t *testing.T) {
	h := newHarness(t)

	// An empty job-kind registry so requesting "shared.o" finds no
	// automatic producer; the two closure jobs below are registered by
	// hand to exercise SetProducer's own reject-on-collision guard.
	reg := kinds.NewRegistry()
	reg.RegisterFileKind(fakeSource{kinds.Base{KindName: "c-source", KindExt: "c"}})
	trees, err := tree.NewSet(h.srcDir, h.outDir, nil)
	assert.NilError(t, err)
	s := NewStore(trees, reg, &config.Config{}, scheduler.New(), false)

	out, err := s.GetFileFromRelPath("shared.o")
	assert.NilError(t, err)
	assert.Assert(t, !out.IsAvailable())

	_, err = s.GetClosureJob(fakeCompile{builds: h.builds}, out)
	assert.NilError(t, err)
	assert.Assert(t, out.IsAvailable())

	_, err = s.GetClosureJob(fakeCompile{builds: new(int32)}, out)
	assert.Assert(t, err != nil)
}

func mustFile(t *testing.T, s *Store, rel string) *File {
	t.Helper()
	f, err := s.GetFileFromRelPath(rel)
	assert.NilError(t, err)
	return f
}

func TestAddReqsMonotoneAndStampPropagation(t *testing.T) {
	h := newHarness(t)
	h.writeSrc(t, "user.c", "int u;\n")
	reqPath := h.writeSrc(t, "req.h", "// req\n")
	s := h.store(t)

	user := mustFile(t, s, "user.c")
	req := mustFile(t, s, "req.h")

	before := user.Stamp()

	future := time.Now().Add(2 * time.Hour)
	assert.NilError(t, os.Chtimes(reqPath, future, future))

	user.AddReqs([]*File{req})
	after := user.Stamp()
	assert.Assert(t, after > before)
	assert.Equal(t, after, req.Stamp())

	// Adding the same requirement again must not re-trigger propagation
	// (idempotent monotone closure).
	user.AddReqs([]*File{req})
	assert.Equal(t, user.Stamp(), after)
}

func TestProducerPrecedenceFirstRegistrationWins(t *testing.T) {
	h := newHarness(t)
	h.writeSrc(t, "main.c", "int main() {}\n")
	reg := kinds.NewRegistry()
	reg.RegisterFileKind(fakeSource{kinds.Base{KindName: "c-source", KindExt: "c"}})

	first := fakeCompile{builds: h.builds}
	second := fakeCompile{builds: new(int32)}
	reg.RegisterJobKind(first)
	reg.RegisterJobKind(second)

	trees, err := tree.NewSet(h.srcDir, h.outDir, nil)
	assert.NilError(t, err)
	s := NewStore(trees, reg, &config.Config{}, scheduler.New(), false)

	out := h.build(t, s, "main.o")
	assert.Assert(t, out.Done())
	// Both job kinds could produce main.o from main.c; only the first
	// registered should ever have run (registration-order precedence).
	assert.Equal(t, atomic.LoadInt32(h.builds), int32(1))
}

func TestParallelCompileManySourcesIsRaceSafe(t *testing.T) {
	h := newHarness(t)
	const n = 12
	var targets []Buildable
	s := h.store(t)
	for i := 0; i < n; i++ {
		rel := fmt.Sprintf("gen%d.c", i)
		h.writeSrc(t, rel, fmt.Sprintf("int v%d;\n", i))
		f, err := s.GetFileFromRelPath(fmt.Sprintf("gen%d.o", i))
		assert.NilError(t, err)
		targets = append(targets, f)
	}

	s.Scheduler().AddRequired(targets)
	assert.NilError(t, s.Scheduler().Run(6))

	for _, b := range targets {
		assert.Assert(t, b.Done())
	}
	assert.Equal(t, atomic.LoadInt32(h.builds), int32(n))
}
