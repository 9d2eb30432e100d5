// Package builtin provides a minimal demonstration file/job kind set (C
// source → object → executable, plus header/no-op kinds) grounded on
// original_source/file_kinds.py and job_kinds_Linux.py, and the
// config-driven "command kind" mechanism used to describe additional
// transformations without writing Go code. Per spec §1's non-goals,
// these are illustrative, not a general C toolchain.
package builtin

import (
	"regexp"
	"strings"

	"jhm/buildererr"
	"jhm/kinds"
	"jhm/logging"
)

// quoteIncludeRE matches a quoted #include directive. Angle-bracket
// (system) includes are deliberately left unresolved: BuildGccEnv in the
// original shells out to `gcc -M -MG` and lets the compiler's own search
// path settle that; this illustrative kind scans the source text
// directly instead.
var quoteIncludeRE = regexp.MustCompile(`(?m)^\s*#\s*include\s*"([^"]+)"`)

// CSource recognizes C/C++ source and header files, matching
// file_kinds.py's CSource (which handles both source and header
// extensions through the same GetInclSet).
type CSource struct {
	kinds.Base
}

// NewCSource returns a CSource file kind for the given extension (e.g.
// "c", "cc", "h").
func NewCSource(ext string) CSource {
	return CSource{kinds.Base{KindName: "C source", KindExt: ext}}
}

// Includes scans f for quoted #include directives.
func (CSource) Includes(ctx kinds.ScanContext) ([]kinds.Ref, error) {
	data, err := ctx.ReadFile()
	if err != nil {
		return nil, err
	}
	var refs []kinds.Ref
	for _, m := range quoteIncludeRE.FindAllSubmatch(data, -1) {
		refs = append(refs, kinds.Ref{RelPath: string(m[1])})
	}
	return refs, nil
}

// Compile turns a C/C++ source file into an object file, matching
// job_kinds_Linux.py's CompileC (minus the PIC/C++-env variants, which
// this demonstration kind doesn't need).
type Compile struct {
	SrcExt   string
	ObjExt   string
	Compiler string // "cc" or "c++"
}

// NewCompile returns a Compile job kind for the given source extension,
// object extension, and compiler executable.
func NewCompile(srcExt, objExt, compiler string) Compile {
	return Compile{SrcExt: srcExt, ObjExt: objExt, Compiler: compiler}
}

func (c Compile) Name() string     { return "compile " + c.SrcExt }
func (c Compile) InExt() string    { return c.SrcExt }
func (c Compile) OutExts() []string { return []string{c.ObjExt} }

// BaseDepends: compilation has no base depends, matching CompileC's
// GetDepends/GetBaseDepends (the original only overrides GetDepends, but
// a compile job has nothing to discover up front either).
func (c Compile) BaseDepends(kinds.RunContext) []kinds.Ref { return nil }

// Depends: compilation's own output never needs to wait on the headers
// it includes as a scheduling dependency (only the source file itself
// does, via its own req_set for config merging) — matching CompileC's
// GetDepends returning an empty set regardless of req_set.
func (c Compile) Depends([]kinds.Ref) []kinds.Ref { return nil }

func (c Compile) Input(output kinds.Ref) (kinds.Ref, kinds.InputKind) {
	base, ok := trimExt(output.RelPath, c.ObjExt)
	if !ok {
		return kinds.Ref{}, kinds.NoInput
	}
	return kinds.Ref{RelPath: base + "." + c.SrcExt}, kinds.NeedsInput
}

func (c Compile) Output(input kinds.Ref) ([]kinds.Ref, bool) {
	base, ok := trimExt(input.RelPath, c.SrcExt)
	if !ok {
		return nil, false
	}
	return []kinds.Ref{{RelPath: base + "." + c.ObjExt}}, true
}

func (c Compile) Runner(ctx kinds.RunContext) func() error {
	return func() error {
		in, ok := ctx.Input()
		if !ok {
			return buildererr.New(buildererr.InternalInvariant, "compile job invoked without an input")
		}
		outs := ctx.Outputs()
		if len(outs) != 1 {
			return buildererr.New(buildererr.InternalInvariant, "compile job expects exactly one output, got %d", len(outs))
		}

		argv := []string{c.Compiler, "-c", ctx.AbsPath(in), "-o", ctx.AbsPath(outs[0])}
		for k, v := range ctx.Config(c.Compiler + "-args") {
			argv = append(argv, argFlag(k, v))
		}

		logging.WithTask("compile", in.RelPath).Debug("running ", strings.Join(argv, " "))
		return ctx.Run(argv)
	}
}

// argFlag renders a config key/value pair the way GetConfigSectionAsArgs
// does: a bare flag if the section entry had no value, "key=value"
// otherwise.
func argFlag(key, value string) string {
	if value == "" {
		return key
	}
	return key + "=" + value
}

// trimExt strips a trailing ".ext" from relPath, reporting whether it was
// present.
func trimExt(relPath, ext string) (string, bool) {
	suffix := "." + ext
	if !strings.HasSuffix(relPath, suffix) {
		return "", false
	}
	return strings.TrimSuffix(relPath, suffix), true
}
