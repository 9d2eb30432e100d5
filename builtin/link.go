package builtin

import (
	"strings"

	"jhm/buildererr"
	"jhm/kinds"
	"jhm/logging"
)

// Link grounds the original's Closure pattern (job_kinds_Linux.py's
// Closure job kind): a job that can produce a file without declaring any
// input of its own. Here it links an executable from a list of object
// files declared in the target's own ".jhm" file, e.g. for bin/app:
//
//	+sources
//	main.o
//	util.o
type Link struct {
	Branch   string // files under this branch are linkable, e.g. "bin"
	Compiler string
}

// NewLink returns a Link job kind producing executables for any target
// under branch, using compiler to invoke the linker.
func NewLink(branch, compiler string) Link {
	return Link{Branch: branch, Compiler: compiler}
}

func (l Link) Name() string      { return "link executable" }
func (l Link) InExt() string     { return "" }
func (l Link) OutExts() []string { return nil } // magic: tried for every extension, last

// BaseDepends reads the target's own "sources" section (via ctx.Config,
// which for an out-only job resolves to the target's own declared
// section rather than a requires-merged one) so the scheduler waits on
// every object file before the link runs.
func (l Link) BaseDepends(ctx kinds.RunContext) []kinds.Ref {
	var refs []kinds.Ref
	for src := range ctx.Config("sources") {
		refs = append(refs, kinds.Ref{RelPath: src})
	}
	return refs
}

func (l Link) Depends([]kinds.Ref) []kinds.Ref { return nil }

func (l Link) Input(output kinds.Ref) (kinds.Ref, kinds.InputKind) {
	if isUnderBranch(output.RelPath, l.Branch) {
		return kinds.Ref{}, kinds.NoInputNeeded
	}
	return kinds.Ref{}, kinds.NoInput
}

// Output is never called: Link is only ever constructed out-only (its
// Input never returns NeedsInput), so Store.GetClosureJob is always used
// instead of the ordinary Output-driven path.
func (l Link) Output(kinds.Ref) ([]kinds.Ref, bool) { return nil, false }

func (l Link) Runner(ctx kinds.RunContext) func() error {
	return func() error {
		outs := ctx.Outputs()
		if len(outs) != 1 {
			return buildererr.New(buildererr.InternalInvariant, "link job expects exactly one output, got %d", len(outs))
		}

		argv := []string{l.Compiler, "-o", ctx.AbsPath(outs[0])}
		for src := range ctx.Config("sources") {
			argv = append(argv, ctx.AbsPath(kinds.Ref{RelPath: src}))
		}
		for k, v := range ctx.Config("link-args") {
			argv = append(argv, argFlag(k, v))
		}

		logging.WithTask("link", outs[0].RelPath).Debug("running ", strings.Join(argv, " "))
		return ctx.Run(argv)
	}
}

func isUnderBranch(relPath, branch string) bool {
	if branch == "" {
		return true
	}
	return relPath == branch || strings.HasPrefix(relPath, branch+"/")
}
