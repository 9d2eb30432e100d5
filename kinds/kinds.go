// Package kinds defines the pluggable FileKind/JobKind contracts (spec §4.1
// "FileKind"/"JobKind", §9 "Kind registration") that the availability
// search and scan/requires propagation in package graph are built on.
//
// Kinds never see package graph's File/Job types directly: they operate on
// Ref, a bare relative-path value, and on the small RunContext interface
// that graph implements. This keeps the dependency one-directional (graph
// depends on kinds, never the reverse) even though logically a JobKind's
// Runner needs deep access to a running Job.
package kinds

import "jhm/buildererr"

// Ref is a tree-relative path, the unit kinds reason about. It carries no
// identity beyond its string value; package graph is responsible for
// interning a Ref into a File.
type Ref struct {
	RelPath string
}

// ScanContext gives a FileKind read access to the file it is scanning for
// includes, matching the argument to the original's FileKind.GetInclSet.
type ScanContext interface {
	AbsPath() string
	RelPath() string
	ReadFile() ([]byte, error)
}

// FileKind is a type of file the engine can scan for dependencies, and can
// optionally recognize a prefix (such as "lib") within its base name.
type FileKind interface {
	Name() string
	Ext() string
	Prefix() string
	// Split divides base into (prefix, atom) using this kind's declared
	// prefix, matching the original FileKind.Split.
	Split(base string) (prefix, atom string)
	// Includes scans the file and returns the set of other files it
	// directly references (e.g. #include targets), as tree-relative Refs
	// still needing resolution against the tree search order.
	Includes(ctx ScanContext) ([]Ref, error)
}

// Base implements the common Name/Ext/Prefix/Split behavior so concrete
// FileKinds only need to supply Includes.
type Base struct {
	KindName   string
	KindExt    string
	KindPrefix string
}

func (b Base) Name() string   { return b.KindName }
func (b Base) Ext() string    { return b.KindExt }
func (b Base) Prefix() string { return b.KindPrefix }

func (b Base) Split(base string) (prefix, atom string) {
	if len(base) > len(b.KindPrefix) && base[:len(b.KindPrefix)] == b.KindPrefix {
		return b.KindPrefix, base[len(b.KindPrefix):]
	}
	return "", base
}

// NoIncl embeds Base and answers Includes with nothing, for file kinds with
// no internal dependency references (matching the original's
// FileKindNoIncl).
type NoIncl struct{ Base }

func (NoIncl) Includes(ScanContext) ([]Ref, error) { return nil, nil }

// RunContext is what a JobKind's Runner (and BaseDepends) acts on: resolved
// input/output paths, the input's transitive requires set, and the means
// to execute an external command and log it, all without exposing
// graph's File/Job types directly. The original passes the whole Job
// object to both GetBaseDepends and GetRunner; RunContext is this port's
// equivalent capability surface for both.
type RunContext interface {
	Input() (Ref, bool)
	Outputs() []Ref
	AbsPath(Ref) string
	// Requires is the input file's transitive dependency closure
	// (req_set), exposed so a job kind can build an include/library list.
	Requires() []Ref
	// Config returns section as seen by this job: for a job with an input,
	// the section merged across the ".jhm" companions of the input's
	// requires; for an out-only job, the target's own section. The input's
	// own ".jhm" section and the layered project/user/system config are
	// not included.
	Config(section string) map[string]string
	// Run executes argv, returning a buildererr.ExternalCommand error on
	// nonzero exit, and logs the command per the driver's verbosity.
	Run(argv []string) error
}

// InputKind classifies the result of JobKind.Input: a job kind either
// can't produce the requested output at all, can produce it without any
// input file (a "closure", spec §9's sum-type resolution of the original's
// overloaded GetInput, which conflated "True" meaning no-input-needed with
// an actual File return), or needs a specific input file.
type InputKind int

const (
	// NoInput means this job kind cannot produce the requested output.
	NoInput InputKind = iota
	// NoInputNeeded means this job kind can produce the output directly,
	// without requiring any input file (e.g. a Closure job).
	NoInputNeeded
	// NeedsInput means this job kind can produce the output from the
	// returned input Ref.
	NeedsInput
)

// JobKind is a transformation that can be applied to a file to produce
// other files, matching the original's JobKind class.
type JobKind interface {
	Name() string
	InExt() string
	OutExts() []string
	// BaseDepends returns depends that need only be discovered once per
	// job (such as a file list stored elsewhere), independent of req_set.
	BaseDepends(ctx RunContext) []Ref
	// Depends returns the depends implied by the input's current req_set.
	Depends(reqSet []Ref) []Ref
	// Input classifies whether/how this job kind could produce output.
	Input(output Ref) (Ref, InputKind)
	// Output returns the files produced from input, and whether this job
	// kind can use input at all.
	Output(input Ref) ([]Ref, bool)
	// Runner returns the function that performs the actual build step.
	Runner(ctx RunContext) func() error
}

// Registry holds ordered, precedence-respecting collections of file and
// job kinds, matching the original's __file_kinds_by_ext/
// __job_kinds_by_in_ext/__job_kinds_by_out_ext/__job_kinds_magic maps.
// Registration order is preserved and used as the availability search's
// tie-break (spec §4.3).
type Registry struct {
	fileKinds      []FileKind
	fileKindsByExt map[string][]FileKind

	jobKinds        []JobKind
	jobKindsByInExt map[string][]JobKind
	jobKindsByOut   map[string][]JobKind
	jobKindsMagic   []JobKind // job kinds with no declared out_exts: always tried last
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		fileKindsByExt:  map[string][]FileKind{},
		jobKindsByInExt: map[string][]JobKind{},
		jobKindsByOut:   map[string][]JobKind{},
	}
}

// RegisterFileKind appends fk to the registry, in precedence order.
func (r *Registry) RegisterFileKind(fk FileKind) {
	r.fileKinds = append(r.fileKinds, fk)
	r.fileKindsByExt[fk.Ext()] = append(r.fileKindsByExt[fk.Ext()], fk)
}

// RegisterJobKind appends jk to the registry, in precedence order. A job
// kind with no out_exts is magic: it is offered as a candidate for every
// output extension, tried only after every extension-specific candidate
// (matching YieldJobKindsWithOutput's "yield exact matches, then magic").
func (r *Registry) RegisterJobKind(jk JobKind) {
	r.jobKinds = append(r.jobKinds, jk)
	r.jobKindsByInExt[jk.InExt()] = append(r.jobKindsByInExt[jk.InExt()], jk)
	if len(jk.OutExts()) == 0 {
		r.jobKindsMagic = append(r.jobKindsMagic, jk)
		return
	}
	for _, ext := range jk.OutExts() {
		r.jobKindsByOut[ext] = append(r.jobKindsByOut[ext], jk)
	}
}

// FileKindsWithExt returns every registered file kind whose Ext matches,
// in registration order.
func (r *Registry) FileKindsWithExt(ext string) []FileKind {
	return r.fileKindsByExt[ext]
}

// FindFileKind picks the best matching file kind for base given its final
// extension: the one whose Split produces the longest prefix match,
// matching the original's GetFileKind.
func (r *Registry) FindFileKind(base string, extList []string) (fk FileKind, prefix, atom string) {
	if len(extList) == 0 {
		return nil, "", base
	}
	atom = base
	for _, cand := range r.FileKindsWithExt(extList[len(extList)-1]) {
		candPrefix, candAtom := cand.Split(base)
		if fk == nil || len(candPrefix) > len(prefix) {
			fk, prefix, atom = cand, candPrefix, candAtom
		}
	}
	return fk, prefix, atom
}

// JobKindsWithInput yields every job kind that accepts in_ext as input, in
// registration order.
func (r *Registry) JobKindsWithInput(inExt string) []JobKind {
	return r.jobKindsByInExt[inExt]
}

// JobKindsWithOutput yields every job kind that can produce outExt, in
// registration order, followed by every magic (no declared out_exts) job
// kind, matching YieldJobKindsWithOutput.
func (r *Registry) JobKindsWithOutput(outExt string) []JobKind {
	out := make([]JobKind, 0, len(r.jobKindsByOut[outExt])+len(r.jobKindsMagic))
	out = append(out, r.jobKindsByOut[outExt]...)
	out = append(out, r.jobKindsMagic...)
	return out
}

// ErrNoFileKind is raised when no registered FileKind can identify a file
// by its extension, and the caller needs a producer chain instead.
func ErrNoFileKind(path string) error {
	return buildererr.New(buildererr.Resolution, "no file kind recognizes %q", path)
}
