package graph

import (
	"bytes"
	"os/exec"
	"path/filepath"
	"sync"

	"jhm/buildererr"
	"jhm/kinds"
	"jhm/logging"
)

// Job is a JobKind that has been assigned an input (or, for an out-only
// "closure" job, a fixed single output and no input), matching spec §3
// "Job".
type Job struct {
	store *Store

	kind    kinds.JobKind
	input   *File // nil for an out-only job
	outOnly bool
	// outOnlyTarget is the single file a Closure-style job was
	// constructed to produce; outOnly jobs have no input to derive their
	// output set from via the job kind, so the caller (File.FindAvailability,
	// via Store.GetClosureJob) supplies it directly.
	outOnlyTarget *File

	mu         sync.Mutex
	dependSet  map[*File]bool
	baseDepsOk bool
	outputSet  map[*File]bool
	done       bool
}

// newJob constructs a Job. keyInput is used purely as the job's identity
// (matching the original's Job.Hash(kind, in_file), which hashes on the
// same in_file argument whether or not the job is out-only); the Job's
// own input field is nil whenever outOnly is set, matching
// `self.__input = in_file if not out_only else None`.
func newJob(store *Store, kind kinds.JobKind, keyInput *File, outOnly bool, outOnlyTarget *File) *Job {
	j := &Job{
		store:         store,
		kind:          kind,
		outOnly:       outOnly,
		outOnlyTarget: outOnlyTarget,
		dependSet:     map[*File]bool{},
		outputSet:     map[*File]bool{},
	}
	if !outOnly {
		j.input = keyInput
		j.dependSet[keyInput] = true
		keyInput.AddConsumer(j)
	}
	return j
}

// finishInit computes and registers this job's output set, matching
// Job.FinishInit. Called once, immediately after interning.
func (j *Job) finishInit() error {
	if j.outOnly {
		j.mu.Lock()
		j.outputSet[j.outOnlyTarget] = true
		j.mu.Unlock()
	} else {
		refs, ok := j.kind.Output(j.input.Ref())
		if !ok {
			return buildererr.New(buildererr.InternalInvariant,
				"job kind %q claimed it could use %q as input but then refused", j.kind.Name(), j.input.RelPath())
		}
		for _, ref := range refs {
			f, err := j.store.ResolveRef(ref)
			if err != nil {
				return err
			}
			j.mu.Lock()
			j.outputSet[f] = true
			j.mu.Unlock()
		}
	}
	for f := range j.outputSet {
		if err := f.SetProducer(j, j.outOnly); err != nil {
			return err
		}
	}
	return nil
}

// AddDepends folds kind.Depends(reqSet) into this job's depend set,
// matching Job.AddDepends.
func (j *Job) AddDepends(reqSet []*File) {
	refs := make([]kinds.Ref, 0, len(reqSet))
	for _, f := range reqSet {
		refs = append(refs, f.Ref())
	}
	depRefs := j.kind.Depends(refs)
	deps, err := j.store.resolveRefs(depRefs)
	if err != nil {
		return
	}
	j.doAddDepends(deps)
}

func (j *Job) doAddDepends(deps []*File) {
	j.mu.Lock()
	var newDeps []*File
	for _, d := range deps {
		if !j.dependSet[d] {
			j.dependSet[d] = true
			newDeps = append(newDeps, d)
		}
	}
	outputs := snapshotFiles(j.outputSet)
	j.mu.Unlock()

	for _, d := range newDeps {
		d.AddConsumer(j)
		for _, out := range outputs {
			d.AddUser(out)
		}
	}
}

// Done reports whether the job has finished running (scheduler.Buildable).
func (j *Job) Done() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.done
}

// Build attempts one build step, matching Job.Build: ensure base depends
// are registered, defer if any dependency isn't ready, otherwise prepare
// output directories/caches and run the job kind's runner.
func (j *Job) Build() (bool, error) {
	j.mu.Lock()
	if j.done {
		j.mu.Unlock()
		return true, nil
	}
	if !j.baseDepsOk {
		j.baseDepsOk = true
		j.mu.Unlock()
		baseRefs := j.kind.BaseDepends(runContext{j})
		baseDeps, err := j.store.resolveRefs(baseRefs)
		if err != nil {
			return false, err
		}
		j.doAddDepends(baseDeps)
		j.mu.Lock()
	}
	deps := snapshotFiles(j.dependSet)
	j.mu.Unlock()

	if j.store.sched.AddRequired(buildablesOf(deps)) {
		return false, nil
	}

	j.mu.Lock()
	outputs := snapshotFiles(j.outputSet)
	j.mu.Unlock()
	for _, f := range outputs {
		if err := ensurePathExists(filepath.Dir(f.AbsPath())); err != nil {
			return false, err
		}
		if err := f.finishNoCache(); err != nil {
			return false, err
		}
	}

	runner := j.kind.Runner(runContext{j})
	if err := runner(); err != nil {
		return false, err
	}

	j.mu.Lock()
	j.done = true
	j.mu.Unlock()

	j.store.sched.AddIfNeeded(buildablesOf(outputs))
	return true, nil
}

// runContext implements kinds.RunContext over a live Job, giving the job
// kind's Runner access to resolved paths and the means to execute and log
// external commands without seeing package graph's types directly.
type runContext struct{ j *Job }

func (c runContext) Input() (kinds.Ref, bool) {
	if c.j.outOnly {
		return kinds.Ref{}, false
	}
	return c.j.input.Ref(), true
}

func (c runContext) Outputs() []kinds.Ref {
	c.j.mu.Lock()
	defer c.j.mu.Unlock()
	out := make([]kinds.Ref, 0, len(c.j.outputSet))
	for f := range c.j.outputSet {
		out = append(out, f.Ref())
	}
	return out
}

func (c runContext) AbsPath(ref kinds.Ref) string {
	f, err := c.j.store.ResolveRef(ref)
	if err != nil {
		return ""
	}
	return f.AbsPath()
}

func (c runContext) Requires() []kinds.Ref {
	if c.j.outOnly {
		return nil
	}
	c.j.input.mu.Lock()
	reqs := snapshotFiles(c.j.input.reqSet)
	c.j.input.mu.Unlock()
	out := make([]kinds.Ref, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, r.Ref())
	}
	return out
}

func (c runContext) Config(section string) map[string]string {
	if c.j.outOnly {
		return c.j.outOnlyTarget.OwnSection(section)
	}
	return c.j.input.YieldReqSection(section)
}

func (c runContext) Run(argv []string) error {
	return runCommand(argv)
}

func runCommand(argv []string) error {
	if len(argv) == 0 {
		return buildererr.New(buildererr.InternalInvariant, "empty command")
	}
	logging.EchoCommand(argv)
	cmd := exec.Command(argv[0], argv[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err == nil {
		return nil
	}
	exitCode := -1
	if ee, ok := err.(*exec.ExitError); ok {
		exitCode = ee.ExitCode()
	}
	return buildererr.CommandError(argv, exitCode, stdout.String(), stderr.String(), err)
}
