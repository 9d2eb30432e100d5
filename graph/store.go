// Package graph is the core of the build engine: File/Job interning,
// availability search, scan+requires propagation, per-file caching, and
// build-step semantics (spec §4.2–§4.7).
package graph

import (
	"path/filepath"
	"strings"
	"sync"

	"jhm/buildererr"
	"jhm/config"
	"jhm/kinds"
	"jhm/scheduler"
	"jhm/tree"
)

// Buildable is the scheduler's view of a File or Job.
type Buildable = scheduler.Buildable

type jobKey struct {
	kind  kinds.JobKind
	input *File
}

// Store interns every File and Job in a build, and is the sole authority
// for resolving a kinds.Ref into a concrete File, matching spec §4.2's
// File interning store and the relevant parts of the original's Env.
type Store struct {
	trees    *tree.Set
	registry *kinds.Registry
	cfg      *config.Config
	sched    *scheduler.Queue
	force    bool

	mu    sync.Mutex
	files map[string]*File
	jobs  map[jobKey]*Job
}

// NewStore builds a Store over the given trees/kind registry/config,
// driven by sched.
func NewStore(trees *tree.Set, registry *kinds.Registry, cfg *config.Config, sched *scheduler.Queue, force bool) *Store {
	return &Store{
		trees:    trees,
		registry: registry,
		cfg:      cfg,
		sched:    sched,
		force:    force,
		files:    map[string]*File{},
		jobs:     map[jobKey]*Job{},
	}
}

// GetFile interns (or returns the existing) File for an explicit tree,
// branch, base, and extension list, matching Env.GetFile. A relative path
// may only ever live in one tree; requesting it again with a different
// tree is an internal invariant violation.
func (s *Store) GetFile(t *tree.Tree, branch, base string, extList []string) (*File, error) {
	relPath := ToRelPath(branch, base, extList)

	s.mu.Lock()
	if f, ok := s.files[relPath]; ok {
		s.mu.Unlock()
		if f.Tree() != t {
			return nil, buildererr.New(buildererr.InternalInvariant,
				"file %q requested from tree %s, already interned in tree %s", relPath, t, f.Tree())
		}
		return f, nil
	}
	f := newFile(s, t, branch, base, extList)
	s.files[relPath] = f
	s.mu.Unlock()

	if err := f.FindAvailability(); err != nil {
		return nil, err
	}
	return f, nil
}

// GetFileAndTree interns the File for branch/base/extList, picking its
// tree by search precedence (spec §4.1): the first tree (SRC, then each
// INC, in order) that currently contains the path, or the OUT tree if
// none do, matching Env.GetFileAndTree.
func (s *Store) GetFileAndTree(branch, base string, extList []string) (*File, error) {
	relPath := ToRelPath(branch, base, extList)

	s.mu.Lock()
	if f, ok := s.files[relPath]; ok {
		s.mu.Unlock()
		return f, nil
	}
	s.mu.Unlock()

	t, ok := s.trees.FindRel(relPath)
	if !ok {
		t = s.trees.Out
	}
	return s.GetFile(t, branch, base, extList)
}

// GetFileFromRelPath splits a tree-relative path and interns its File,
// matching the tree-relative branch of Env.GetFileFromPath (including its
// speculative executable-form retry, see internWithRetry).
func (s *Store) GetFileFromRelPath(relPath string) (*File, error) {
	branch, base, extList, err := SplitRelPath(relPath)
	if err != nil {
		return nil, err
	}
	t, ok := s.trees.FindRel(relPath)
	if !ok {
		t = s.trees.Out
	}
	return s.internWithRetry(t, branch, base, extList)
}

// GetFileFromAbsPath resolves an absolute path to its File, choosing
// whichever tree actually contains it (falling back to OUT with the path
// minus its leading separator, matching Env.GetFileFromPath's
// absolute-path branch), including the same executable-form retry as
// GetFileFromRelPath.
func (s *Store) GetFileFromAbsPath(abs string) (*File, error) {
	var rel string
	t, ok := s.trees.FindAbs(abs)
	if ok {
		rel = strings.TrimPrefix(abs[len(t.Path()):], string(filepath.Separator))
	} else {
		t = s.trees.Out
		rel = strings.TrimPrefix(abs, string(filepath.Separator))
	}
	branch, base, extList, err := SplitRelPath(rel)
	if err != nil {
		return nil, err
	}
	return s.internWithRetry(t, branch, base, extList)
}

// GetFileFromPath dispatches to GetFileFromAbsPath or GetFileFromRelPath
// depending on whether path is absolute, matching Env.GetFileFromPath.
func (s *Store) GetFileFromPath(path string) (*File, error) {
	if filepath.IsAbs(path) {
		return s.GetFileFromAbsPath(path)
	}
	return s.GetFileFromRelPath(path)
}

// internWithRetry interns branch/base/extList in tree t and, if the
// result isn't available, speculatively retries once with an appended
// empty extension — treating an unrecognized trailing extension (e.g.
// "mytool.v2") as no extension at all, the "executable form" probe from
// spec §4.2 — and adopts the retry only if it is available. Both
// candidates share the same tree-relative path (ToRelPath collapses a
// trailing empty extension), so only one of them is ever actually
// registered in s.files; the other's availability search is pure
// lookahead, matching Env.GetFileFromPath's orig_f/f swap.
func (s *Store) internWithRetry(t *tree.Tree, branch, base string, extList []string) (*File, error) {
	relPath := ToRelPath(branch, base, extList)

	s.mu.Lock()
	if f, ok := s.files[relPath]; ok {
		s.mu.Unlock()
		if f.Tree() != t {
			return nil, buildererr.New(buildererr.InternalInvariant,
				"file %q requested from tree %s, already interned in tree %s", relPath, t, f.Tree())
		}
		return f, nil
	}
	s.mu.Unlock()

	f := newFile(s, t, branch, base, extList)
	if err := f.FindAvailability(); err != nil {
		return nil, err
	}

	if !f.IsAvailable() && len(extList) > 0 && extList[len(extList)-1] != "" {
		retryExt := append(append([]string{}, extList...), "")
		retry := newFile(s, t, branch, base, retryExt)
		if err := retry.FindAvailability(); err != nil {
			return nil, err
		}
		if retry.IsAvailable() {
			f = retry
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.files[relPath]; ok {
		return existing, nil
	}
	s.files[relPath] = f
	return f, nil
}

// ResolveRef resolves a kinds.Ref (a bare tree-relative path, as produced
// by a FileKind's Includes or a JobKind's Input/Output) into its File.
func (s *Store) ResolveRef(ref kinds.Ref) (*File, error) {
	return s.GetFileFromRelPath(ref.RelPath)
}

func (s *Store) resolveRefs(refs []kinds.Ref) ([]*File, error) {
	out := make([]*File, 0, len(refs))
	for _, ref := range refs {
		f, err := s.ResolveRef(ref)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// GetJob interns (or returns the existing) Job that takes input and
// produces whatever kind.Output(input) says, matching Env.GetJob's
// ordinary (non-closure) branch.
func (s *Store) GetJob(kind kinds.JobKind, input *File) (*Job, error) {
	return s.getJob(kind, input, false, nil)
}

// GetClosureJob interns (or returns the existing) out-only Job: one that
// needs no input file and produces exactly target, matching Env.GetJob's
// out_only=True branch (used when a JobKind.Input reports NoInputNeeded).
func (s *Store) GetClosureJob(kind kinds.JobKind, target *File) (*Job, error) {
	return s.getJob(kind, target, true, target)
}

func (s *Store) getJob(kind kinds.JobKind, input *File, outOnly bool, outOnlyTarget *File) (*Job, error) {
	key := jobKey{kind: kind, input: input}

	s.mu.Lock()
	if j, ok := s.jobs[key]; ok {
		s.mu.Unlock()
		return j, nil
	}
	j := newJob(s, kind, input, outOnly, outOnlyTarget)
	s.jobs[key] = j
	s.mu.Unlock()

	if err := j.finishInit(); err != nil {
		return nil, err
	}
	return j, nil
}

// Trees exposes the underlying tree set (used by driver to resolve CLI
// targets and print paths).
func (s *Store) Trees() *tree.Set { return s.trees }

// Scheduler exposes the underlying work queue.
func (s *Store) Scheduler() *scheduler.Queue { return s.sched }

// Config exposes the layered configuration store.
func (s *Store) Config() *config.Config { return s.cfg }
