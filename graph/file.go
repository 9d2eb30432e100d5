package graph

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"jhm/buildererr"
	"jhm/confmt"
	"jhm/kinds"
	"jhm/tree"
)

// File is a path inside a tree that may or may not need to be built,
// matching spec §3 "File" and §4.2 "File interning store".
type File struct {
	store *Store

	tree     *tree.Tree
	branch   string
	base     string
	extList  []string
	relPath  string
	absPath  string
	fileKind kinds.FileKind
	prefix   string
	atom     string

	cacheFilename string
	jhmFilename   string // path to this file's own ".jhm" companion, if any

	mu           sync.Mutex
	jhmFile      *confmt.File
	cacheFile    *confmt.OutFile
	cacheChecked bool
	cacheFinal   bool // the "cache-finished by a peer" shortcut

	reqSet      map[*File]bool
	consumerSet map[*Job]bool
	userSet     map[*File]bool
	producer    *Job
	producerIn  bool // producer exists and is not out-only

	done    bool
	stamp   *int64
	avail   bool
	availOk bool
}

func newFile(store *Store, t *tree.Tree, branch, base string, extList []string) *File {
	relPath := ToRelPath(branch, base, extList)
	fk, prefix, atom := store.registry.FindFileKind(base, extList)
	f := &File{
		store:         store,
		tree:          t,
		branch:        branch,
		base:          base,
		extList:       extList,
		relPath:       relPath,
		absPath:       t.AbsPath(relPath),
		fileKind:      fk,
		prefix:        prefix,
		atom:          atom,
		cacheFilename: store.trees.Out.AbsPath(relPath + ".jhm-cache"),
		reqSet:        map[*File]bool{},
		consumerSet:   map[*Job]bool{},
		userSet:       map[*File]bool{},
	}
	for _, t := range store.trees.Ordered() {
		candidate := t.AbsPath(relPath + ".jhm")
		if _, err := os.Stat(candidate); err == nil {
			f.jhmFilename = candidate
			break
		}
	}
	return f
}

// RelPath is the file's tree-relative path.
func (f *File) RelPath() string { return f.relPath }

// AbsPath is the file's absolute on-disk path.
func (f *File) AbsPath() string { return f.absPath }

// Tree is the tree this file was resolved into.
func (f *File) Tree() *tree.Tree { return f.tree }

// Ref is this file's bare-path identity, as seen by package kinds.
func (f *File) Ref() kinds.Ref { return kinds.Ref{RelPath: f.relPath} }

// Stamp is the file's staleness timestamp: its own mtime, or (for a SRC
// tree file) the newest of its requires' stamps, whichever is greater,
// matching the original's lazily-computed stamp property.
func (f *File) Stamp() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stampLocked()
}

func (f *File) stampLocked() int64 {
	if f.stamp == nil {
		v := mtime(f.absPath)
		f.stamp = &v
	}
	return *f.stamp
}

// JHMFile lazily parses this file's own ".jhm" companion and, the first
// time it is loaded, folds its "requires" section into req_set — the way
// a project hand-seeds a dependency the scanner cannot discover (e.g. a
// generated header), matching the original's jhm_file property.
func (f *File) JHMFile() *confmt.File {
	f.mu.Lock()
	if f.jhmFile != nil || f.jhmFilename == "" {
		jf := f.jhmFile
		f.mu.Unlock()
		return jf
	}
	parsed, err := confmt.Parse(f.jhmFilename)
	if err != nil {
		f.mu.Unlock()
		return nil
	}
	f.jhmFile = parsed
	reqPaths := parsed.Section("requires")
	f.mu.Unlock()

	var reqs []*File
	for path := range reqPaths {
		rf, err := f.store.GetFileFromPath(strings.TrimSpace(path))
		if err != nil {
			continue
		}
		reqs = append(reqs, rf)
	}
	f.AddReqs(reqs)
	return parsed
}

// Done reports whether the file has finished building (scheduler.Buildable).
func (f *File) Done() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done
}

// AddConsumer registers job as depending on this file as (transitive)
// input, and immediately propagates this file's current requires set to
// it, matching the original's File.AddConsumer.
func (f *File) AddConsumer(job *Job) {
	f.mu.Lock()
	f.consumerSet[job] = true
	reqs := snapshotFiles(f.reqSet)
	f.mu.Unlock()
	if len(reqs) > 0 {
		job.AddDepends(reqs)
	}
}

// AddUser registers user as a file whose requires set transitively
// includes this file, propagating this file's current requires set to it.
func (f *File) AddUser(user *File) {
	f.mu.Lock()
	f.userSet[user] = true
	reqs := snapshotFiles(f.reqSet)
	f.mu.Unlock()
	if len(reqs) > 0 {
		user.AddReqs(reqs)
	}
}

// AddReqs folds reqs into this file's requires set and propagates the
// newly-added members to every registered consumer (jobs) and user
// (files), and registers this file as a user of each new req — the
// three-way monotone closure described in spec §4.4 "Scan + requires
// propagation". Safe to call concurrently from multiple goroutines: each
// new requirement is only ever propagated once, by whichever caller
// first added it.
func (f *File) AddReqs(reqs []*File) {
	f.mu.Lock()
	var newReqs []*File
	for _, r := range reqs {
		if r == f || f.reqSet[r] {
			continue
		}
		newReqs = append(newReqs, r)
		f.reqSet[r] = true
	}
	if len(newReqs) == 0 {
		f.mu.Unlock()
		return
	}
	cons := snapshotJobs(f.consumerSet)
	users := snapshotFiles(f.userSet)
	if f.tree.Kind() == tree.SRC {
		for _, r := range newReqs {
			if s := r.Stamp(); f.stampLocked() < s {
				f.stamp = &s
			}
		}
	}
	f.mu.Unlock()

	for _, j := range cons {
		j.AddDepends(newReqs)
	}
	for _, u := range users {
		u.AddReqs(newReqs)
	}
	for _, r := range newReqs {
		r.AddUser(f)
	}
}

// SetProducer records the job that produces this file. Per spec §4.2,
// first registration wins if more than one job kind could produce the
// same file — callers (FindAvailability) only ever call this once per
// file, the first time a producer is found.
func (f *File) SetProducer(job *Job, outOnly bool) error {
	if len(job.kind.OutExts()) > 0 {
		last := f.extList[len(f.extList)-1]
		ok := false
		for _, e := range job.kind.OutExts() {
			if e == last {
				ok = true
				break
			}
		}
		if !ok {
			return buildererr.New(buildererr.InternalInvariant,
				"job kind %q produced output %q it never declared", job.kind.Name(), f.relPath)
		}
	}

	f.mu.Lock()
	if f.producer != nil {
		f.mu.Unlock()
		return buildererr.New(buildererr.InternalInvariant, "file %q already has a producer", f.relPath)
	}
	f.avail, f.availOk = true, true
	f.producer = job
	f.producerIn = !outOnly
	f.mu.Unlock()

	if !outOnly {
		job.input.AddUser(f)
		f.AddReqs([]*File{job.input})
	}
	return nil
}

// FindAvailability determines whether this file is available: it exists
// (SRC/INC trees are always considered available) or it already has a
// producer, or a registered job kind can produce it, searched depth-first
// in registration order (spec §4.3 "Availability search").
func (f *File) FindAvailability() error {
	f.mu.Lock()
	if f.availOk {
		f.mu.Unlock()
		return nil
	}
	f.availOk = true
	if f.tree.Kind() == tree.SRC || f.tree.Kind() == tree.INC || f.producer != nil {
		f.avail = true
		f.mu.Unlock()
		return nil
	}
	f.mu.Unlock()

	if len(f.extList) == 0 {
		return nil
	}
	ext := f.extList[len(f.extList)-1]
	for _, jk := range f.store.registry.JobKindsWithOutput(ext) {
		ref, kind := jk.Input(f.Ref())
		switch kind {
		case kinds.NoInputNeeded:
			job, err := f.store.GetClosureJob(jk, f)
			if err != nil {
				return err
			}
			f.mu.Lock()
			f.avail = true
			f.mu.Unlock()
			_ = job
			return nil
		case kinds.NeedsInput:
			inFile, err := f.store.ResolveRef(ref)
			if err != nil {
				return err
			}
			if err := inFile.FindAvailability(); err != nil {
				return err
			}
			if inFile.IsAvailable() {
				if _, err := f.store.GetJob(jk, inFile); err != nil {
					return err
				}
				f.mu.Lock()
				f.avail = true
				f.mu.Unlock()
				return nil
			}
		}
	}
	return nil
}

// IsAvailable reports whether a producer chain was found for this file.
func (f *File) IsAvailable() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.avail
}

// Config resolves key within section from this file's own ".jhm"
// companion, falling back to its cache file, matching File.GetConfig.
func (f *File) Config(key, section string) (string, bool) {
	f.JHMFile()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.jhmFile != nil {
		if v, ok := f.jhmFile.Get(key, section); ok {
			return v, true
		}
	}
	if f.cacheFile != nil {
		if v, ok := f.cacheFile.Get(key, section); ok {
			return v, true
		}
	}
	return "", false
}

// OwnSection returns this file's own declared section (its ".jhm"
// companion's section with its ".jhm-cache" stash's same section laid
// over it, cache values winning; requires' sections are not merged in),
// matching the original's YieldSection — used by out-only
// ("closure") job kinds, which have no input file to read a requires
// section from.
func (f *File) OwnSection(section string) map[string]string {
	f.JHMFile()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]string{}
	for k, v := range sectionOf(f.jhmFile, section) {
		out[k] = v
	}
	if f.cacheFile != nil {
		for k, v := range f.cacheFile.Section(section) {
			out[k] = v
		}
	}
	return out
}

// YieldReqSection merges `section` across this file's entire requires set,
// matching File.YieldReqSection.
func (f *File) YieldReqSection(section string) map[string]string {
	f.mu.Lock()
	reqs := snapshotFiles(f.reqSet)
	f.mu.Unlock()

	out := map[string]string{}
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].relPath < reqs[j].relPath })
	for _, r := range reqs {
		r.mu.Lock()
		for k, v := range sectionOf(r.jhmFile, section) {
			out[k] = v
		}
		r.mu.Unlock()
	}
	return out
}

func sectionOf(f *confmt.File, section string) map[string]string {
	if f == nil {
		return nil
	}
	return f.Section(section)
}

// finishNoCache lazily creates this file's (empty, not-yet-read) cache
// file object so job kinds can stash extra config into it before it is
// saved, matching File.FinishNoCache.
func (f *File) finishNoCache() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cacheFile != nil {
		return nil
	}
	out, err := confmt.LoadOutFile(f.cacheFilename)
	if err != nil {
		return err
	}
	f.cacheFile = out
	return nil
}

// cacheFinish lets a peer file (one discovered via another file's cache
// "requires" list) short-circuit straight to done, reusing the already
// fresh cache rather than re-scanning, matching File.__CacheFinish. This
// mutates shared completion state, so it takes the same lock as Build.
func (f *File) cacheFinish() error {
	f.mu.Lock()
	if f.done || f.cacheFile != nil {
		f.mu.Unlock()
		return nil
	}
	f.cacheFinal = true
	out, err := confmt.LoadOutFile(f.cacheFilename)
	if err != nil {
		f.mu.Unlock()
		return err
	}
	f.cacheFile = out
	reqPaths := out.Section("requires")
	f.mu.Unlock()

	var reqs []*File
	for abs := range reqPaths {
		rf, err := f.store.GetFileFromAbsPath(abs)
		if err != nil {
			return err
		}
		reqs = append(reqs, rf)
	}
	f.AddReqs(reqs)
	return nil
}

// Build attempts one build step, matching File.Build. It returns true
// once the file is fully built (or was already cached/finished), false if
// it deferred because something it depends on isn't ready yet — the
// caller (scheduler) is responsible for re-driving it once that
// dependency completes.
func (f *File) Build() (bool, error) {
	f.mu.Lock()
	if f.done {
		f.mu.Unlock()
		return true, nil
	}
	f.mu.Unlock()
	f.JHMFile()
	f.mu.Lock()

	if f.cacheFinal {
		f.done = true
		f.mu.Unlock()
		f.wakeDependents()
		return true, nil
	}

	if !f.cacheChecked && !f.store.force {
		f.cacheChecked = true
		cacheStamp := mtime(f.cacheFilename)
		jhmStamp := int64(0)
		jhmFresh := f.jhmFilename == ""
		if f.jhmFilename != "" {
			jhmStamp = mtime(f.jhmFilename)
			jhmFresh = jhmStamp <= f.stampLocked()
		}
		if jhmFresh && cacheStamp > 0 && f.stampLocked() > 0 && cacheStamp >= f.stampLocked() {
			f.mu.Unlock()
			ok, err := f.checkCache(cacheStamp)
			if err != nil {
				return false, err
			}
			if ok {
				f.mu.Lock()
				f.done = true
				f.mu.Unlock()
				f.wakeDependents()
				return true, nil
			}
			f.mu.Lock()
		}
	}
	if f.cacheFile == nil {
		f.mu.Unlock()
		if err := f.finishNoCache(); err != nil {
			return false, err
		}
		f.mu.Lock()
	}

	if f.tree.Kind() == tree.OUT && f.producer == nil {
		f.mu.Unlock()
		return false, buildererr.New(buildererr.Producer, "%q must be produced, but no producer was found", f.relPath)
	}
	producer := f.producer
	f.mu.Unlock()

	if producer != nil && !producer.Done() {
		f.store.sched.AddRequired([]Buildable{producer})
		return false, nil
	}

	if err := f.scan(); err != nil {
		return false, err
	}

	f.mu.Lock()
	reqs := snapshotFiles(f.reqSet)
	f.mu.Unlock()
	if f.store.sched.AddRequired(buildablesOf(reqs)) {
		return false, nil
	}

	f.mu.Lock()
	cache := f.cacheFile
	for r := range f.reqSet {
		cache.SetFlag("requires", r.absPath)
	}
	f.mu.Unlock()
	if err := cache.Save(); err != nil {
		return false, err
	}

	f.mu.Lock()
	f.done = true
	f.mu.Unlock()
	f.wakeDependents()
	return true, nil
}

func (f *File) wakeDependents() {
	f.mu.Lock()
	users := snapshotFiles(f.userSet)
	cons := snapshotJobs(f.consumerSet)
	f.mu.Unlock()
	f.store.sched.AddIfNeeded(append(buildablesOf(users), buildablesOfJobs(cons)...))
}

// checkCache validates the cache file's stashed requires list against
// current mtimes, matching the nested CheckCache closure in File.Build.
func (f *File) checkCache(cacheStamp int64) (bool, error) {
	out, err := confmt.LoadOutFile(f.cacheFilename)
	if err != nil {
		return false, err
	}
	reqSection := out.Section("requires")
	var reqs []*File
	for abs := range reqSection {
		if mtime(abs) >= cacheStamp || !exists(abs) {
			return false, nil
		}
		rf, err := f.store.GetFileFromAbsPath(abs)
		if err != nil {
			return false, err
		}
		reqs = append(reqs, rf)
	}
	for _, r := range reqs {
		if err := r.cacheFinish(); err != nil {
			return false, err
		}
	}
	f.mu.Lock()
	f.cacheFile = out
	f.mu.Unlock()
	f.AddReqs(reqs)
	return true, nil
}

// scan asks this file's FileKind for its includes and folds them into the
// requires set, matching File.__Scan.
func (f *File) scan() error {
	f.mu.Lock()
	fk := f.fileKind
	f.mu.Unlock()
	if fk == nil {
		return nil
	}
	refs, err := fk.Includes(scanContext{f})
	if err != nil {
		return err
	}
	var files []*File
	for _, ref := range refs {
		rf, err := f.store.ResolveRef(ref)
		if err != nil {
			return err
		}
		files = append(files, rf)
	}
	f.AddReqs(files)
	return nil
}

type scanContext struct{ f *File }

func (c scanContext) AbsPath() string { return c.f.absPath }
func (c scanContext) RelPath() string { return c.f.relPath }
func (c scanContext) ReadFile() ([]byte, error) {
	b, err := os.ReadFile(c.f.absPath)
	if err != nil {
		return nil, buildererr.Wrap(buildererr.Environment, err, "reading %q", c.f.absPath)
	}
	return b, nil
}

func snapshotFiles(set map[*File]bool) []*File {
	out := make([]*File, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	return out
}

func snapshotJobs(set map[*Job]bool) []*Job {
	out := make([]*Job, 0, len(set))
	for j := range set {
		out = append(out, j)
	}
	return out
}

func buildablesOf(files []*File) []Buildable {
	out := make([]Buildable, 0, len(files))
	for _, f := range files {
		out = append(out, f)
	}
	return out
}

func buildablesOfJobs(jobs []*Job) []Buildable {
	out := make([]Buildable, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j)
	}
	return out
}

func mtime(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.ModTime().UnixNano()
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func ensurePathExists(dir string) error {
	if dir == "" || dir == string(filepath.Separator) {
		return nil
	}
	return os.MkdirAll(dir, 0o777)
}
