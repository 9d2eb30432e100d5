// Package driver is the top-level orchestration layer: it resolves the
// project layout and layered config, registers a kind registry, drives
// the scheduler over the requested targets, and (with -x) executes the
// resulting binaries, matching the original's Env.Build/Env.Exec and
// spec §4.7/§6.
package driver

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"jhm/buildererr"
	"jhm/builtin"
	"jhm/config"
	"jhm/graph"
	"jhm/kinds"
	"jhm/logging"
	"jhm/scheduler"
	"jhm/tree"
)

// Options mirrors the CLI surface sufficient to run the core (spec §6).
type Options struct {
	Arch, OS, Config string

	IncDirs                                 []string
	SrcDir, OutDir, RootDir                 string
	ProjectConfDir, UserConfDir, SysConfDir string

	NumCores int
	Force    bool
	Verbose  int
	Debug    bool

	Exec                              bool
	PrintCommands, PrintBuildCommands bool
	NoAutoTargets                     bool

	Targets []string
}

// Run resolves opts into a concrete build, registers reg's file/job
// kinds, builds every requested target, and (with Exec set) runs each
// resulting executable target, matching Env.Build followed by Env.Exec.
func Run(opts Options, reg *kinds.Registry) error {
	logging.Setup(opts.Verbose)
	logging.PrintBuildCommands = opts.PrintBuildCommands
	logging.PrintAllCommands = opts.PrintCommands

	root := opts.RootDir
	if root == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return buildererr.Wrap(buildererr.Environment, err, "getting working directory")
		}
		found, ok := config.FindRoot(cwd)
		if !ok {
			return config.MissingRootError()
		}
		root = found
	}

	cfgOpts := config.Options{
		Arch:           orDefault(opts.Arch, runtime.GOARCH),
		OS:             orDefault(opts.OS, runtime.GOOS),
		Config:         orDefault(opts.Config, "debug"),
		ProjectConfDir: orDefault(opts.ProjectConfDir, filepath.Join(root, ".jhm")),
		UserConfDir:    orDefault(opts.UserConfDir, filepath.Join(homeDir(), ".jhm")),
		SysConfDir:     orDefault(opts.SysConfDir, "/etc/jhm"),
		RootDir:        root,
	}

	cfg, err := config.Load(cfgOpts, cfgOpts.ProjectConfDir, cfgOpts.UserConfDir, cfgOpts.SysConfDir)
	if err != nil {
		return err
	}

	// Config-declared "kind:*" sections are themselves part of the layered
	// config, so they are registered here, the way the original's Env
	// assembles __file_kinds/__job_kinds from its config layers rather
	// than from a separately loaded plugin set.
	if err := builtin.RegisterFromConfig(reg, cfg); err != nil {
		return err
	}

	srcDir := opts.SrcDir
	if srcDir == "" {
		srcDir = filepath.Join(root, "src")
	}
	outDir := opts.OutDir
	if outDir == "" {
		outDir = defaultOutDir(root, cfgOpts)
	}

	incDirs := make([]string, len(opts.IncDirs))
	for i, d := range opts.IncDirs {
		if filepath.IsAbs(d) {
			incDirs[i] = d
		} else {
			incDirs[i] = filepath.Join(root, d)
		}
	}

	trees, err := tree.NewSet(srcDir, outDir, incDirs)
	if err != nil {
		return err
	}

	sched := scheduler.New()
	store := graph.NewStore(trees, reg, cfg, sched, opts.Force)

	targetNames := opts.Targets
	if len(targetNames) == 0 && !opts.NoAutoTargets {
		for name := range cfg.YieldSection("targets") {
			targetNames = append(targetNames, name)
		}
	}
	if len(targetNames) == 0 {
		return buildererr.New(buildererr.Configuration, "no targets specified; pass target paths or add a +targets section")
	}

	cwd, err := os.Getwd()
	if err != nil {
		return buildererr.Wrap(buildererr.Environment, err, "getting working directory")
	}

	targetFiles := make([]*graph.File, 0, len(targetNames))
	for _, name := range targetNames {
		f, err := resolveTargetPath(store, root, cwd, name)
		if err != nil {
			return err
		}
		targetFiles = append(targetFiles, f)
	}

	logging.Log.WithField("targets", targetNames).Info("building")

	sched.AddRequired(buildablesOfFiles(targetFiles))

	numCores := opts.NumCores
	if numCores <= 0 {
		numCores = sysNumCores(cfg)
	}
	if err := sched.Run(numCores); err != nil {
		return err
	}

	var leftover []string
	for _, f := range targetFiles {
		if !f.Done() {
			leftover = append(leftover, f.RelPath())
		}
	}
	if len(leftover) > 0 {
		return buildererr.New(buildererr.IncompleteBuild,
			"build queue drained without finishing: %s", strings.Join(leftover, ", "))
	}

	if opts.Exec {
		return execTargets(targetFiles)
	}
	return nil
}

// resolveTargetPath interprets a target argument the way AddTargetByPath
// does: a path starting with "/" is project-root-relative, anything else
// is resolved against cwd. A genuinely absolute filesystem path that
// already exists is honored directly. The underlying store.GetFileFrom*
// calls already apply the executable-form retry (spec §4.2), so a target
// named "mytool.v2" resolves to the plain executable if that's what's
// actually available.
func resolveTargetPath(store *graph.Store, root, cwd, path string) (*graph.File, error) {
	if filepath.IsAbs(path) {
		if _, err := os.Stat(path); err == nil {
			return store.GetFileFromAbsPath(path)
		}
		return store.GetFileFromRelPath(strings.TrimPrefix(path, "/"))
	}
	return store.GetFileFromAbsPath(filepath.Join(cwd, path))
}

// execTargets runs every target with the executable bit set, in order,
// aborting on the first non-zero exit, matching Env.Exec.
func execTargets(files []*graph.File) error {
	for _, f := range files {
		info, err := os.Stat(f.AbsPath())
		if err != nil || info.Mode()&0o111 == 0 {
			continue
		}
		logging.EchoCommand([]string{f.AbsPath()})
		cmd := exec.Command(f.AbsPath())
		cmd.Stdout, cmd.Stderr, cmd.Stdin = os.Stdout, os.Stderr, os.Stdin
		if err := cmd.Run(); err != nil {
			exitCode := -1
			if ee, ok := err.(*exec.ExitError); ok {
				exitCode = ee.ExitCode()
			}
			return buildererr.CommandError([]string{f.AbsPath()}, exitCode, "", "", err)
		}
	}
	return nil
}

func buildablesOfFiles(files []*graph.File) []scheduler.Buildable {
	out := make([]scheduler.Buildable, len(files))
	for i, f := range files {
		out[i] = f
	}
	return out
}

// defaultOutDir builds out/<config>[-<os>][-<arch>], appending the OS/arch
// suffix only when they differ from the host, matching spec §6's layout.
func defaultOutDir(root string, o config.Options) string {
	name := o.Config
	if o.OS != runtime.GOOS {
		name += "-" + o.OS
	}
	if o.Arch != runtime.GOARCH {
		name += "-" + o.Arch
	}
	return filepath.Join(root, "out", name)
}

// sysNumCores resolves the worker count the same way Env.Build falls
// back to self.GetSysConfig('num_cores', default=cpu_count()). Run only
// calls it when --num-cores was not given: a user or system "num_cores"
// config directive is used if set, and the host's CPU count is the last
// resort.
func sysNumCores(cfg *config.Config) int {
	if v := cfg.GetSys("num_cores", "", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return runtime.NumCPU()
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func homeDir() string {
	h, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return h
}

// ExitCode maps a build result to a process exit status, matching spec
// §6's "0 on success; non-zero on build error, missing producer,
// unparseable config, failed external command, or failure of an executed
// target when -x" — distinguished per error kind for an operator
// scanning exit codes in a script, rather than a single generic 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	be, ok := err.(*buildererr.BuildError)
	if !ok {
		return 1
	}
	switch be.Kind {
	case buildererr.Configuration:
		return 2
	case buildererr.Environment:
		return 3
	case buildererr.Resolution:
		return 4
	case buildererr.Producer:
		return 5
	case buildererr.ExternalCommand:
		return 6
	case buildererr.IncompleteBuild:
		return 7
	default:
		return 1
	}
}
