// Command jhm is the CLI entry point: it parses flags into a driver.Options,
// registers the builtin demonstration kind set, and runs the build.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"jhm/builtin"
	"jhm/buildererr"
	"jhm/driver"
	"jhm/kinds"
)

var opts driver.Options

func main() {
	os.Exit(run())
}

func run() int {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "jhm:", err)
		if exitCode == 0 {
			exitCode = 1
		}
		return exitCode
	}
	return exitCode
}

// exitCode carries the mapped status out of RunE, since cobra's Execute
// only reports success/failure of the error, not our per-kind codes.
var exitCode int

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "jhm [flags] [target...]",
		Short:         "Infer and build a dependency graph from a source tree",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Targets = args

			reg := kinds.NewRegistry()
			builtin.RegisterDefaults(reg)

			err := driver.Run(opts, reg)
			exitCode = driver.ExitCode(err)
			if err != nil {
				if opts.Debug {
					if be, ok := err.(*buildererr.BuildError); ok {
						fmt.Fprintln(os.Stderr, be.StackTrace())
					}
				}
				return err
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.Arch, "arch", "a", "", "The architecture (x86, x86_64, etc.) to compile for. Default is the host architecture.")
	flags.StringVar(&opts.OS, "os", "", "The operating system (Linux, Windows, etc.) to compile for. Default is the host OS.")
	flags.StringVarP(&opts.Config, "config", "c", "debug", "The configuration to use (debug, release, etc).")
	flags.CountVarP(&opts.Verbose, "verbose", "v", "Level of verbosity to use when compiling. More repetitions means more verbose.")
	flags.StringArrayVarP(&opts.IncDirs, "inc-tree", "I", nil, "A path to use as a tree for input that isn't the primary source tree.")
	flags.BoolVarP(&opts.Force, "force", "f", false, "Force full recompilation.")
	flags.StringVar(&opts.SrcDir, "src-dir", "", "The directory which contains the project source.")
	flags.StringVar(&opts.OutDir, "out-dir", "", "The directory which contains the project output.")
	flags.StringVar(&opts.RootDir, "root-dir", "", "The root directory of the project.")
	flags.StringVar(&opts.ProjectConfDir, "project-conf-dir", "", "The directory where project configuration is located.")
	flags.StringVar(&opts.SysConfDir, "sys-conf-dir", "", "The directory where system configuration is located.")
	flags.StringVar(&opts.UserConfDir, "user-conf-dir", "", "The directory where user configuration is located.")
	flags.IntVar(&opts.NumCores, "num-cores", 0, "The number of concurrent builders to allow. Default is the number of cores on the machine.")
	flags.BoolVar(&opts.NoAutoTargets, "no-auto-targets", false, "Do not use targets listed in the jhm file no matter what.")
	flags.BoolVarP(&opts.Exec, "exec", "x", false, "Execute all executables after successful build.")
	flags.BoolVar(&opts.Debug, "jhm-debug", false, "Show more debugging information, such as printing a stack trace on build errors.")
	flags.BoolVar(&opts.PrintCommands, "print-commands", false, "Print all executed commands.")
	flags.BoolVar(&opts.PrintBuildCommands, "print-build-commands", false, "Print all build related commands.")

	return cmd
}
