// Package logging sets up the shared logrus logger used across jhm,
// following the same WithFields-per-component style as the task logging
// in dobi (e.g. its per-task "task"/"name" fields).
package logging

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

// Log is the package-level logger every component logs through.
var Log = logrus.New()

// PrintBuildCommands and PrintAllCommands mirror the CLI's --print-commands/
// --print-build-commands flags: when set, EchoCommand writes argv to stdout
// before it runs, independent of the logger's level.
var (
	PrintBuildCommands bool
	PrintAllCommands   bool
)

// EchoCommand writes argv to stdout if command echoing is enabled for build
// commands (print-build-commands) or every command (print-commands).
func EchoCommand(argv []string) {
	if PrintBuildCommands || PrintAllCommands {
		fmt.Println(strings.Join(argv, " "))
	}
}

// Setup configures Log's level and formatter. verbosity follows the CLI's
// repeatable -v counter: 0 = warn, 1 = info, 2+ = debug.
func Setup(verbosity int) {
	switch {
	case verbosity >= 2:
		Log.SetLevel(logrus.DebugLevel)
	case verbosity == 1:
		Log.SetLevel(logrus.InfoLevel)
	default:
		Log.SetLevel(logrus.WarnLevel)
	}

	isTTY := term.IsTerminal(int(os.Stdout.Fd()))
	Log.SetFormatter(&logrus.TextFormatter{
		DisableColors:    !isTTY,
		FullTimestamp:    false,
		DisableTimestamp: !isTTY,
	})
}

// WithTask returns an entry tagged with the kind/name of the File or Job
// being processed, using "kind"/"name" fields (dobi's "task"/"name"
// convention, renamed to File/Job terminology).
func WithTask(kind, name string) *logrus.Entry {
	return Log.WithFields(logrus.Fields{"kind": kind, "name": name})
}
