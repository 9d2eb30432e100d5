package builtin

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/dnephin/configtf"
	shlex "github.com/kballard/go-shellquote"

	"jhm/buildererr"
	"jhm/config"
	"jhm/kinds"
	"jhm/logging"
)

// kindSectionPrefix identifies a config section declaring a command kind,
// e.g. "+kind:protoc".
const kindSectionPrefix = "kind:"

// CommandKindSpec is the shape of a declarative "command kind" config
// section — the idiomatic-Go substitute for the original's dynamically
// loaded file_kinds*.py/job_kinds*.py modules (spec §1: Go has no safe
// equivalent to imp.load_source without cgo-linked plugins). A project
// declares a transformation in its own .jhm config instead of Go code:
//
//	+kind:protoc
//	ext=proto
//	out-ext=pb.go
//	command=protoc --go_out=${out} ${in}
type CommandKindSpec struct {
	Ext     string      `config:"required"`
	OutExt  string      `config:"required" config_name:"out-ext"`
	Command CommandLine `config:"required"`
}

// CommandLine is a shell-quoted command template, decoded the same way
// dnephin-buildpipe's config.ShlexSlice turns a JobConfig.Command string
// into argv.
type CommandLine struct {
	original string
	parsed   []string
}

func (c *CommandLine) String() string { return c.original }

// TransformConfig implements configtf's string-to-custom-type hook.
func (c *CommandLine) TransformConfig(raw reflect.Value) error {
	if !raw.IsValid() {
		return fmt.Errorf("must be a string, was undefined")
	}
	value, ok := raw.Interface().(string)
	if !ok {
		return fmt.Errorf("must be a string, not %T", raw.Interface())
	}
	parsed, err := shlex.Split(value)
	if err != nil {
		return fmt.Errorf("failed to parse command %q: %s", value, err)
	}
	c.original = value
	c.parsed = parsed
	return nil
}

// RegisterFromConfig scans cfg for "kind:*" sections and registers a
// CommandJobKind (plus a no-include file kind for its input extension)
// for each.
func RegisterFromConfig(reg *kinds.Registry, cfg *config.Config) error {
	for _, name := range cfg.AllSectionNames() {
		if !strings.HasPrefix(name, kindSectionPrefix) {
			continue
		}
		section := cfg.YieldSection(name)
		values := make(map[string]interface{}, len(section))
		for k, v := range section {
			values[k] = v
		}

		spec := &CommandKindSpec{}
		if err := configtf.Transform(name, values, spec); err != nil {
			return buildererr.Wrap(buildererr.Configuration, err, "parsing command kind %q", name)
		}

		reg.RegisterFileKind(kinds.NoIncl{Base: kinds.Base{KindName: name, KindExt: spec.Ext}})
		reg.RegisterJobKind(CommandJobKind{Spec: *spec})
	}
	return nil
}

// CommandJobKind runs a user-declared shell command template to turn one
// input extension into one output extension, substituting ${in}/${out}
// with the resolved absolute paths.
type CommandJobKind struct {
	Spec CommandKindSpec
}

func (c CommandJobKind) Name() string               { return "kind:" + c.Spec.Ext }
func (c CommandJobKind) InExt() string               { return c.Spec.Ext }
func (c CommandJobKind) OutExts() []string           { return []string{c.Spec.OutExt} }
func (c CommandJobKind) BaseDepends(kinds.RunContext) []kinds.Ref { return nil }

// Depends passes the input's current requires straight through as
// scheduling depends, unlike the builtin Compile kind: a user-declared
// command has no way to tell us its scanned includes don't need to be
// built first, so the safer default is to wait on all of them.
func (c CommandJobKind) Depends(reqSet []kinds.Ref) []kinds.Ref { return reqSet }

func (c CommandJobKind) Input(output kinds.Ref) (kinds.Ref, kinds.InputKind) {
	base, ok := trimExt(output.RelPath, c.Spec.OutExt)
	if !ok {
		return kinds.Ref{}, kinds.NoInput
	}
	return kinds.Ref{RelPath: base + "." + c.Spec.Ext}, kinds.NeedsInput
}

func (c CommandJobKind) Output(input kinds.Ref) ([]kinds.Ref, bool) {
	base, ok := trimExt(input.RelPath, c.Spec.Ext)
	if !ok {
		return nil, false
	}
	return []kinds.Ref{{RelPath: base + "." + c.Spec.OutExt}}, true
}

func (c CommandJobKind) Runner(ctx kinds.RunContext) func() error {
	return func() error {
		in, ok := ctx.Input()
		if !ok {
			return buildererr.New(buildererr.InternalInvariant, "command kind %q invoked without an input", c.Spec.Ext)
		}
		outs := ctx.Outputs()
		if len(outs) != 1 {
			return buildererr.New(buildererr.InternalInvariant, "command kind %q expects exactly one output, got %d", c.Spec.Ext, len(outs))
		}

		replacer := strings.NewReplacer("${in}", ctx.AbsPath(in), "${out}", ctx.AbsPath(outs[0]))
		argv := make([]string, len(c.Spec.Command.parsed))
		for i, tok := range c.Spec.Command.parsed {
			argv[i] = replacer.Replace(tok)
		}

		logging.WithTask("command", in.RelPath).Debug("running ", strings.Join(argv, " "))
		return ctx.Run(argv)
	}
}
