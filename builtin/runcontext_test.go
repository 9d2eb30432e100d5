package builtin

import "jhm/kinds"

// fakeRunContext is a kinds.RunContext double used to test job kind Runners
// and BaseDepends without a live graph.Job, recording the argv it was asked
// to run instead of actually executing anything.
type fakeRunContext struct {
	input    kinds.Ref
	hasInput bool
	outputs  []kinds.Ref
	abs      map[string]string
	config   map[string]map[string]string

	ranArgv []string
	runErr  error
}

func (c *fakeRunContext) Input() (kinds.Ref, bool) { return c.input, c.hasInput }
func (c *fakeRunContext) Outputs() []kinds.Ref      { return c.outputs }
func (c *fakeRunContext) AbsPath(ref kinds.Ref) string {
	if c.abs == nil {
		return "/abs/" + ref.RelPath
	}
	if v, ok := c.abs[ref.RelPath]; ok {
		return v
	}
	return "/abs/" + ref.RelPath
}
func (c *fakeRunContext) Requires() []kinds.Ref { return nil }
func (c *fakeRunContext) Config(section string) map[string]string {
	return c.config[section]
}
func (c *fakeRunContext) Run(argv []string) error {
	c.ranArgv = argv
	return c.runErr
}
