package builtin

import "jhm/kinds"

// RegisterDefaults registers the built-in demonstration C-like kind set
// used by the CLI's default registration and the end-to-end scenarios in
// spec §8: .c/.cc source and .h headers (scanned for quoted includes),
// object compilation via cc/c++, and executable linking for anything
// requested under the "bin" branch.
func RegisterDefaults(reg *kinds.Registry) {
	reg.RegisterFileKind(NewCSource("c"))
	reg.RegisterFileKind(NewCSource("cc"))
	reg.RegisterFileKind(NewCSource("h"))
	reg.RegisterJobKind(NewCompile("c", "o", "cc"))
	reg.RegisterJobKind(NewCompile("cc", "o", "c++"))
	reg.RegisterJobKind(NewLink("bin", "cc"))
}
