package provider

import "strings"

// Phase is the execution phase a tool belongs to. Setup runs first and
// sequentially, instrument tools run grouped by instrument with bounded
// parallelism, mixing runs last and sequentially.
type Phase string

const (
	PhaseSetup      Phase = "setup"
	PhaseInstrument Phase = "instrument"
	PhaseMixing     Phase = "mixing"
)

// ToolSpec describes one tool in a DAW vocabulary.
type ToolSpec struct {
	Name             string   `yaml:"name" json:"name"`
	Phase            Phase    `yaml:"phase" json:"phase"`
	Description      string   `yaml:"description" json:"description"`
	Required         []string `yaml:"required" json:"required"`
	Optional         []string `yaml:"optional,omitempty" json:"optional,omitempty"`
	InstrumentScoped bool     `yaml:"instrument_scoped" json:"instrumentScoped"`
}

// DAWAdapter isolates a music client's tool vocabulary from the
// variation pipeline. The pipeline only ever asks three questions:
// what tools exist, is this call well-formed, and which phase does it
// run in.
type DAWAdapter interface {
	Name() string
	DescribeTools() []ToolSpec
	ValidateCall(call ToolCall) error
	PhaseFor(tool string) (Phase, bool)
}

func lowerKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
