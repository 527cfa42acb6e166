package provider

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	apperrors "musehub.io/musehub/internal/pkg/errors"
)

//go:embed registry.yaml
var registryYAML []byte

type registryManifest struct {
	Adapter string     `yaml:"adapter"`
	Tools   []ToolSpec `yaml:"tools"`
}

// StandardAdapter is the built-in Muse tool vocabulary, loaded from the
// embedded manifest.
type StandardAdapter struct {
	name  string
	specs map[string]ToolSpec
}

// NewStandardAdapter parses the embedded tool manifest. The manifest is
// compiled in, so a parse failure is a build defect and surfaces at
// startup.
func NewStandardAdapter() (*StandardAdapter, error) {
	return newAdapterFromManifest(registryYAML)
}

func newAdapterFromManifest(raw []byte) (*StandardAdapter, error) {
	var m registryManifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse tool manifest: %w", err)
	}
	if m.Adapter == "" {
		return nil, fmt.Errorf("tool manifest missing adapter name")
	}
	specs := make(map[string]ToolSpec, len(m.Tools))
	for _, spec := range m.Tools {
		if spec.Name == "" {
			return nil, fmt.Errorf("tool manifest entry missing name")
		}
		switch spec.Phase {
		case PhaseSetup, PhaseInstrument, PhaseMixing:
		default:
			return nil, fmt.Errorf("tool %s: unknown phase %q", spec.Name, spec.Phase)
		}
		if _, dup := specs[spec.Name]; dup {
			return nil, fmt.Errorf("tool %s declared twice", spec.Name)
		}
		specs[spec.Name] = spec
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("tool manifest declares no tools")
	}
	return &StandardAdapter{name: m.Adapter, specs: specs}, nil
}

func (a *StandardAdapter) Name() string { return a.name }

// DescribeTools returns all tool specs sorted by name.
func (a *StandardAdapter) DescribeTools() []ToolSpec {
	out := make([]ToolSpec, 0, len(a.specs))
	for _, spec := range a.specs {
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// PhaseFor reports the phase a tool runs in.
func (a *StandardAdapter) PhaseFor(tool string) (Phase, bool) {
	spec, ok := a.specs[tool]
	if !ok {
		return "", false
	}
	return spec.Phase, true
}

// ValidateCall checks that a planned call names a known tool, carries
// every required argument, and sets an instrument key exactly when the
// tool is instrument-scoped. Argument values are narrowed later by the
// executor; this is the shape check.
func (a *StandardAdapter) ValidateCall(call ToolCall) error {
	spec, ok := a.specs[call.Name]
	if !ok {
		return apperrors.Unprocessable(apperrors.CodeValidationFailed, "unknown tool: "+call.Name)
	}
	if spec.InstrumentScoped && call.Instrument == "" {
		return apperrors.Unprocessable(apperrors.CodeValidationFailed,
			"tool "+call.Name+" requires an instrument key")
	}

	var args map[string]json.RawMessage
	if len(call.Args) > 0 {
		if err := json.Unmarshal(call.Args, &args); err != nil {
			return apperrors.Unprocessable(apperrors.CodeValidationFailed,
				"tool "+call.Name+": args must be a JSON object")
		}
	}
	var missing []string
	for _, req := range spec.Required {
		if _, present := args[req]; !present {
			missing = append(missing, req)
		}
	}
	if len(missing) > 0 {
		return apperrors.Unprocessable(apperrors.CodeValidationFailed,
			"tool "+call.Name+": missing required args").
			WithParams(map[string]interface{}{"missing": missing})
	}
	return nil
}
