package tools

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/relaylabs/relay/pkg/models"
)

// EndStepParam is the implicit flag inserted into the input of tools whose
// declaration carries EndsAgentStep. Clients of the model never send it;
// the dispatcher adds it before validation.
const EndStepParam = "codebuff_end_step"

// Registry holds tool definitions and their compiled schemas and dispatches
// validated calls to handlers. Validation failures become tool results, not
// errors; the model self-corrects on the next step.
type Registry struct {
	mu      sync.RWMutex
	defs    map[string]*Definition
	schemas map[string]*jsonschema.Schema
}

// NewRegistry compiles the given definitions into a registry.
func NewRegistry(defs ...*Definition) (*Registry, error) {
	r := &Registry{
		defs:    map[string]*Definition{},
		schemas: map[string]*jsonschema.Schema{},
	}
	for _, d := range defs {
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds one definition, compiling its schema. Tools that end the
// agent step get the implicit end-step parameter added to their schema.
func (r *Registry) Register(def *Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name is required")
	}

	schemaDoc := def.InputSchema
	if len(schemaDoc) == 0 {
		schemaDoc = json.RawMessage(`{"type":"object"}`)
	}
	if def.EndsAgentStep {
		var err error
		schemaDoc, err = withEndStepParam(schemaDoc)
		if err != nil {
			return fmt.Errorf("tool %s: %w", def.Name, err)
		}
	}

	schema, err := jsonschema.CompileString("tool://"+def.Name, string(schemaDoc))
	if err != nil {
		return fmt.Errorf("tool %s: compile schema: %w", def.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.Name]; exists {
		return fmt.Errorf("tool %s already registered", def.Name)
	}
	r.defs[def.Name] = def
	r.schemas[def.Name] = schema
	return nil
}

// Get returns the definition for a tool name.
func (r *Registry) Get(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[name]
	return d, ok
}

// EndsStep reports whether the named tool terminates the agent step.
// Unknown tools do not.
func (r *Registry) EndsStep(name string) bool {
	if d, ok := r.Get(name); ok {
		return d.EndsAgentStep
	}
	return false
}

// Definitions returns all registered definitions.
func (r *Registry) Definitions() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Definition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	return out
}

// Dispatch validates and executes one tool call. It never returns an error
// for tool-level failures: unknown tools, schema violations, and handler
// errors all become a tool result carrying errorMessage. The error return
// is reserved for context cancellation.
func (r *Registry) Dispatch(hc *HandlerContext) (*Result, error) {
	def, ok := r.Get(hc.Call.Name)
	if !ok {
		if err := hc.AwaitPrev(); err != nil {
			return nil, err
		}
		return errResult(fmt.Sprintf("unknown tool %q", hc.Call.Name)), nil
	}

	if def.Kind == KindSpawn {
		// The loop consumes spawn calls before dispatch; reaching here
		// means the template allowed the tool but the loop did not claim
		// it, which the model can recover from.
		if err := hc.AwaitPrev(); err != nil {
			return nil, err
		}
		return errResult(fmt.Sprintf("tool %q cannot be dispatched directly", hc.Call.Name)), nil
	}

	input := hc.Call.Input
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	if def.EndsAgentStep {
		var err error
		input, err = injectEndStepFlag(input)
		if err != nil {
			if werr := hc.AwaitPrev(); werr != nil {
				return nil, werr
			}
			return errResult(fmt.Sprintf("invalid input for %s: %v", def.Name, err)), nil
		}
	}

	var decoded any
	if err := json.Unmarshal(input, &decoded); err != nil {
		if werr := hc.AwaitPrev(); werr != nil {
			return nil, werr
		}
		return errResult(fmt.Sprintf("invalid JSON input for %s: %v", def.Name, err)), nil
	}

	r.mu.RLock()
	schema := r.schemas[def.Name]
	r.mu.RUnlock()
	if err := schema.Validate(decoded); err != nil {
		if werr := hc.AwaitPrev(); werr != nil {
			return nil, werr
		}
		return errResult(fmt.Sprintf("input for %s failed validation: %v", def.Name, err)), nil
	}

	args, _ := decoded.(map[string]any)
	hc.Args = args

	result, err := def.Handler(hc)
	if err != nil {
		if hc.Ctx.Err() != nil {
			return nil, hc.Ctx.Err()
		}
		return errResult(err.Error()), nil
	}
	if result == nil {
		result = &Result{}
	}
	if len(result.Output) == 0 {
		result.Output = []models.ToolResultOutput{models.JSONOutput(map[string]any{})}
	}
	return result, nil
}

func errResult(msg string) *Result {
	return &Result{Output: []models.ToolResultOutput{models.ErrorOutput(msg)}}
}

// withEndStepParam adds the implicit end-step property to a schema document.
func withEndStepParam(schemaDoc json.RawMessage) (json.RawMessage, error) {
	var doc map[string]any
	if err := json.Unmarshal(schemaDoc, &doc); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	props, _ := doc["properties"].(map[string]any)
	if props == nil {
		props = map[string]any{}
	}
	props[EndStepParam] = map[string]any{"const": true}
	doc["properties"] = props
	return json.Marshal(doc)
}

// injectEndStepFlag sets the implicit flag on the call input.
func injectEndStepFlag(input json.RawMessage) (json.RawMessage, error) {
	var obj map[string]any
	if err := json.Unmarshal(input, &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		obj = map[string]any{}
	}
	obj[EndStepParam] = true
	return json.Marshal(obj)
}
