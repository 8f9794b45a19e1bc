package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/relaylabs/relay/internal/config"
	"github.com/relaylabs/relay/pkg/models"
)

type fakeSearch struct {
	webResult  string
	docsResult string
	err        error
}

func (f *fakeSearch) WebSearch(ctx context.Context, query, depth string) (string, error) {
	return f.webResult, f.err
}

func (f *fakeSearch) ReadDocs(ctx context.Context, libraryTitle, topic string, maxTokens int) (string, error) {
	return f.docsResult, f.err
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	cfg := config.Default()
	reg, err := NewBuiltinRegistry(&fakeSearch{webResult: "results"}, &cfg.Pricing)
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

func call(name, input string) models.ToolCall {
	return models.ToolCall{ID: "tc-1", Name: name, Input: json.RawMessage(input)}
}

func dispatch(t *testing.T, reg *Registry, name string, input string, state *models.AgentState) *Result {
	t.Helper()
	if state == nil {
		state = &models.AgentState{}
	}
	result, err := reg.Dispatch(&HandlerContext{
		Ctx:   context.Background(),
		Call:  models.ToolCall{ID: "tc-1", Name: name, Input: json.RawMessage(input)},
		State: state,
	})
	if err != nil {
		t.Fatalf("dispatch %s: %v", name, err)
	}
	return result
}

func errorMessageOf(t *testing.T, result *Result) string {
	t.Helper()
	if len(result.Output) != 1 {
		t.Fatalf("output = %+v, want one part", result.Output)
	}
	value, ok := result.Output[0].Value.(map[string]any)
	if !ok {
		t.Fatalf("output value = %#v, want map", result.Output[0].Value)
	}
	msg, _ := value["errorMessage"].(string)
	if msg == "" {
		t.Fatalf("no errorMessage in %#v", value)
	}
	return msg
}

func TestDispatchUnknownToolBecomesErrorResult(t *testing.T) {
	reg := testRegistry(t)

	result := dispatch(t, reg, "no_such_tool", `{}`, nil)
	errorMessageOf(t, result)
}

func TestDispatchMalformedCallBecomesErrorResult(t *testing.T) {
	reg := testRegistry(t)

	// The parser rewrites broken syntax to this name; it must reject like
	// any unknown tool, not crash the step.
	result := dispatch(t, reg, "malformed_tool_call", `{"raw":"<tool:oops"}`, nil)
	errorMessageOf(t, result)
}

func TestDispatchValidationFailureIsNonFatal(t *testing.T) {
	reg := testRegistry(t)

	// write_file requires path and content.
	result := dispatch(t, reg, "write_file", `{"path":"a.go"}`, nil)
	msg := errorMessageOf(t, result)
	if msg == "" {
		t.Fatal("expected a validation message")
	}
}

func TestDispatchInjectsEndStepFlag(t *testing.T) {
	cfg := config.Default()
	var seen map[string]any
	def := &Definition{
		Name:          "probe",
		InputSchema:   json.RawMessage(`{"type":"object","required":["codebuff_end_step"]}`),
		EndsAgentStep: true,
		Kind:          KindLocal,
		Handler: func(hc *HandlerContext) (*Result, error) {
			seen = hc.Args
			return &Result{}, nil
		},
	}
	defs := append(BuiltinDefinitions(&fakeSearch{}, &cfg.Pricing), def)
	reg, err := NewRegistry(defs...)
	if err != nil {
		t.Fatal(err)
	}

	// The client never sends the flag; the dispatcher must add it before
	// validation or the required constraint above would reject the call.
	result := dispatch(t, reg, "probe", `{}`, nil)
	if len(result.Output) == 0 {
		t.Fatal("no output")
	}
	if seen[EndStepParam] != true {
		t.Errorf("args = %#v, want %s=true", seen, EndStepParam)
	}
}

func TestDispatchSpawnToolNotDirectlyDispatchable(t *testing.T) {
	reg := testRegistry(t)

	result := dispatch(t, reg, "spawn_agents", `{"agents":[]}`, nil)
	errorMessageOf(t, result)
}

func TestDispatchHandlerErrorBecomesErrorResult(t *testing.T) {
	reg := testRegistry(t)

	// str_replace without a client transport fails inside the handler.
	result := dispatch(t, reg, "str_replace", `{"path":"a.go","old":"x","new":"y"}`, nil)
	errorMessageOf(t, result)
}

func TestEndsStep(t *testing.T) {
	reg := testRegistry(t)

	cases := map[string]bool{
		"end_turn":     true,
		"set_output":   true,
		"write_file":   true,
		"spawn_agents": true,
		"read_files":   false,
		"code_search":  false,
		"unknown":      false,
	}
	for name, want := range cases {
		if got := reg.EndsStep(name); got != want {
			t.Errorf("EndsStep(%s) = %v, want %v", name, got, want)
		}
	}
}
