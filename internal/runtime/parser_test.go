package runtime

import (
	"encoding/json"
	"strings"
	"testing"
)

func collect(p *Parser, chunks ...string) []ParseEvent {
	var events []ParseEvent
	for _, c := range chunks {
		events = append(events, p.Feed("text", c)...)
	}
	events = append(events, p.Close()...)
	return events
}

func eventTypes(events []ParseEvent) []ParseEventType {
	out := make([]ParseEventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func TestParserPlainTextPreservesSplitting(t *testing.T) {
	p := NewParser(nil)

	ev1 := p.Feed("text", "hello ")
	ev2 := p.Feed("text", "world")

	if len(ev1) != 1 || ev1[0].Text != "hello " {
		t.Fatalf("first chunk events = %+v", ev1)
	}
	if len(ev2) != 1 || ev2[0].Text != "world" {
		t.Fatalf("second chunk events = %+v", ev2)
	}
}

func TestParserSingleToolCall(t *testing.T) {
	p := NewParser(nil)
	events := collect(p, "ok, listing.\n<tool:list_directory {\"path\":\".\"}>")

	want := []ParseEventType{EventText, EventToolCall, EventEndStep}
	got := eventTypes(events)
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}

	if events[0].Text != "ok, listing.\n" {
		t.Errorf("text = %q", events[0].Text)
	}
	call := events[1].ToolCall
	if call.Name != "list_directory" {
		t.Errorf("tool name = %q", call.Name)
	}
	if call.ID == "" {
		t.Error("tool call ID should be generated")
	}
	var input map[string]string
	if err := json.Unmarshal(call.Input, &input); err != nil || input["path"] != "." {
		t.Errorf("input = %s", call.Input)
	}
}

func TestParserToolCallSplitAcrossChunks(t *testing.T) {
	p := NewParser(nil)
	events := collect(p, "before <to", "ol:write_file {\"pa", "th\":\"a.go\",\"content\":\"x\"}> after")

	var call *ParseEvent
	var texts []string
	for i := range events {
		switch events[i].Type {
		case EventToolCall:
			call = &events[i]
		case EventText:
			texts = append(texts, events[i].Text)
		}
	}
	if call == nil || call.ToolCall.Name != "write_file" {
		t.Fatalf("missing tool call, events = %+v", events)
	}
	joined := strings.Join(texts, "")
	if joined != "before  after" {
		t.Errorf("surrounding text = %q, want %q", joined, "before  after")
	}
}

func TestParserAngleBracketNotATool(t *testing.T) {
	p := NewParser(nil)
	events := collect(p, "a < b and <div> done")

	for _, e := range events {
		if e.Type == EventToolCall {
			t.Fatalf("unexpected tool call: %+v", e)
		}
	}
	var joined strings.Builder
	for _, e := range events {
		joined.WriteString(e.Text)
	}
	if joined.String() != "a < b and <div> done" {
		t.Errorf("text = %q", joined.String())
	}
}

func TestParserEndStepAfterTerminalTool(t *testing.T) {
	p := NewParser(func(name string) bool { return name == "end_turn" })
	events := p.Feed("text", "done<tool:end_turn {}>ignored")

	got := eventTypes(events)
	foundEnd := false
	for i, typ := range got {
		if typ == EventEndStep {
			foundEnd = true
			if i == 0 || got[i-1] != EventToolCall {
				t.Errorf("end-step should directly follow tool-call, got %v", got)
			}
		}
	}
	if !foundEnd {
		t.Fatalf("no end-step in %v", got)
	}
}

func TestParserMalformedJSONBecomesRejectableCall(t *testing.T) {
	p := NewParser(nil)
	events := collect(p, "<tool:write_file {not json}>")

	var call *ParseEvent
	for i := range events {
		if events[i].Type == EventToolCall {
			call = &events[i]
		}
	}
	if call == nil {
		t.Fatal("expected a tool call event")
	}
	if call.ToolCall.Name != MalformedToolName {
		t.Errorf("tool name = %q, want %q", call.ToolCall.Name, MalformedToolName)
	}
}

func TestParserUnterminatedCallFlushedAtClose(t *testing.T) {
	p := NewParser(nil)
	events := collect(p, "<tool:write_file {\"path\":")

	var sawMalformed bool
	for _, e := range events {
		if e.Type == EventToolCall && e.ToolCall.Name == MalformedToolName {
			sawMalformed = true
		}
	}
	if !sawMalformed {
		t.Fatalf("expected malformed call at close, events = %+v", events)
	}
	if events[len(events)-1].Type != EventEndStep {
		t.Error("close should end the step")
	}
}

func TestParserGtInsideJSONString(t *testing.T) {
	p := NewParser(nil)
	events := collect(p, `<tool:str_replace {"old":"a > b","new":"c"}>`)

	var call *ParseEvent
	for i := range events {
		if events[i].Type == EventToolCall {
			call = &events[i]
		}
	}
	if call == nil || call.ToolCall.Name != "str_replace" {
		t.Fatalf("events = %+v", events)
	}
	var input map[string]string
	if err := json.Unmarshal(call.ToolCall.Input, &input); err != nil {
		t.Fatal(err)
	}
	if input["old"] != "a > b" {
		t.Errorf("old = %q, want %q", input["old"], "a > b")
	}
}

func TestParserReasoningPassesThrough(t *testing.T) {
	p := NewParser(nil)
	events := p.Feed("reasoning", "thinking about <tool:end_turn {}>")

	if len(events) != 1 || events[0].Type != EventReasoning {
		t.Fatalf("events = %+v", events)
	}
	if events[0].Text != "thinking about <tool:end_turn {}>" {
		t.Errorf("reasoning text altered: %q", events[0].Text)
	}
}

func TestParserEmptyBodyCall(t *testing.T) {
	p := NewParser(nil)
	events := collect(p, "<tool:end_turn>")

	var call *ParseEvent
	for i := range events {
		if events[i].Type == EventToolCall {
			call = &events[i]
		}
	}
	if call == nil || call.ToolCall.Name != "end_turn" {
		t.Fatalf("events = %+v", events)
	}
	if string(call.ToolCall.Input) != "{}" {
		t.Errorf("input = %s, want {}", call.ToolCall.Input)
	}
}
