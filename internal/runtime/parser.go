package runtime

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/relaylabs/relay/pkg/models"
)

// Parser event types.
type ParseEventType string

const (
	EventText      ParseEventType = "text-chunk"
	EventReasoning ParseEventType = "reasoning-chunk"
	EventToolCall  ParseEventType = "tool-call"
	EventEndStep   ParseEventType = "end-step"
)

// ParseEvent is one structured event produced by the stream parser.
type ParseEvent struct {
	Type     ParseEventType
	Text     string
	ToolCall *models.ToolCall
}

// MalformedToolName is the synthetic tool name emitted for broken tool
// syntax; the dispatcher rejects it as unknown, which feeds the error back
// to the model as a tool result.
const MalformedToolName = "malformed_tool_call"

// maxToolBodyBytes bounds the accumulated tool-call body. Bodies beyond the
// cap become a malformed call rather than unbounded buffering.
const maxToolBodyBytes = 10 << 20

const toolOpen = "<tool:"

type parserState int

const (
	stateText parserState = iota
	stateName             // after "<tool:", reading the tool name
	stateBody             // reading the JSON input until the closing '>'
)

// Parser turns a stream of text/reasoning chunks into parse events. Tool
// calls are demarcated as
//
//	<tool:NAME {"arg": ...}>
//
// Text outside delimiters passes through with its original chunk splitting.
// The parser never fails on content: broken syntax degrades to a tool call
// the dispatcher will reject. It is single-pass and bounded; one Parser
// serves one step.
type Parser struct {
	// endsStep reports whether a tool ends the agent step, consulted when a
	// tool-call event is emitted.
	endsStep func(toolName string) bool

	state parserState

	// held retains a trailing partial "<tool:" prefix between Feed calls.
	held string

	name strings.Builder
	body strings.Builder

	// inString/escaped/depth track JSON structure inside the body so '>'
	// inside string values does not close the call.
	inString bool
	escaped  bool
	depth    int

	overflowed bool
	sawEndStep bool
}

// NewParser builds a parser for one step.
func NewParser(endsStep func(toolName string) bool) *Parser {
	if endsStep == nil {
		endsStep = func(string) bool { return false }
	}
	return &Parser{endsStep: endsStep}
}

// Feed consumes one provider chunk and returns the events it completes.
// Reasoning chunks pass through untokenized; tool syntax only appears in
// text chunks.
func (p *Parser) Feed(chunkType, text string) []ParseEvent {
	if text == "" {
		return nil
	}
	if chunkType == "reasoning" {
		return []ParseEvent{{Type: EventReasoning, Text: text}}
	}

	var events []ParseEvent
	input := p.held + text
	p.held = ""

	i := 0
	textStart := 0
	flushText := func(end int) {
		if end > textStart {
			events = append(events, ParseEvent{Type: EventText, Text: input[textStart:end]})
		}
	}

	for i < len(input) {
		switch p.state {
		case stateText:
			idx := strings.IndexByte(input[i:], '<')
			if idx < 0 {
				i = len(input)
				continue
			}
			open := i + idx
			rest := input[open:]
			if len(rest) < len(toolOpen) {
				// Possible partial delimiter at the end of the chunk.
				if strings.HasPrefix(toolOpen, rest) {
					flushText(open)
					p.held = rest
					textStart = len(input)
					i = len(input)
					continue
				}
				i = open + 1
				continue
			}
			if !strings.HasPrefix(rest, toolOpen) {
				i = open + 1
				continue
			}
			flushText(open)
			p.state = stateName
			p.name.Reset()
			p.body.Reset()
			p.inString, p.escaped, p.depth = false, false, 0
			p.overflowed = false
			i = open + len(toolOpen)
			textStart = i

		case stateName:
			c := input[i]
			switch {
			case c == ' ' && p.name.Len() > 0:
				p.state = stateBody
				i++
			case c == '>':
				// Call with no body.
				events = append(events, p.finishCall()...)
				i++
				textStart = i
			case isToolNameChar(c):
				p.name.WriteByte(c)
				i++
			default:
				// Not tool syntax after all; degrade to a malformed call.
				p.body.WriteByte(c)
				events = append(events, p.malformedCall()...)
				i++
				textStart = i
			}

		case stateBody:
			c := input[i]
			if p.body.Len() >= maxToolBodyBytes {
				p.overflowed = true
			}
			if !p.overflowed {
				p.body.WriteByte(c)
			}
			switch {
			case p.escaped:
				p.escaped = false
			case p.inString:
				if c == '\\' {
					p.escaped = true
				} else if c == '"' {
					p.inString = false
				}
			case c == '"':
				p.inString = true
			case c == '{' || c == '[':
				p.depth++
			case c == '}' || c == ']':
				p.depth--
			case c == '>' && p.depth == 0:
				// Closing delimiter; drop the '>' we buffered.
				body := p.body.String()
				p.body.Reset()
				p.body.WriteString(strings.TrimSuffix(body, ">"))
				events = append(events, p.finishCall()...)
				i++
				textStart = i
				continue
			}
			i++
		}
	}

	if p.state == stateText {
		flushText(len(input))
	}
	return events
}

// Close flushes the parser at stream end. A dangling unterminated tool call
// becomes a malformed call event.
func (p *Parser) Close() []ParseEvent {
	var events []ParseEvent
	switch p.state {
	case stateText:
		if p.held != "" {
			events = append(events, ParseEvent{Type: EventText, Text: p.held})
			p.held = ""
		}
	case stateName, stateBody:
		events = append(events, p.malformedCall()...)
	}
	if !p.sawEndStep {
		events = append(events, ParseEvent{Type: EventEndStep})
		p.sawEndStep = true
	}
	return events
}

// finishCall emits the accumulated call, degrading to a malformed call when
// the body is not valid JSON.
func (p *Parser) finishCall() []ParseEvent {
	name := p.name.String()
	body := strings.TrimSpace(p.body.String())
	p.state = stateText

	if p.overflowed || name == "" {
		return p.emitCall(MalformedToolName, json.RawMessage(`{}`))
	}
	if body == "" {
		return p.emitCall(name, json.RawMessage(`{}`))
	}
	if !json.Valid([]byte(body)) {
		return p.emitCall(MalformedToolName, mustRawMessage(map[string]any{
			"toolName": name,
			"raw":      body,
		}))
	}
	return p.emitCall(name, json.RawMessage(body))
}

// malformedCall emits a synthetic call for syntax that never produced a
// complete delimiter.
func (p *Parser) malformedCall() []ParseEvent {
	raw := toolOpen + p.name.String()
	if p.body.Len() > 0 {
		raw += " " + p.body.String()
	}
	p.state = stateText
	return p.emitCall(MalformedToolName, mustRawMessage(map[string]any{"raw": raw}))
}

func (p *Parser) emitCall(name string, input json.RawMessage) []ParseEvent {
	call := &models.ToolCall{
		ID:    uuid.NewString(),
		Name:  name,
		Input: input,
	}
	events := []ParseEvent{{Type: EventToolCall, ToolCall: call}}
	if p.endsStep(name) {
		events = append(events, ParseEvent{Type: EventEndStep})
		p.sawEndStep = true
	}
	return events
}

func isToolNameChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' ||
		c >= '0' && c <= '9' || c == '_' || c == '-'
}

func mustRawMessage(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}
