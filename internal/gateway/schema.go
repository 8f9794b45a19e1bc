package gateway

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/relaylabs/relay/pkg/models"
)

// Inbound frames are schema-validated before dispatch so malformed input is
// rejected at the edge with a clear error instead of surfacing as a nil
// dereference deep in the loop.

type actionSchemaRegistry struct {
	once     sync.Once
	initErr  error
	envelope *jsonschema.Schema
	actions  map[string]*jsonschema.Schema
}

var actionSchemas actionSchemaRegistry

func initActionSchemas() error {
	actionSchemas.once.Do(func() {
		envelope, err := jsonschema.CompileString("action_envelope", actionEnvelopeSchema)
		if err != nil {
			actionSchemas.initErr = err
			return
		}
		actionSchemas.envelope = envelope

		perType := map[string]string{
			models.ActionInit:             initActionSchema,
			models.ActionPrompt:           promptActionSchema,
			models.ActionCancelUserInput:  cancelActionSchema,
			models.ActionToolCallResponse: toolCallResponseSchema,
		}
		actionSchemas.actions = make(map[string]*jsonschema.Schema, len(perType))
		for name, doc := range perType {
			compiled, err := jsonschema.CompileString("action_"+name, doc)
			if err != nil {
				actionSchemas.initErr = err
				return
			}
			actionSchemas.actions[name] = compiled
		}
	})
	return actionSchemas.initErr
}

// decodeAction parses and validates one inbound frame.
func decodeAction(raw []byte) (*models.ClientAction, error) {
	if err := initActionSchemas(); err != nil {
		return nil, err
	}

	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := actionSchemas.envelope.Validate(payload); err != nil {
		return nil, fmt.Errorf("invalid action envelope: %w", err)
	}

	var action models.ClientAction
	if err := json.Unmarshal(raw, &action); err != nil {
		return nil, err
	}
	if schema := actionSchemas.actions[action.Type]; schema != nil {
		if err := schema.Validate(payload); err != nil {
			return nil, fmt.Errorf("invalid %s action: %w", action.Type, err)
		}
	}
	return &action, nil
}

const actionEnvelopeSchema = `{
  "type": "object",
  "required": ["type"],
  "properties": {
    "type": {
      "enum": ["init", "prompt", "cancel-user-input", "tool-call-response"]
    }
  }
}`

const initActionSchema = `{
  "type": "object",
  "properties": {
    "auth_token": { "type": "string" },
    "fingerprint_id": { "type": "string" },
    "file_context": { "type": "object" }
  }
}`

const promptActionSchema = `{
  "type": "object",
  "required": ["prompt_id"],
  "properties": {
    "prompt_id": { "type": "string", "minLength": 1 },
    "prompt": { "type": "string" },
    "content": { "type": "array" },
    "cost_mode": {
      "enum": ["", "ask", "lite", "normal", "max", "experimental"]
    },
    "agent_id": { "type": "string" },
    "repo_url": { "type": "string" },
    "session_state": { "type": "object" },
    "tool_results": { "type": "array" }
  }
}`

const cancelActionSchema = `{
  "type": "object",
  "required": ["user_input_id"],
  "properties": {
    "user_input_id": { "type": "string", "minLength": 1 }
  }
}`

const toolCallResponseSchema = `{
  "type": "object",
  "required": ["user_input_id", "tool_call_id"],
  "properties": {
    "user_input_id": { "type": "string", "minLength": 1 },
    "tool_call_id": { "type": "string", "minLength": 1 },
    "output": { "type": "array" },
    "error": { "type": "string" }
  }
}`
