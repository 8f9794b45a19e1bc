package runtime

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/relaylabs/relay/pkg/models"
)

func TestFlattenMessagesRendersToolCallsInline(t *testing.T) {
	history := []models.Message{
		models.NewUserMessage("list the files"),
		{
			Role:    models.RoleAssistant,
			Content: "Sure.",
			ToolCalls: []models.ToolCall{
				{ID: "tc-1", Name: "list_directory", Input: json.RawMessage(`{"path":"."}`)},
			},
		},
	}

	flat := FlattenMessages(history)
	if len(flat) != 2 {
		t.Fatalf("len(flat) = %d, want 2", len(flat))
	}
	if flat[1].Role != "assistant" {
		t.Fatalf("role = %q, want assistant", flat[1].Role)
	}
	want := "Sure.\n<tool:list_directory {\"path\":\".\"}>"
	if flat[1].Text != want {
		t.Fatalf("text = %q, want %q", flat[1].Text, want)
	}
}

func TestFlattenMessagesToolResultBecomesUserTurn(t *testing.T) {
	history := []models.Message{
		{
			Role:     models.RoleTool,
			ToolName: "code_search",
			ToolResults: []models.ToolResultOutput{
				models.TextOutput("3 matches"),
			},
		},
	}

	flat := FlattenMessages(history)
	if flat[0].Role != "user" {
		t.Fatalf("role = %q, want user", flat[0].Role)
	}
	if !strings.Contains(flat[0].Text, "[tool result for code_search]") {
		t.Fatalf("text missing tool result header: %q", flat[0].Text)
	}
	if !strings.Contains(flat[0].Text, "3 matches") {
		t.Fatalf("text missing result payload: %q", flat[0].Text)
	}
}

func TestFlattenMessagesEmptyToolInputOmitted(t *testing.T) {
	history := []models.Message{
		{
			Role:      models.RoleAssistant,
			ToolCalls: []models.ToolCall{{ID: "tc-1", Name: "end_turn", Input: json.RawMessage(`{}`)}},
		},
	}

	flat := FlattenMessages(history)
	if flat[0].Text != "<tool:end_turn>" {
		t.Fatalf("text = %q, want %q", flat[0].Text, "<tool:end_turn>")
	}
}
