package runtime

import (
	"encoding/json"
	"strings"

	"github.com/relaylabs/relay/pkg/models"
)

// FlatMessage is a provider-neutral rendering of one history entry. Tool
// calls and results are folded back into text using the same delimiter
// syntax the parser reads, so the replayed conversation matches what the
// model originally produced.
type FlatMessage struct {
	Role string
	Text string
}

// FlattenMessages renders a message history for a text-streaming provider.
// System messages pass through for the caller to fold into the system
// prompt; consecutive tool results become user messages.
func FlattenMessages(messages []models.Message) []FlatMessage {
	out := make([]FlatMessage, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case models.RoleAssistant:
			var b strings.Builder
			b.WriteString(msg.Content)
			for _, call := range msg.ToolCalls {
				if b.Len() > 0 {
					b.WriteString("\n")
				}
				b.WriteString(toolOpen)
				b.WriteString(call.Name)
				if len(call.Input) > 0 && string(call.Input) != "{}" {
					b.WriteString(" ")
					b.Write(call.Input)
				}
				b.WriteString(">")
			}
			out = append(out, FlatMessage{Role: "assistant", Text: b.String()})

		case models.RoleTool:
			raw, err := json.Marshal(msg.ToolResults)
			if err != nil {
				raw = []byte(`[]`)
			}
			out = append(out, FlatMessage{
				Role: "user",
				Text: "[tool result for " + msg.ToolName + "]\n" + string(raw),
			})

		default:
			out = append(out, FlatMessage{Role: string(msg.Role), Text: msg.Content})
		}
	}
	return out
}
