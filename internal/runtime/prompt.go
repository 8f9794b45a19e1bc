package runtime

import (
	"sort"
	"strings"

	"github.com/relaylabs/relay/pkg/models"
)

// maxFileTreeEntries bounds the rendered file tree so huge repositories do
// not dominate the prompt.
const maxFileTreeEntries = 400

// assembleSystemPrompt builds the system prompt for one step: the template's
// own system prompt, the inherited parent system prompt when the template
// asks for it, the instructions prompt, and a rendered file context excerpt.
func assembleSystemPrompt(tmpl *models.AgentTemplate, parentSystem string, fc *models.ProjectFileContext) string {
	var parts []string
	if tmpl.InheritParentSystemPrompt && parentSystem != "" {
		parts = append(parts, parentSystem)
	}
	if tmpl.SystemPrompt != "" {
		parts = append(parts, tmpl.SystemPrompt)
	}
	if tmpl.InstructionsPrompt != "" {
		parts = append(parts, tmpl.InstructionsPrompt)
	}
	if excerpt := renderFileContext(fc); excerpt != "" {
		parts = append(parts, excerpt)
	}
	return strings.Join(parts, "\n\n")
}

// assembleMessages builds the message list sent to the provider: the agent's
// history plus the template step prompt as a trailing user message. The step
// prompt is never persisted to history.
func assembleMessages(st *models.AgentState, tmpl *models.AgentTemplate) []models.Message {
	messages := make([]models.Message, 0, len(st.MessageHistory)+1)
	messages = append(messages, st.MessageHistory...)
	if tmpl.StepPrompt != "" {
		messages = append(messages, models.NewUserMessage(tmpl.StepPrompt))
	}
	return messages
}

// renderFileContext turns the client's project snapshot into prompt text.
func renderFileContext(fc *models.ProjectFileContext) string {
	if fc == nil {
		return ""
	}
	var b strings.Builder

	b.WriteString("# Project context\n")
	if fc.ProjectRoot != "" {
		b.WriteString("Project root: " + fc.ProjectRoot + "\n")
	}
	if fc.CWD != "" {
		b.WriteString("Working directory: " + fc.CWD + "\n")
	}

	if si := fc.SystemInfo; si != nil {
		b.WriteString("\n## System\n")
		if si.Platform != "" {
			b.WriteString("Platform: " + si.Platform + "\n")
		}
		if si.Shell != "" {
			b.WriteString("Shell: " + si.Shell + "\n")
		}
		if si.GitBranch != "" {
			b.WriteString("Git branch: " + si.GitBranch + "\n")
		}
	}

	if gc := fc.GitChanges; gc != nil && (gc.Status != "" || gc.Diff != "") {
		b.WriteString("\n## Git changes\n")
		if gc.Status != "" {
			b.WriteString(gc.Status + "\n")
		}
		if gc.LastCommitMsg != "" {
			b.WriteString("Last commit: " + gc.LastCommitMsg + "\n")
		}
	}

	if len(fc.KnowledgeFiles) > 0 {
		b.WriteString("\n## Knowledge files\n")
		names := make([]string, 0, len(fc.KnowledgeFiles))
		for name := range fc.KnowledgeFiles {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			b.WriteString("### " + name + "\n")
			b.WriteString(fc.KnowledgeFiles[name])
			b.WriteString("\n")
		}
	}

	if len(fc.FileTree) > 0 {
		b.WriteString("\n## File tree\n")
		count := 0
		var walk func(nodes []*models.FileTreeNode, prefix string)
		walk = func(nodes []*models.FileTreeNode, prefix string) {
			for _, node := range nodes {
				if count >= maxFileTreeEntries {
					return
				}
				count++
				path := prefix + node.Name
				if node.Type == "directory" {
					path += "/"
				}
				b.WriteString(path + "\n")
				walk(node.Children, prefix+node.Name+"/")
			}
		}
		walk(fc.FileTree, "")
		if count >= maxFileTreeEntries {
			b.WriteString("... (truncated)\n")
		}
	}

	return strings.TrimRight(b.String(), "\n")
}
