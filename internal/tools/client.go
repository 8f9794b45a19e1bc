package tools

import (
	"encoding/json"
	"fmt"

	"github.com/relaylabs/relay/pkg/models"
)

// Client tools round-trip to the connected client over the websocket. The
// round trip itself is the observable effect, so handlers wait for the
// previous call before sending the request.

// clientTool builds a definition whose handler forwards the validated call to
// the client and returns whatever the client sends back.
func clientTool(name, description string, schema []byte, endsStep bool) *Definition {
	return &Definition{
		Name:          name,
		Description:   description,
		InputSchema:   schema,
		EndsAgentStep: endsStep,
		Kind:          KindClient,
		Handler: func(hc *HandlerContext) (*Result, error) {
			if hc.CallClient == nil {
				return nil, fmt.Errorf("no client transport for %s", name)
			}
			if err := hc.AwaitPrev(); err != nil {
				return nil, err
			}
			output, err := hc.CallClient(hc.Ctx, hc.Call, nil)
			if err != nil {
				return nil, err
			}
			return &Result{Output: output}, nil
		},
	}
}

// CustomClientTool wraps a client-declared tool definition so it dispatches
// like any other client round trip.
func CustomClientTool(def models.CustomToolDefinition) *Definition {
	schema, err := json.Marshal(def.InputSchema)
	if err != nil || string(schema) == "null" {
		schema = []byte(`{"type":"object"}`)
	}
	return clientTool(def.Name, def.Description, schema, def.EndsAgentStep)
}

func writeFileTool() *Definition {
	return clientTool("write_file",
		"Create or overwrite a file in the client's project.",
		schemaFor[writeFileParams](), true)
}

func strReplaceTool() *Definition {
	return clientTool("str_replace",
		"Replace exact text in a file in the client's project.",
		schemaFor[strReplaceParams](), true)
}

func runTerminalCommandTool() *Definition {
	return clientTool("run_terminal_command",
		"Run a shell command in the client's project and return its output.",
		schemaFor[runTerminalCommandParams](), true)
}

func codeSearchTool() *Definition {
	return clientTool("code_search",
		"Search the client's project for a regular expression.",
		schemaFor[codeSearchParams](), false)
}

func globTool() *Definition {
	return clientTool("glob",
		"Match file paths in the client's project against a glob pattern.",
		schemaFor[globParams](), false)
}

func listDirectoryTool() *Definition {
	return clientTool("list_directory",
		"List a directory in the client's project.",
		schemaFor[listDirectoryParams](), false)
}

func browserLogsTool() *Definition {
	return clientTool("browser_logs",
		"Fetch recent browser console logs from the client's dev session.",
		schemaFor[browserLogsParams](), false)
}

func runFileChangeHooksTool() *Definition {
	return clientTool("run_file_change_hooks",
		"Run the project's configured file-change hooks on the client.",
		schemaFor[runFileChangeHooksParams](), true)
}

// readFilesTool is the one client tool with its own request shape: it maps to
// the request-files action rather than a generic tool round trip, so cached
// content can be served from the file context.
func readFilesTool() *Definition {
	return &Definition{
		Name:        "read_files",
		Description: "Read files from the client's project by path.",
		InputSchema: schemaFor[readFilesParams](),
		Kind:        KindClient,
		Handler: func(hc *HandlerContext) (*Result, error) {
			params, err := decodeArgs[readFilesParams](hc.Args)
			if err != nil {
				return nil, err
			}
			if hc.RequestFiles == nil {
				return nil, fmt.Errorf("no client transport for read_files")
			}
			if err := hc.AwaitPrev(); err != nil {
				return nil, err
			}
			contents, err := hc.RequestFiles(hc.Ctx, params.Paths)
			if err != nil {
				return nil, err
			}

			// Preserve request order; report misses explicitly so the model
			// does not retry blindly.
			output := make([]models.ToolResultOutput, 0, len(params.Paths))
			for _, path := range params.Paths {
				content, ok := contents[path]
				if !ok {
					output = append(output, models.JSONOutput(map[string]any{
						"path":         path,
						"errorMessage": "file not found",
					}))
					continue
				}
				output = append(output, models.JSONOutput(map[string]any{
					"path":    path,
					"content": content,
				}))
			}
			return &Result{Output: output}, nil
		},
	}
}
