package tools

import "github.com/relaylabs/relay/internal/config"

// BuiltinDefinitions returns every builtin tool. Agent templates select a
// subset by name; the registry holds the full set so any template-listed
// tool resolves.
func BuiltinDefinitions(search SearchClient, pricing *config.PricingConfig) []*Definition {
	return []*Definition{
		// Local state tools.
		endTurnTool(),
		setOutputTool(),
		addMessageTool(),
		addSubgoalTool(),
		updateSubgoalTool(),
		thinkDeeplyTool(),

		// Client round trips.
		readFilesTool(),
		writeFileTool(),
		strReplaceTool(),
		runTerminalCommandTool(),
		codeSearchTool(),
		globTool(),
		listDirectoryTool(),
		browserLogsTool(),
		runFileChangeHooksTool(),

		// Server-executed, credit-charging tools.
		webSearchTool(search, pricing),
		readDocsTool(search, pricing),

		// Spawn tools, claimed by the loop before dispatch.
		spawnAgentsTool(),
		spawnAgentInlineTool(),
	}
}

// NewBuiltinRegistry compiles the builtin tool set.
func NewBuiltinRegistry(search SearchClient, pricing *config.PricingConfig) (*Registry, error) {
	return NewRegistry(BuiltinDefinitions(search, pricing)...)
}
