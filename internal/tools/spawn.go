package tools

// Spawn tools have no handler: the agent loop claims their calls before
// dispatch, runs the children, and writes the synthetic tool result itself.
// The definitions exist so spawn calls validate like every other tool.

func spawnAgentsTool() *Definition {
	return &Definition{
		Name:          "spawn_agents",
		Description:   "Spawn sub-agents in parallel and wait for all of them.",
		InputSchema:   schemaFor[spawnAgentsParams](),
		EndsAgentStep: true,
		Kind:          KindSpawn,
	}
}

func spawnAgentInlineTool() *Definition {
	return &Definition{
		Name:          "spawn_agent_inline",
		Description:   "Spawn one sub-agent whose conversation is inlined into this agent's history.",
		InputSchema:   schemaFor[spawnAgentInlineParams](),
		EndsAgentStep: true,
		Kind:          KindSpawn,
	}
}
