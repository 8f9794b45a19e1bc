package tools

import (
	"fmt"

	"github.com/relaylabs/relay/pkg/models"
)

// Local tools run in-process and mutate agent state. Every handler waits for
// the previous call in the step before touching state so mutations land in
// call order even though handlers start concurrently.

func endTurnTool() *Definition {
	return &Definition{
		Name:          "end_turn",
		Description:   "Finish the agent's turn. No further steps run after this tool.",
		InputSchema:   schemaFor[endTurnParams](),
		EndsAgentStep: true,
		Kind:          KindLocal,
		Handler: func(hc *HandlerContext) (*Result, error) {
			if err := hc.AwaitPrev(); err != nil {
				return nil, err
			}
			return &Result{
				Output:  []models.ToolResultOutput{models.JSONOutput(map[string]any{"ended": true})},
				EndTurn: true,
			}, nil
		},
	}
}

func setOutputTool() *Definition {
	return &Definition{
		Name:          "set_output",
		Description:   "Report structured output to the parent agent and finish the turn.",
		InputSchema:   schemaFor[setOutputParams](),
		EndsAgentStep: true,
		Kind:          KindLocal,
		Handler: func(hc *HandlerContext) (*Result, error) {
			params, err := decodeArgs[setOutputParams](hc.Args)
			if err != nil {
				return nil, err
			}
			if err := hc.AwaitPrev(); err != nil {
				return nil, err
			}
			hc.State.Output = &models.AgentOutput{Type: "success", Value: params.Output}
			return &Result{
				Output:  []models.ToolResultOutput{models.JSONOutput(map[string]any{"set": true})},
				EndTurn: true,
			}, nil
		},
	}
}

func addMessageTool() *Definition {
	return &Definition{
		Name:        "add_message",
		Description: "Append a synthetic message to the agent's own history.",
		InputSchema: schemaFor[addMessageParams](),
		Kind:        KindLocal,
		Handler: func(hc *HandlerContext) (*Result, error) {
			params, err := decodeArgs[addMessageParams](hc.Args)
			if err != nil {
				return nil, err
			}
			if err := hc.AwaitPrev(); err != nil {
				return nil, err
			}
			hc.State.MessageHistory = append(hc.State.MessageHistory, models.Message{
				Role:    models.Role(params.Role),
				Content: params.Content,
			})
			return &Result{
				Output: []models.ToolResultOutput{models.JSONOutput(map[string]any{"added": true})},
			}, nil
		},
	}
}

func addSubgoalTool() *Definition {
	return &Definition{
		Name:        "add_subgoal",
		Description: "Record a new subgoal on the agent's scratchpad.",
		InputSchema: schemaFor[addSubgoalParams](),
		Kind:        KindLocal,
		Handler: func(hc *HandlerContext) (*Result, error) {
			params, err := decodeArgs[addSubgoalParams](hc.Args)
			if err != nil {
				return nil, err
			}
			if err := hc.AwaitPrev(); err != nil {
				return nil, err
			}
			if hc.State.Subgoals == nil {
				hc.State.Subgoals = map[string]*models.Subgoal{}
			}
			if _, exists := hc.State.Subgoals[params.ID]; exists {
				return errResult(fmt.Sprintf("subgoal %q already exists", params.ID)), nil
			}
			hc.State.Subgoals[params.ID] = &models.Subgoal{
				Objective: params.Objective,
				Status:    params.Status,
				Plan:      params.Plan,
			}
			return &Result{
				Output: []models.ToolResultOutput{models.JSONOutput(map[string]any{"id": params.ID})},
			}, nil
		},
	}
}

func updateSubgoalTool() *Definition {
	return &Definition{
		Name:        "update_subgoal",
		Description: "Update the status, plan, or log of an existing subgoal.",
		InputSchema: schemaFor[updateSubgoalParams](),
		Kind:        KindLocal,
		Handler: func(hc *HandlerContext) (*Result, error) {
			params, err := decodeArgs[updateSubgoalParams](hc.Args)
			if err != nil {
				return nil, err
			}
			if err := hc.AwaitPrev(); err != nil {
				return nil, err
			}
			goal, ok := hc.State.Subgoals[params.ID]
			if !ok {
				return errResult(fmt.Sprintf("no subgoal %q", params.ID)), nil
			}
			if params.Status != "" {
				goal.Status = params.Status
			}
			if params.Plan != "" {
				goal.Plan = params.Plan
			}
			if params.Log != "" {
				if goal.Log != "" {
					goal.Log += "\n"
				}
				goal.Log += params.Log
			}
			return &Result{
				Output: []models.ToolResultOutput{models.JSONOutput(map[string]any{"id": params.ID})},
			}, nil
		},
	}
}

func thinkDeeplyTool() *Definition {
	return &Definition{
		Name:        "think_deeply",
		Description: "Record extended reasoning. Has no side effects beyond the history.",
		InputSchema: schemaFor[thinkDeeplyParams](),
		Kind:        KindLocal,
		Handler: func(hc *HandlerContext) (*Result, error) {
			if _, err := decodeArgs[thinkDeeplyParams](hc.Args); err != nil {
				return nil, err
			}
			if err := hc.AwaitPrev(); err != nil {
				return nil, err
			}
			return &Result{
				Output: []models.ToolResultOutput{models.JSONOutput(map[string]any{"noted": true})},
			}, nil
		},
	}
}
