package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/relaylabs/relay/internal/billing"
	"github.com/relaylabs/relay/internal/config"
	"github.com/relaylabs/relay/internal/observability"
	"github.com/relaylabs/relay/internal/retry"
	"github.com/relaylabs/relay/internal/tools"
	"github.com/relaylabs/relay/pkg/models"
)

// Biller is the slice of the billing service the runtime consumes.
type Biller interface {
	ConsumeCredits(ctx context.Context, pt billing.PrincipalType, principalID string, amount int64, kind billing.UsageKind) error
}

// EventSink receives stream events for the client. Implementations must be
// safe for concurrent use; the runtime emits from the reader loop and the
// tool-result collector at once.
type EventSink func(models.StreamEvent)

// ClientBridge is the per-connection transport the runtime uses for
// client-delegated tools. Either func may be nil when no client round trips
// are possible (sub-runs in tests).
type ClientBridge struct {
	CallClient   func(ctx context.Context, call models.ToolCall, mcp *models.MCPServerConfig) ([]models.ToolResultOutput, error)
	RequestFiles func(ctx context.Context, paths []string) (map[string]string, error)
}

// Runner owns the dependencies shared by every agent run.
type Runner struct {
	Providers *ProviderSet
	Registry  *tools.Registry
	Templates *config.TemplateRegistry
	Pricing   *config.PricingConfig
	Billing   Biller
	Logger    *observability.Logger
	Metrics   *observability.Metrics

	// MCP provides MCP-backed tool definitions for templates that declare
	// servers. Nil disables MCP tools.
	MCP *tools.MCPManager

	// Tracer spans steps, LLM streams, and tool dispatches. Nil disables
	// tracing.
	Tracer *observability.Tracer

	// StreamRetry bounds in-step retries of failed LLM streams. Zero value
	// selects retry.DefaultConfig.
	StreamRetry retry.Config
}

func (r *Runner) tracer() *observability.Tracer {
	if r.Tracer != nil {
		return r.Tracer
	}
	return observability.NopTracer()
}

// stepOutcome reports what one step decided.
type stepOutcome struct {
	// endTurn is set when a terminal tool ran.
	endTurn bool

	// spawn is the pending spawn call the loop must execute, if any. The
	// matching tool result is appended by the loop after the children join.
	spawn *models.ToolCall
}

// pendingCall is one in-flight tool execution within a step.
type pendingCall struct {
	call models.ToolCall

	// done closes when the handler finished; it is the next call's
	// previousToolCallFinished.
	done chan struct{}

	result *tools.Result
	err    error
}

// runStep executes exactly one LLM step for one agent: stream, parse,
// dispatch tools on the per-agent FIFO chain, then commit the new messages
// and charge credits. The returned error is fatal to the agent.
func (r *Runner) runStep(
	ctx context.Context,
	rc *RequestContext,
	st *models.AgentState,
	tmpl *models.AgentTemplate,
	registry *tools.Registry,
	parentSystem string,
	bridge *ClientBridge,
	emit EventSink,
) (*stepOutcome, error) {
	provider, err := r.Providers.ForModel(tmpl.Model)
	if err != nil {
		return nil, NewRunError(err).WithKind(KindInternal).WithAgentID(st.AgentID)
	}

	ctx, stepSpan := r.tracer().TraceAgentStep(ctx, st.AgentType, st.StepsRemaining)
	defer stepSpan.End()

	req := CompletionRequest{
		Model:    tmpl.Model,
		System:   assembleSystemPrompt(tmpl, parentSystem, rc.FileContext),
		Messages: assembleMessages(st, tmpl),
	}

	parser := NewParser(registry.EndsStep)

	var (
		outcome      stepOutcome
		assistant    []byte
		pending      []*pendingCall
		lastDone     chan struct{}
		stepEnded    bool
		inputTokens  int
		outputTokens int
	)

	// The collector walks tool calls in order, waits for each handler, and
	// streams the result. FIFO order here is what makes tool effects and
	// tool_result events appear in call order.
	collectQueue := make(chan *pendingCall, 64)
	collectDone := make(chan struct{})
	go func() {
		defer close(collectDone)
		for pc := range collectQueue {
			<-pc.done
			if ctx.Err() != nil {
				continue
			}
			if pc.err != nil || pc.result == nil {
				continue
			}
			emit(models.StreamEvent{
				Type:       models.StreamToolResult,
				AgentID:    st.AgentID,
				ToolCallID: pc.call.ID,
				ToolName:   pc.call.Name,
				Output:     pc.result.Output,
			})
		}
	}()

	handleEvent := func(ev ParseEvent) {
		if stepEnded {
			return
		}
		switch ev.Type {
		case EventText:
			assistant = append(assistant, ev.Text...)
			emit(models.StreamEvent{Type: models.StreamText, AgentID: st.AgentID, Text: ev.Text})

		case EventReasoning:
			emit(models.StreamEvent{Type: models.StreamReasoning, AgentID: st.AgentID, Text: ev.Text})

		case EventEndStep:
			stepEnded = true

		case EventToolCall:
			call := *ev.ToolCall
			if restricted(registry, tmpl, rc.FileContext, call.Name) {
				// The call never reaches the history; the model learns from
				// the error chunk alone.
				emit(models.StreamEvent{
					Type:    models.StreamError,
					AgentID: st.AgentID,
					Message: fmt.Sprintf("Tool %q is not currently available to this agent.", call.Name),
				})
				r.Metrics.RecordError("runtime", "restricted_tool")
				return
			}

			emit(models.StreamEvent{
				Type:       models.StreamToolCall,
				AgentID:    st.AgentID,
				ToolCallID: call.ID,
				ToolName:   call.Name,
				Input:      json.RawMessage(call.Input),
			})

			if def, ok := registry.Get(call.Name); ok && def.Kind == tools.KindSpawn {
				outcome.spawn = &call
				pending = append(pending, &pendingCall{call: call, done: closedChan()})
				return
			}

			pc := &pendingCall{call: call, done: make(chan struct{})}
			prev := lastDone
			lastDone = pc.done
			pending = append(pending, pc)
			go r.dispatchCall(ctx, rc, st, registry, bridge, emit, pc, prev)
			collectQueue <- pc
		}
	}

	streamErr := r.streamWithRetry(ctx, provider, req, func(chunk Chunk) {
		if chunk.Final {
			inputTokens += chunk.InputTokens
			outputTokens += chunk.OutputTokens
			return
		}
		chunkType := "text"
		text := chunk.Text
		if chunk.Reasoning != "" {
			chunkType, text = "reasoning", chunk.Reasoning
		}
		for _, ev := range parser.Feed(chunkType, text) {
			handleEvent(ev)
		}
	})
	for _, ev := range parser.Close() {
		handleEvent(ev)
	}

	// Wait for every handler before returning so nothing writes to state
	// after the step ends, cancelled or not.
	for _, pc := range pending {
		<-pc.done
	}
	close(collectQueue)
	<-collectDone

	if ctx.Err() != nil {
		return nil, NewRunError(ErrPromptCancelled).WithKind(KindAbort).WithAgentID(st.AgentID)
	}
	if streamErr != nil {
		r.tracer().RecordError(stepSpan, streamErr)
		return nil, NewRunError(streamErr).WithKind(KindProvider).WithAgentID(st.AgentID).
			WithMessage("the model provider failed repeatedly")
	}

	r.commitMessages(st, assistant, pending)
	if err := r.chargeStep(ctx, rc, st, tmpl, inputTokens, outputTokens, pending); err != nil {
		return nil, err
	}

	for _, pc := range pending {
		if pc.result != nil && pc.result.EndTurn {
			outcome.endTurn = true
		}
	}
	r.Metrics.RecordAgentStep(st.AgentType)
	return &outcome, nil
}

// dispatchCall runs one tool call through the registry with the transport
// callbacks bound.
func (r *Runner) dispatchCall(
	ctx context.Context,
	rc *RequestContext,
	st *models.AgentState,
	registry *tools.Registry,
	bridge *ClientBridge,
	emit EventSink,
	pc *pendingCall,
	prev chan struct{},
) {
	defer close(pc.done)
	start := time.Now()

	ctx, toolSpan := r.tracer().TraceToolExecution(ctx, pc.call.Name)
	defer toolSpan.End()

	hc := &tools.HandlerContext{
		Ctx:         ctx,
		Call:        pc.call,
		State:       st,
		FileContext: rc.FileContext,
		Logger:      r.Logger,
		Prev:        prev,
		Emit:        emit,
	}
	if bridge != nil {
		hc.CallClient = bridge.CallClient
		hc.RequestFiles = bridge.RequestFiles
	}

	pc.result, pc.err = registry.Dispatch(hc)

	status := "ok"
	if pc.err != nil {
		status = "error"
		r.tracer().RecordError(toolSpan, pc.err)
	}
	r.Metrics.RecordToolExecution(pc.call.Name, status, time.Since(start).Seconds())
}

// streamWithRetry opens the provider stream and replays it through consume.
// A stream that fails before producing any content is retried with backoff;
// one that fails mid-stream is not, because the partial text has already
// been forwarded.
func (r *Runner) streamWithRetry(ctx context.Context, provider LLMProvider, req CompletionRequest, consume func(Chunk)) error {
	cfg := r.StreamRetry
	if cfg.MaxAttempts == 0 {
		cfg = retry.DefaultConfig()
	}

	var consumed bool
	return retry.Do(ctx, cfg, func() error {
		start := time.Now()
		attemptCtx, span := r.tracer().TraceLLMRequest(ctx, provider.Name(), req.Model)
		defer span.End()

		stream, err := provider.StreamCompletion(attemptCtx, req)
		if err != nil {
			r.tracer().RecordError(span, err)
			r.Metrics.RecordLLMRequest(provider.Name(), req.Model, "error", time.Since(start).Seconds(), 0, 0)
			return err
		}
		var in, out int
		for chunk := range stream {
			if chunk.Err != nil {
				r.tracer().RecordError(span, chunk.Err)
				r.Metrics.RecordLLMRequest(provider.Name(), req.Model, "error", time.Since(start).Seconds(), in, out)
				if consumed {
					// Partial output is already on the wire; restarting
					// would duplicate it.
					return retry.Permanent(chunk.Err)
				}
				return chunk.Err
			}
			if chunk.Final {
				in, out = chunk.InputTokens, chunk.OutputTokens
			} else {
				consumed = true
			}
			consume(chunk)
		}
		r.Metrics.RecordLLMRequest(provider.Name(), req.Model, "ok", time.Since(start).Seconds(), in, out)
		return nil
	})
}

// commitMessages appends the assistant message and the tool results, in call
// order, to the agent's history. Spawn results are appended later by the
// loop once the children join.
func (r *Runner) commitMessages(st *models.AgentState, assistant []byte, pending []*pendingCall) {
	calls := make([]models.ToolCall, 0, len(pending))
	for _, pc := range pending {
		calls = append(calls, pc.call)
	}
	if len(assistant) > 0 || len(calls) > 0 {
		st.MessageHistory = append(st.MessageHistory, models.Message{
			Role:      models.RoleAssistant,
			Content:   string(assistant),
			ToolCalls: calls,
		})
	}
	for _, pc := range pending {
		if pc.result == nil {
			continue
		}
		st.MessageHistory = append(st.MessageHistory, models.NewToolMessage(pc.call, pc.result.Output))
	}
}

// chargeStep converts observed token usage and flat tool charges into
// credits on the agent and the ledger.
func (r *Runner) chargeStep(
	ctx context.Context,
	rc *RequestContext,
	st *models.AgentState,
	tmpl *models.AgentTemplate,
	inputTokens, outputTokens int,
	pending []*pendingCall,
) error {
	pt, principalID := rc.Principal()

	llmCredits := r.Pricing.CreditsForTokens(tmpl.Model, inputTokens, outputTokens)
	if llmCredits > 0 {
		st.CreditsUsed += llmCredits
		st.DirectCreditsUsed += llmCredits
		if err := r.Billing.ConsumeCredits(ctx, pt, principalID, llmCredits, billing.UsageLLM); err != nil {
			return NewRunError(err).WithKind(KindInternal).WithAgentID(st.AgentID).
				WithMessage("failed to record credit usage")
		}
	}

	var toolCredits int64
	for _, pc := range pending {
		if pc.result != nil {
			toolCredits += pc.result.CreditsUsed
		}
	}
	if toolCredits > 0 {
		st.CreditsUsed += toolCredits
		st.DirectCreditsUsed += toolCredits
		if err := r.Billing.ConsumeCredits(ctx, pt, principalID, toolCredits, billing.UsageTool); err != nil {
			return NewRunError(err).WithKind(KindInternal).WithAgentID(st.AgentID).
				WithMessage("failed to record credit usage")
		}
	}
	return nil
}

// restricted reports whether the template forbids the named tool. Unknown
// names are not restricted: the dispatcher turns them into an error result
// the model can read, which also covers the parser's synthetic malformed
// calls.
func restricted(registry *tools.Registry, tmpl *models.AgentTemplate, fc *models.ProjectFileContext, name string) bool {
	if _, known := registry.Get(name); !known {
		return false
	}
	if tmpl.AllowsTool(name) {
		return false
	}
	return !allowedOutsideTemplate(tmpl, fc, name)
}

// allowedOutsideTemplate covers tools admitted without a toolNames entry:
// MCP tools from the template's declared servers and the client's custom
// tool definitions.
func allowedOutsideTemplate(tmpl *models.AgentTemplate, fc *models.ProjectFileContext, name string) bool {
	for serverName := range tmpl.MCPServers {
		if len(name) > len(serverName)+1 && name[:len(serverName)+1] == serverName+"_" {
			return true
		}
	}
	if fc != nil {
		for _, def := range fc.CustomToolDefinitions {
			if def.Name == name {
				return true
			}
		}
	}
	return false
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
