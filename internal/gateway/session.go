package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/relaylabs/relay/internal/runtime"
	"github.com/relaylabs/relay/pkg/models"
)

const (
	maxPayloadBytes = 1 << 20
	pingInterval    = 15 * time.Second
	pongWait        = 45 * time.Second
	writeWait       = 10 * time.Second
	sendBuffer      = 256
)

// session owns one websocket connection: its read and write loops, the
// table of tool calls awaiting a client reply, and the cancel functions of
// prompts in flight.
type session struct {
	server *Server
	conn   *websocket.Conn
	send   chan *models.ServerAction
	ctx    context.Context
	cancel context.CancelFunc

	id string

	mu          sync.Mutex
	fileContext *models.ProjectFileContext
	pending     map[string]chan *models.ClientAction
	prompts     map[string]context.CancelFunc
}

func newSession(server *Server, conn *websocket.Conn) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		server:  server,
		conn:    conn,
		send:    make(chan *models.ServerAction, sendBuffer),
		ctx:     ctx,
		cancel:  cancel,
		id:      uuid.NewString(),
		pending: map[string]chan *models.ClientAction{},
		prompts: map[string]context.CancelFunc{},
	}
}

func (s *session) run() {
	s.server.metrics.ConnectionOpened()
	defer s.server.metrics.ConnectionClosed()
	defer s.close()
	go s.writeLoop()
	s.readLoop()
}

func (s *session) close() {
	s.cancel()
	s.mu.Lock()
	for _, cancelPrompt := range s.prompts {
		cancelPrompt()
	}
	s.mu.Unlock()
	_ = s.conn.Close()
}

func (s *session) readLoop() {
	s.conn.SetReadLimit(maxPayloadBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		action, err := decodeAction(data)
		if err != nil {
			s.enqueue(&models.ServerAction{
				Type:    models.ActionActionError,
				Error:   "Invalid action",
				Message: err.Error(),
			})
			continue
		}
		s.dispatch(action)
	}
}

func (s *session) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case frame := <-s.send:
			data, err := json.Marshal(frame)
			if err != nil {
				s.server.logger.Error(s.ctx, "marshal server action", "error", err)
				continue
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

// enqueue hands a frame to the write loop. Frames are dropped once the
// session is shutting down.
func (s *session) enqueue(frame *models.ServerAction) {
	select {
	case s.send <- frame:
	case <-s.ctx.Done():
	}
}

func (s *session) dispatch(action *models.ClientAction) {
	switch action.Type {
	case models.ActionInit:
		s.handleInit(action)
	case models.ActionPrompt:
		go s.handlePrompt(action)
	case models.ActionCancelUserInput:
		s.handleCancel(action)
	case models.ActionToolCallResponse:
		s.handleToolCallResponse(action)
	}
}

func (s *session) handleInit(action *models.ClientAction) {
	if action.FileContext != nil {
		s.mu.Lock()
		s.fileContext = action.FileContext
		s.mu.Unlock()
	}

	adm, halt := s.server.gate.Admit(s.ctx, action)
	if halt != nil {
		s.enqueue(halt)
		return
	}

	frame := *adm.Usage
	frame.Type = models.ActionInitResponse
	s.enqueue(&frame)
}

// handlePrompt runs the full gated prompt flow. Each prompt gets its own
// cancellable context registered under its userInputId; multiple prompts may
// be in flight on one connection.
func (s *session) handlePrompt(action *models.ClientAction) {
	spanCtx, span := s.server.tracer.TracePromptRun(s.ctx, action.AgentID, action.PromptID)
	defer span.End()

	adm, halt := s.server.gate.Admit(spanCtx, action)
	if halt != nil {
		s.server.tracer.RecordError(span, errors.New(halt.Error))
		s.enqueue(halt)
		return
	}
	s.enqueue(adm.Usage)

	promptCtx, cancelPrompt := context.WithCancel(spanCtx)
	defer cancelPrompt()
	s.registerPrompt(action.PromptID, cancelPrompt)
	defer s.unregisterPrompt(action.PromptID)

	fc := s.promptFileContext(action)
	rc := &runtime.RequestContext{
		UserID:        adm.User.ID,
		FingerprintID: action.FingerprintID,
		PromptID:      action.PromptID,
		SessionID:     s.id,
		RepoURL:       action.RepoURL,
		CostMode:      action.CostMode,
		Org:           adm.Org,
		FileContext:   fc,
	}

	var state *models.AgentState
	if action.SessionState != nil {
		state = action.SessionState.MainAgentState
	}
	state = s.applyOutOfBandResults(state, action.ToolResults)

	result, err := s.server.runner.RunPrompt(promptCtx, rc, runtime.RunParams{
		State:        state,
		AgentType:    action.AgentID,
		Prompt:       action.Prompt,
		Content:      action.Content,
		PromptParams: decodePromptParams(action.PromptParams),
		Bridge:       s.bridge(action.PromptID),
		Emit:         s.eventSink(action.PromptID),
	})
	if err != nil {
		s.server.tracer.RecordError(span, err)
		s.enqueue(&models.ServerAction{
			Type:        models.ActionPromptError,
			UserInputID: action.PromptID,
			Error:       "Prompt rejected",
			Message:     err.Error(),
		})
		return
	}

	s.enqueue(&models.ServerAction{
		Type:     models.ActionPromptResponse,
		PromptID: action.PromptID,
		SessionState: &models.SessionState{
			MainAgentState: result.State,
			FileContext:    fc,
		},
		AgentOutput: result.Output,
	})
}

func (s *session) handleCancel(action *models.ClientAction) {
	s.mu.Lock()
	cancelPrompt, ok := s.prompts[action.UserInputID]
	s.mu.Unlock()
	// Cancelling an unknown or already-finished prompt is a no-op.
	if ok {
		cancelPrompt()
	}
}

func (s *session) handleToolCallResponse(action *models.ClientAction) {
	s.mu.Lock()
	reply, ok := s.pending[action.ToolCallID]
	s.mu.Unlock()
	if !ok {
		s.server.logger.Debug(s.ctx, "tool-call-response without pending call",
			"tool_call_id", action.ToolCallID, "user_input_id", action.UserInputID)
		return
	}
	select {
	case reply <- action:
	default:
		// The handler already took a reply for this id.
	}
}

func (s *session) registerPrompt(promptID string, cancelPrompt context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts[promptID] = cancelPrompt
}

func (s *session) unregisterPrompt(promptID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.prompts, promptID)
}

// promptFileContext prefers the snapshot riding on this prompt's session
// state over the one captured at init.
func (s *session) promptFileContext(action *models.ClientAction) *models.ProjectFileContext {
	if action.SessionState != nil && action.SessionState.FileContext != nil {
		return action.SessionState.FileContext
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fileContext
}

// applyOutOfBandResults appends results of client tools that finished
// between prompts to the resumed history.
func (s *session) applyOutOfBandResults(state *models.AgentState, results []models.Message) *models.AgentState {
	if len(results) == 0 || state == nil {
		return state
	}
	for _, msg := range results {
		if msg.Role != models.RoleTool {
			continue
		}
		state.MessageHistory = append(state.MessageHistory, msg)
	}
	return state
}

// eventSink wraps stream events in response-chunk frames bound to the
// prompt's userInputId. Safe for concurrent use: enqueue serializes on the
// send channel.
func (s *session) eventSink(promptID string) runtime.EventSink {
	return func(event models.StreamEvent) {
		ev := event
		s.enqueue(&models.ServerAction{
			Type:        models.ActionResponseChunk,
			UserInputID: promptID,
			Chunk:       &ev,
		})
	}
}

// bridge implements the client round trips for one prompt. Every request is
// tagged {userInputId, toolCallId} and the reply must carry the same pair.
func (s *session) bridge(promptID string) *runtime.ClientBridge {
	return &runtime.ClientBridge{
		CallClient: func(ctx context.Context, call models.ToolCall, mcp *models.MCPServerConfig) ([]models.ToolResultOutput, error) {
			reply, err := s.roundTrip(ctx, &models.ServerAction{
				Type:        models.ActionRequestToolCall,
				UserInputID: promptID,
				ToolCallID:  call.ID,
				ToolName:    call.Name,
				Input:       call.Input,
				MCPConfig:   mcp,
			}, call.ID)
			if err != nil {
				return nil, err
			}
			if reply.Error != "" {
				return nil, fmt.Errorf("client failed %s: %s", call.Name, reply.Error)
			}
			return reply.Output, nil
		},
		RequestFiles: func(ctx context.Context, paths []string) (map[string]string, error) {
			callID := uuid.NewString()
			reply, err := s.roundTrip(ctx, &models.ServerAction{
				Type:        models.ActionRequestFiles,
				UserInputID: promptID,
				ToolCallID:  callID,
				FilePaths:   paths,
			}, callID)
			if err != nil {
				return nil, err
			}
			if reply.Error != "" {
				return nil, fmt.Errorf("client failed request-files: %s", reply.Error)
			}
			return decodeFileContents(reply.Output), nil
		},
	}
}

// roundTrip sends a server-initiated request and blocks until the client
// replies with the matching toolCallId or the context dies.
func (s *session) roundTrip(ctx context.Context, frame *models.ServerAction, callID string) (*models.ClientAction, error) {
	reply := make(chan *models.ClientAction, 1)
	s.mu.Lock()
	s.pending[callID] = reply
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, callID)
		s.mu.Unlock()
	}()

	s.enqueue(frame)

	select {
	case action := <-reply:
		return action, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ctx.Done():
		return nil, fmt.Errorf("connection closed awaiting %s", callID)
	}
}

// decodeFileContents flattens a read-files reply into path -> content.
// Entries without both fields are misses and stay absent.
func decodeFileContents(output []models.ToolResultOutput) map[string]string {
	contents := make(map[string]string, len(output))
	for _, out := range output {
		entry, ok := out.Value.(map[string]any)
		if !ok {
			continue
		}
		path, _ := entry["path"].(string)
		content, hasContent := entry["content"].(string)
		if strings.TrimSpace(path) == "" || !hasContent {
			continue
		}
		contents[path] = content
	}
	return contents
}

func decodePromptParams(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var params map[string]any
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil
	}
	return params
}
