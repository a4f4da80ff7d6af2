package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"go2tv.app/castbrowser/internal/castflow"
	"go2tv.app/castbrowser/internal/domain"
)

// Service is the slice of castflow.Flow the tools call into.
type Service interface {
	Detect(snap domain.PageSnapshot) domain.Detection
	Inspect(ctx context.Context, pageURL string) (castflow.Inspection, error)
	ListDevices(ctx context.Context, timeoutMS int, includeUnreachable bool) ([]domain.Device, error)
	Cast(ctx context.Context, req domain.CastRequest) (domain.CastResult, error)
	Stop(ctx context.Context, req domain.StopRequest) (domain.StopResult, error)
	Sessions() []domain.SessionHandle
}

type Server struct {
	transport     *transport
	serverName    string
	serverVersion string
	logger        *slog.Logger
	tools         []tool
	handlers      map[string]toolHandler
	service       Service
}

type Config struct {
	ServerName    string
	ServerVersion string
	Logger        *slog.Logger
	Service       Service
}

// callOutcome is what a tool handler reports back for logging and reply.
type callOutcome struct {
	result    toolCallResult
	deviceID  string
	sessionID string
	errorCode string
}

type toolHandler func(ctx context.Context, args json.RawMessage) (callOutcome, error)

// errInvalidParams makes the server answer with a JSON-RPC -32602 instead of
// a tool result.
var errInvalidParams = errors.New("invalid params")

func New(in io.Reader, out io.Writer, cfg Config) *Server {
	if cfg.ServerName == "" {
		cfg.ServerName = "castbrowser"
	}
	if cfg.ServerVersion == "" {
		cfg.ServerVersion = "dev"
	}

	s := &Server{
		transport:     newTransport(in, out),
		serverName:    cfg.ServerName,
		serverVersion: cfg.ServerVersion,
		logger:        cfg.Logger,
		tools:         staticTools(),
		service:       cfg.Service,
	}
	s.handlers = map[string]toolHandler{
		toolListDevices:  s.listDevices,
		toolDetectVideo:  s.detectVideo,
		toolCastPage:     s.castPage,
		toolCastURL:      s.castURL,
		toolStopCasting:  s.stopCasting,
		toolListSessions: s.listSessions,
	}
	return s
}

func (s *Server) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			s.logLifecycle(slog.LevelInfo, "mcp_context_done", slog.String("reason", ctx.Err().Error()))
			return ctx.Err()
		default:
		}

		wasLocked := s.transport.modeLocked
		payload, err := s.transport.read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.logLifecycle(slog.LevelInfo, "mcp_stream_eof")
				return nil
			}
			s.logLifecycle(slog.LevelError, "mcp_read_error", slog.String("error", err.Error()))
			return err
		}
		if !wasLocked {
			s.logLifecycle(slog.LevelDebug, "mcp_output_mode", slog.String("mode", s.transport.mode()))
		}
		s.logLifecycle(slog.LevelDebug, "mcp_message_received", slog.Int("bytes", len(payload)))

		if err := s.handle(ctx, payload); err != nil {
			s.logLifecycle(slog.LevelError, "mcp_handle_error", slog.String("error", err.Error()))
			return err
		}
	}
}

func (s *Server) handle(ctx context.Context, payload []byte) error {
	startedAt := time.Now()

	var req request
	if err := json.Unmarshal(payload, &req); err != nil {
		s.logCall("parse", "", "", startedAt, "-32700")
		return s.sendError(nil, codeParseError, "parse error")
	}

	// Notifications carry no id and get no reply.
	if len(req.ID) == 0 {
		return nil
	}

	if req.JSONRPC != "" && req.JSONRPC != "2.0" {
		s.logCall(req.Method, "", "", startedAt, "-32600")
		return s.sendError(req.ID, codeInvalidRequest, "invalid request")
	}

	switch req.Method {
	case "initialize":
		s.logCall("initialize", "", "", startedAt, "")
		return s.send(response{JSONRPC: "2.0", ID: req.ID, Result: initializeResult{
			ProtocolVersion: protocolVersion,
			Capabilities: map[string]any{
				"tools": map[string]any{"listChanged": false},
			},
			ServerInfo: map[string]string{
				"name":    s.serverName,
				"version": s.serverVersion,
			},
			Instructions: "Call list_devices to find a receiver, then cast_page with the page that plays the video.",
		}})
	case "ping":
		s.logCall("ping", "", "", startedAt, "")
		return s.send(response{JSONRPC: "2.0", ID: req.ID, Result: map[string]any{}})
	case "tools/list":
		s.logCall("tools/list", "", "", startedAt, "")
		return s.send(response{JSONRPC: "2.0", ID: req.ID, Result: toolsListResult{Tools: s.tools}})
	case "tools/call":
		return s.handleToolCall(ctx, req.ID, req.Params)
	default:
		s.logCall(req.Method, "", "", startedAt, "-32601")
		return s.sendError(req.ID, codeMethodNotFound, "method not found")
	}
}

func (s *Server) handleToolCall(ctx context.Context, id json.RawMessage, rawParams json.RawMessage) error {
	startedAt := time.Now()

	params, err := decodeToolCallParams(rawParams)
	if err != nil {
		s.logCall("tools/call", "", "", startedAt, "-32602")
		return s.sendError(id, codeInvalidParams, "invalid params")
	}

	handler, ok := s.handlers[params.Name]
	if !ok {
		s.logCall(params.Name, "", "", startedAt, "TOOL_NOT_FOUND")
		return s.send(response{
			JSONRPC: "2.0",
			ID:      id,
			Result:  toolErrorResult("TOOL_NOT_FOUND", fmt.Sprintf("unknown tool: %s", params.Name)),
		})
	}

	if s.service == nil {
		s.logCall(params.Name, "", "", startedAt, castflow.CodeInternalError)
		return s.send(response{
			JSONRPC: "2.0",
			ID:      id,
			Result:  toolErrorResult(castflow.CodeInternalError, "cast service is not configured"),
		})
	}

	outcome, err := handler(ctx, params.Arguments)
	if errors.Is(err, errInvalidParams) {
		s.logCall(params.Name, outcome.deviceID, outcome.sessionID, startedAt, "-32602")
		return s.sendError(id, codeInvalidParams, "invalid params")
	}
	if err != nil {
		outcome.result = toolErrorResultFromError(err)
		outcome.errorCode = toolErrorCode(err)
	}

	s.logCall(params.Name, outcome.deviceID, outcome.sessionID, startedAt, outcome.errorCode)
	return s.send(response{JSONRPC: "2.0", ID: id, Result: outcome.result})
}

// decodeToolCallParams accepts both the standard {name, arguments} shape and
// clients that put arguments next to name.
func decodeToolCallParams(raw json.RawMessage) (toolsCallParams, error) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(raw, &payload); err != nil {
		return toolsCallParams{}, err
	}

	var name string
	if nameRaw, ok := payload["name"]; ok {
		if err := json.Unmarshal(nameRaw, &name); err != nil {
			return toolsCallParams{}, err
		}
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return toolsCallParams{}, errors.New("missing tool name")
	}

	arguments, ok := payload["arguments"]
	if !ok {
		flattened := map[string]json.RawMessage{}
		for key, value := range payload {
			if key == "name" || key == "_meta" {
				continue
			}
			flattened[key] = value
		}
		if len(flattened) > 0 {
			normalized, err := json.Marshal(flattened)
			if err != nil {
				return toolsCallParams{}, err
			}
			arguments = normalized
		}
	}

	if len(bytes.TrimSpace(arguments)) == 0 || bytes.Equal(bytes.TrimSpace(arguments), []byte("null")) {
		arguments = json.RawMessage("{}")
	}

	return toolsCallParams{Name: name, Arguments: arguments}, nil
}

func decodeStrict(raw json.RawMessage, out any) error {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return err
	}
	var trailing any
	if err := decoder.Decode(&trailing); err != io.EOF {
		return errors.New("invalid JSON payload")
	}
	return nil
}

func toolErrorResult(code, message string) toolCallResult {
	return toolCallResult{
		Content: []toolContent{{Type: "text", Text: fmt.Sprintf("%s: %s", code, message)}},
		StructuredContent: map[string]any{
			"error": map[string]any{
				"code":    code,
				"message": message,
			},
		},
		IsError: true,
	}
}

func toolErrorResultFromError(err error) toolCallResult {
	var tErr *domain.ToolError
	if !errors.As(err, &tErr) || tErr == nil {
		return toolErrorResult(castflow.CodeInternalError, err.Error())
	}

	result := toolErrorResult(tErr.Code, tErr.Message)
	body := result.StructuredContent.(map[string]any)["error"].(map[string]any)
	if len(tErr.Limitations) > 0 {
		body["limitations"] = tErr.Limitations
	}
	if len(tErr.SuggestedFixes) > 0 {
		body["suggested_fixes"] = tErr.SuggestedFixes
	}
	if len(tErr.Details) > 0 {
		body["details"] = tErr.Details
	}
	return result
}

func toolErrorCode(err error) string {
	var tErr *domain.ToolError
	if errors.As(err, &tErr) && tErr != nil && strings.TrimSpace(tErr.Code) != "" {
		return tErr.Code
	}
	return castflow.CodeInternalError
}

func (s *Server) logCall(method, deviceID, sessionID string, startedAt time.Time, errorCode string) {
	if s == nil || s.logger == nil {
		return
	}
	level := slog.LevelInfo
	if strings.TrimSpace(errorCode) != "" {
		level = slog.LevelError
	}

	s.logger.Log(
		context.Background(),
		level,
		"mcp_call",
		slog.String("method", strings.TrimSpace(method)),
		slog.String("device_id", strings.TrimSpace(deviceID)),
		slog.String("session_id", strings.TrimSpace(sessionID)),
		slog.Int64("duration_ms", time.Since(startedAt).Milliseconds()),
		slog.String("error_code", strings.TrimSpace(errorCode)),
	)
}

func (s *Server) sendError(id json.RawMessage, code int, message string) error {
	return s.send(response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &responseError{Code: code, Message: message},
	})
}

func (s *Server) send(resp response) error {
	encoded, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	s.logLifecycle(slog.LevelDebug, "mcp_send", slog.Int("bytes", len(encoded)))
	return s.transport.write(encoded)
}

func (s *Server) logLifecycle(level slog.Level, msg string, attrs ...any) {
	if s == nil || s.logger == nil {
		return
	}
	s.logger.Log(context.Background(), level, msg, attrs...)
}
