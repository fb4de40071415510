// ABOUTME: Session manages one MCP stdio subprocess per conversation with lazy
// ABOUTME: start, cached tool discovery, serialized invocation, and teardown.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/sentinelops/incident-gateway/internal/transcript"
)

// ErrTransport indicates the registry process could not be started or the
// channel to it broke. Not retried within a conversation.
var ErrTransport = errors.New("tool registry transport failure")

// ErrProtocol indicates the registry answered with a malformed shape. Treated
// with the same severity as ErrTransport.
var ErrProtocol = errors.New("tool registry protocol violation")

const defaultHandshakeTimeout = 30 * time.Second

// ToolOutput is a normalized invocation result. IsError marks tool-level
// failure, which is fed back to the model rather than aborting the loop.
type ToolOutput struct {
	Text    string
	IsError bool
}

// rpcClient is the slice of the MCP client a Session uses. Tests substitute a
// fake; production wraps client.NewStdioMCPClient.
type rpcClient interface {
	Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// Config describes how to spawn the registry subprocess.
type Config struct {
	// Command is the registry executable; Args are passed verbatim.
	Command string
	Args    []string

	// Env entries (KEY=VALUE) appended to the parent environment.
	Env []string

	// HandshakeTimeout bounds process start plus the initialize exchange.
	HandshakeTimeout time.Duration

	Logger *slog.Logger
}

// Session is the bound lifetime of one registry subprocess, used for all tool
// calls within one conversation. Not shared across conversations.
type Session struct {
	cfg Config

	mu      sync.Mutex // serializes the request/response channel
	client  rpcClient
	started bool
	tools   []transcript.ToolDescriptor

	// dial is swapped by tests to avoid spawning a real process.
	dial func() (rpcClient, error)
}

// NewSession prepares a session. The subprocess is not started until the
// first ListTools or Invoke call.
func NewSession(cfg Config) *Session {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default().With("component", "gateway")
	}
	s := &Session{cfg: cfg}
	s.dial = func() (rpcClient, error) {
		env := append(os.Environ(), cfg.Env...)
		return client.NewStdioMCPClient(cfg.Command, env, cfg.Args...)
	}
	return s
}

// ensureStarted spawns the subprocess and runs the initialize handshake.
// Caller holds s.mu. A failed start is sticky for the session; the caller
// retries the whole conversation, not the handshake.
func (s *Session) ensureStarted(ctx context.Context) error {
	if s.started {
		if s.client == nil {
			return fmt.Errorf("%w: session already closed", ErrTransport)
		}
		return nil
	}
	s.started = true

	c, err := s.dial()
	if err != nil {
		return fmt.Errorf("%w: starting %s: %v", ErrTransport, s.cfg.Command, err)
	}

	hctx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	defer cancel()

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "incident-gateway",
		Version: "1.0.0",
	}
	if _, err := c.Initialize(hctx, initReq); err != nil {
		c.Close()
		return fmt.Errorf("%w: initialize handshake: %v", ErrTransport, err)
	}

	s.client = c
	s.cfg.Logger.Debug("tool registry session started", "command", s.cfg.Command)
	return nil
}

// ListTools performs capability discovery. The descriptor set is fetched once
// per session and served from cache afterwards; capability changes
// mid-conversation are out of scope.
func (s *Session) ListTools(ctx context.Context) ([]transcript.ToolDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tools != nil {
		return s.tools, nil
	}
	if err := s.ensureStarted(ctx); err != nil {
		return nil, err
	}

	result, err := s.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("%w: tools/list: %v", ErrTransport, err)
	}
	if result == nil {
		return nil, fmt.Errorf("%w: tools/list returned no result", ErrProtocol)
	}

	descriptors := make([]transcript.ToolDescriptor, 0, len(result.Tools))
	for _, t := range result.Tools {
		schema, err := toolSchema(t)
		if err != nil {
			return nil, fmt.Errorf("%w: tool %q schema: %v", ErrProtocol, t.Name, err)
		}
		descriptors = append(descriptors, transcript.ToolDescriptor{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}
	s.tools = descriptors
	s.cfg.Logger.Debug("tool capabilities discovered", "count", len(descriptors))
	return descriptors, nil
}

// Invoke executes one named tool and normalizes the heterogeneous result
// parts to text. A tool-level failure comes back as ToolOutput.IsError, never
// as a Go error.
func (s *Session) Invoke(ctx context.Context, name string, args map[string]any) (*ToolOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureStarted(ctx); err != nil {
		return nil, err
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	result, err := s.client.CallTool(ctx, req)
	if err != nil {
		var terr *transport.Error
		if errors.As(err, &terr) {
			return nil, fmt.Errorf("%w: tools/call %s: %v", ErrTransport, name, err)
		}
		// The registry answered with a structured error (unknown tool, bad
		// arguments). That is a tool-level failure the model gets to see,
		// not a broken channel.
		s.cfg.Logger.Warn("tool call rejected", "tool", name, "error", err)
		return &ToolOutput{
			Text:    "MCP Tool Error: " + err.Error(),
			IsError: true,
		}, nil
	}
	if result == nil {
		return nil, fmt.Errorf("%w: tools/call %s returned no result", ErrProtocol, name)
	}

	return &ToolOutput{
		Text:    normalizeContent(result.Content),
		IsError: result.IsError,
	}, nil
}

// Close terminates the subprocess. Safe to call multiple times and before
// first use; always called when the conversation ends, on every exit path.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.client
	s.client = nil
	if c == nil {
		return nil
	}
	if err := c.Close(); err != nil {
		return fmt.Errorf("closing tool registry session: %w", err)
	}
	return nil
}

// toolSchema extracts the declared input schema of an advertised tool.
func toolSchema(t mcp.Tool) (json.RawMessage, error) {
	if len(t.RawInputSchema) > 0 {
		return t.RawInputSchema, nil
	}
	return json.Marshal(t.InputSchema)
}

// normalizeContent flattens result parts to their textual representation,
// joined with a line separator. Non-text parts are rendered as JSON so the
// model still sees something actionable.
func normalizeContent(parts []mcp.Content) string {
	texts := make([]string, 0, len(parts))
	for _, part := range parts {
		switch p := part.(type) {
		case mcp.TextContent:
			texts = append(texts, p.Text)
		case *mcp.TextContent:
			texts = append(texts, p.Text)
		default:
			if data, err := json.Marshal(part); err == nil {
				texts = append(texts, string(data))
			} else {
				texts = append(texts, fmt.Sprintf("%v", part))
			}
		}
	}
	return strings.Join(texts, "\n")
}
