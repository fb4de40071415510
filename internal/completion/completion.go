// ABOUTME: Completer interface, request/response types, and the shared
// ABOUTME: Anthropic-native wire codec used by both backends.

package completion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sentinelops/incident-gateway/internal/transcript"
)

// ErrProtocol indicates the completion service returned a payload missing
// expected fields. It carries transport severity: the conversation aborts.
var ErrProtocol = errors.New("malformed completion response")

// StopReason reports why the model stopped generating.
type StopReason string

// Known stop reasons. The loop branches on the presence of tool_use blocks
// in the content, not on these values; they are carried through for logging
// and for callers that want them.
const (
	StopToolUse StopReason = "tool_use"
	StopEndTurn StopReason = "end_turn"
)

// DefaultMaxTokens bounds a single completion when the request does not say.
const DefaultMaxTokens = 2000

// Request is one stateless completion call.
type Request struct {
	System    string
	Turns     []transcript.Turn
	Tools     []transcript.ToolDescriptor
	MaxTokens int
}

// Usage reports token consumption for one completion.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Completion is the assistant's next turn plus the stop indicator.
type Completion struct {
	Content    []transcript.Block
	StopReason StopReason
	Model      string
	Usage      Usage
}

// Turn wraps the completion content as an assistant transcript turn.
func (c *Completion) Turn() transcript.Turn {
	return transcript.Turn{Role: transcript.RoleAssistant, Content: c.Content}
}

// Completer is the completion service contract. Implementations must be safe
// for concurrent use by independent conversations.
type Completer interface {
	Complete(ctx context.Context, req *Request) (*Completion, error)
}

// wireRequest is the Anthropic Messages API request body. The Bedrock backend
// reuses it with AnthropicVersion set and Model omitted (the model travels as
// the InvokeModel id instead).
type wireRequest struct {
	Model            string            `json:"model,omitempty"`
	AnthropicVersion string            `json:"anthropic_version,omitempty"`
	MaxTokens        int               `json:"max_tokens"`
	System           string            `json:"system,omitempty"`
	Messages         []transcript.Turn `json:"messages"`
	Tools            []wireTool        `json:"tools,omitempty"`
}

type wireTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type wireResponse struct {
	ID         string             `json:"id"`
	Role       string             `json:"role"`
	Content    []transcript.Block `json:"content"`
	Model      string             `json:"model"`
	StopReason string             `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// encodeRequest renders the shared wire body for a request.
func encodeRequest(req *Request, model, anthropicVersion string) ([]byte, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	body := wireRequest{
		Model:            model,
		AnthropicVersion: anthropicVersion,
		MaxTokens:        maxTokens,
		System:           req.System,
		Messages:         req.Turns,
	}
	for _, t := range req.Tools {
		schema := t.InputSchema
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object"}`)
		}
		body.Tools = append(body.Tools, wireTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}
	return json.Marshal(body)
}

// decodeResponse parses a wire response and validates the fields the
// orchestrator depends on.
func decodeResponse(data []byte) (*Completion, error) {
	var w wireResponse
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if w.StopReason == "" {
		return nil, fmt.Errorf("%w: missing stop_reason", ErrProtocol)
	}
	if len(w.Content) == 0 {
		return nil, fmt.Errorf("%w: empty content", ErrProtocol)
	}
	return &Completion{
		Content:    w.Content,
		StopReason: StopReason(w.StopReason),
		Model:      w.Model,
		Usage:      Usage{InputTokens: w.Usage.InputTokens, OutputTokens: w.Usage.OutputTokens},
	}, nil
}
