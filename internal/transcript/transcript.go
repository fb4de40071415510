// ABOUTME: Turn, Block, and Transcript types plus the tool_use/tool_result
// ABOUTME: pairing check and the JSON codec for the completion wire format.

package transcript

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role identifies who produced a turn.
type Role string

// Roles understood by the completion service.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockType tags the content block variant.
type BlockType string

// Block variants.
const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// Block is one unit of a turn's content. Exactly the fields for its Type are
// meaningful; the rest stay zero.
type Block struct {
	Type BlockType

	// BlockText
	Text string

	// BlockToolUse and BlockToolResult
	CallID string

	// BlockToolUse
	ToolName  string
	Arguments map[string]any

	// BlockToolResult
	Result  string
	IsError bool

	// raw preserves block types this package does not model (e.g. thinking
	// blocks) so an assistant turn can be sent back verbatim.
	raw json.RawMessage
}

// TextBlock returns a plain text block.
func TextBlock(text string) Block {
	return Block{Type: BlockText, Text: text}
}

// ToolUseBlock returns a tool invocation request block.
func ToolUseBlock(callID, toolName string, args map[string]any) Block {
	return Block{Type: BlockToolUse, CallID: callID, ToolName: toolName, Arguments: args}
}

// ToolResultBlock returns the result block answering the tool_use with the
// given call id.
func ToolResultBlock(callID, result string, isError bool) Block {
	return Block{Type: BlockToolResult, CallID: callID, Result: result, IsError: isError}
}

// wire mirrors the completion service's content block encoding.
type wireBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     map[string]any  `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// MarshalJSON encodes the block in the completion service's wire format.
func (b Block) MarshalJSON() ([]byte, error) {
	switch b.Type {
	case BlockText:
		return json.Marshal(wireBlock{Type: string(BlockText), Text: b.Text})
	case BlockToolUse:
		input := b.Arguments
		if input == nil {
			input = map[string]any{}
		}
		return json.Marshal(struct {
			Type  string         `json:"type"`
			ID    string         `json:"id"`
			Name  string         `json:"name"`
			Input map[string]any `json:"input"`
		}{string(BlockToolUse), b.CallID, b.ToolName, input})
	case BlockToolResult:
		content, err := json.Marshal(b.Result)
		if err != nil {
			return nil, err
		}
		return json.Marshal(wireBlock{
			Type:      string(BlockToolResult),
			ToolUseID: b.CallID,
			Content:   content,
			IsError:   b.IsError,
		})
	default:
		if len(b.raw) > 0 {
			return b.raw, nil
		}
		return nil, fmt.Errorf("cannot encode block type %q", b.Type)
	}
}

// UnmarshalJSON decodes a wire-format content block. Unknown block types are
// kept opaque so they survive a round trip.
func (b *Block) UnmarshalJSON(data []byte) error {
	var w wireBlock
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch BlockType(w.Type) {
	case BlockText:
		*b = Block{Type: BlockText, Text: w.Text}
	case BlockToolUse:
		*b = Block{Type: BlockToolUse, CallID: w.ID, ToolName: w.Name, Arguments: w.Input}
	case BlockToolResult:
		nb := Block{Type: BlockToolResult, CallID: w.ToolUseID, IsError: w.IsError}
		if len(w.Content) > 0 {
			// Content may be a bare string or a list of text parts.
			var s string
			if err := json.Unmarshal(w.Content, &s); err == nil {
				nb.Result = s
			} else {
				var parts []wireBlock
				if err := json.Unmarshal(w.Content, &parts); err != nil {
					return fmt.Errorf("tool_result content: %w", err)
				}
				texts := make([]string, 0, len(parts))
				for _, p := range parts {
					texts = append(texts, p.Text)
				}
				nb.Result = strings.Join(texts, "\n")
			}
		}
		*b = nb
	default:
		raw := make(json.RawMessage, len(data))
		copy(raw, data)
		*b = Block{Type: BlockType(w.Type), raw: raw}
	}
	return nil
}

// Turn is one role-tagged entry in the transcript.
type Turn struct {
	Role    Role    `json:"role"`
	Content []Block `json:"content"`
}

// UserText builds a user turn holding a single text block.
func UserText(text string) Turn {
	return Turn{Role: RoleUser, Content: []Block{TextBlock(text)}}
}

// AssistantText builds an assistant turn holding a single text block.
func AssistantText(text string) Turn {
	return Turn{Role: RoleAssistant, Content: []Block{TextBlock(text)}}
}

// ToolResults builds the user-role turn that answers an assistant turn's tool
// requests. Order of results must match the order of the tool_use blocks.
func ToolResults(results []Block) Turn {
	return Turn{Role: RoleUser, Content: results}
}

// ToolUses returns the tool_use blocks of the turn, in order.
func (t Turn) ToolUses() []Block {
	var uses []Block
	for _, b := range t.Content {
		if b.Type == BlockToolUse {
			uses = append(uses, b)
		}
	}
	return uses
}

// ToolResultBlocks returns the tool_result blocks of the turn, in order.
func (t Turn) ToolResultBlocks() []Block {
	var results []Block
	for _, b := range t.Content {
		if b.Type == BlockToolResult {
			results = append(results, b)
		}
	}
	return results
}

// Text concatenates the turn's text blocks in order.
func (t Turn) Text() string {
	var sb strings.Builder
	for _, b := range t.Content {
		if b.Type == BlockText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// Transcript is the ordered, append-only conversation record.
type Transcript struct {
	turns []Turn
}

// New returns a transcript seeded with the given turns.
func New(turns ...Turn) *Transcript {
	tr := &Transcript{}
	tr.turns = append(tr.turns, turns...)
	return tr
}

// Append adds a turn to the end of the transcript.
func (tr *Transcript) Append(turn Turn) {
	tr.turns = append(tr.turns, turn)
}

// Turns returns the transcript contents. Callers must not mutate the slice.
func (tr *Transcript) Turns() []Turn {
	return tr.turns
}

// Len returns the number of turns.
func (tr *Transcript) Len() int {
	return len(tr.turns)
}

// Last returns the final turn and true, or a zero turn and false when empty.
func (tr *Transcript) Last() (Turn, bool) {
	if len(tr.turns) == 0 {
		return Turn{}, false
	}
	return tr.turns[len(tr.turns)-1], true
}

// CheckPairing verifies the tool invariant: every assistant turn containing N
// tool_use blocks is immediately followed by a user turn containing exactly N
// tool_result blocks, matched by call id in the same order.
func (tr *Transcript) CheckPairing() error {
	for i, turn := range tr.turns {
		if turn.Role != RoleAssistant {
			continue
		}
		uses := turn.ToolUses()
		if len(uses) == 0 {
			continue
		}
		if i+1 >= len(tr.turns) {
			return fmt.Errorf("turn %d: %d tool_use blocks with no following turn", i, len(uses))
		}
		next := tr.turns[i+1]
		if next.Role != RoleUser {
			return fmt.Errorf("turn %d: tool results must arrive in a user turn, got %q", i+1, next.Role)
		}
		results := next.ToolResultBlocks()
		if len(results) != len(uses) {
			return fmt.Errorf("turn %d: %d tool_use blocks but %d tool_result blocks", i, len(uses), len(results))
		}
		for j, use := range uses {
			if results[j].CallID != use.CallID {
				return fmt.Errorf("turn %d result %d: call id %q does not match request %q",
					i+1, j, results[j].CallID, use.CallID)
			}
		}
	}
	return nil
}

// ToolDescriptor describes one callable capability advertised by the registry.
// Fetched once per conversation and treated as immutable afterwards.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}
