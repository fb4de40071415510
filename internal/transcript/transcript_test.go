// ABOUTME: Tests for the transcript types and wire codec
// ABOUTME: Verifies block encoding, unknown block round trips, and pairing checks

package transcript

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlock_MarshalJSON_Text(t *testing.T) {
	data, err := json.Marshal(TextBlock("hello"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"text","text":"hello"}`, string(data))
}

func TestBlock_MarshalJSON_ToolUse(t *testing.T) {
	b := ToolUseBlock("call_1", "lookup_ip", map[string]any{"ip": "1.2.3.4"})
	data, err := json.Marshal(b)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"tool_use","id":"call_1","name":"lookup_ip","input":{"ip":"1.2.3.4"}}`, string(data))
}

func TestBlock_MarshalJSON_ToolUseEmptyArgs(t *testing.T) {
	// A tool with no arguments still gets an input object on the wire.
	data, err := json.Marshal(ToolUseBlock("call_2", "list_findings", nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"tool_use","id":"call_2","name":"list_findings","input":{}}`, string(data))
}

func TestBlock_MarshalJSON_ToolResult(t *testing.T) {
	data, err := json.Marshal(ToolResultBlock("call_1", "no findings", false))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"tool_result","tool_use_id":"call_1","content":"no findings"}`, string(data))
}

func TestBlock_MarshalJSON_ToolResultError(t *testing.T) {
	data, err := json.Marshal(ToolResultBlock("call_1", "MCP Tool Error: timeout", true))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"tool_result","tool_use_id":"call_1","content":"MCP Tool Error: timeout","is_error":true}`, string(data))
}

func TestBlock_UnmarshalJSON_ToolResultTextParts(t *testing.T) {
	raw := `{"type":"tool_result","tool_use_id":"call_9","content":[{"type":"text","text":"line one"},{"type":"text","text":"line two"}]}`
	var b Block
	require.NoError(t, json.Unmarshal([]byte(raw), &b))
	assert.Equal(t, BlockToolResult, b.Type)
	assert.Equal(t, "call_9", b.CallID)
	assert.Equal(t, "line one\nline two", b.Result)
}

func TestBlock_UnknownTypeRoundTrip(t *testing.T) {
	raw := `{"type":"thinking","thinking":"hmm","signature":"abc"}`
	var b Block
	require.NoError(t, json.Unmarshal([]byte(raw), &b))
	assert.Equal(t, BlockType("thinking"), b.Type)

	out, err := json.Marshal(b)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))
}

func TestTurn_Accessors(t *testing.T) {
	turn := Turn{Role: RoleAssistant, Content: []Block{
		TextBlock("Checking now. "),
		ToolUseBlock("call_1", "lookup_ip", map[string]any{"ip": "1.2.3.4"}),
		TextBlock("One moment."),
	}}

	assert.Equal(t, "Checking now. One moment.", turn.Text())
	uses := turn.ToolUses()
	require.Len(t, uses, 1)
	assert.Equal(t, "lookup_ip", uses[0].ToolName)
	assert.Empty(t, turn.ToolResultBlocks())
}

func TestTranscript_AppendAndLast(t *testing.T) {
	tr := New(UserText("hi"))
	assert.Equal(t, 1, tr.Len())

	tr.Append(AssistantText("hello"))
	last, ok := tr.Last()
	require.True(t, ok)
	assert.Equal(t, RoleAssistant, last.Role)
	assert.Equal(t, "hello", last.Text())

	empty := New()
	_, ok = empty.Last()
	assert.False(t, ok)
}

func TestTranscript_CheckPairing_Valid(t *testing.T) {
	tr := New(
		UserText("check this IP: 1.2.3.4"),
		Turn{Role: RoleAssistant, Content: []Block{
			ToolUseBlock("call_1", "lookup_ip", map[string]any{"ip": "1.2.3.4"}),
			ToolUseBlock("call_2", "get_finding", map[string]any{"finding_id": "f-1"}),
		}},
		ToolResults([]Block{
			ToolResultBlock("call_1", "no events", false),
			ToolResultBlock("call_2", "no finding", false),
		}),
		AssistantText("IP 1.2.3.4 is clean"),
	)
	assert.NoError(t, tr.CheckPairing())
}

func TestTranscript_CheckPairing_Violations(t *testing.T) {
	use := Turn{Role: RoleAssistant, Content: []Block{
		ToolUseBlock("call_1", "lookup_ip", nil),
	}}

	t.Run("missing result turn", func(t *testing.T) {
		tr := New(UserText("hi"), use)
		assert.Error(t, tr.CheckPairing())
	})

	t.Run("count mismatch", func(t *testing.T) {
		tr := New(UserText("hi"), use, ToolResults(nil))
		assert.Error(t, tr.CheckPairing())
	})

	t.Run("call id mismatch", func(t *testing.T) {
		tr := New(UserText("hi"), use, ToolResults([]Block{
			ToolResultBlock("call_other", "x", false),
		}))
		assert.Error(t, tr.CheckPairing())
	})

	t.Run("results not in a user turn", func(t *testing.T) {
		tr := New(UserText("hi"), use, Turn{
			Role:    RoleAssistant,
			Content: []Block{ToolResultBlock("call_1", "x", false)},
		})
		assert.Error(t, tr.CheckPairing())
	})
}
