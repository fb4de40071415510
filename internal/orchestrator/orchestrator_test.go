// ABOUTME: Tests for the conversation turn loop
// ABOUTME: Covers tool dispatch, iteration cap, containment, and persistence

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelops/incident-gateway/internal/completion"
	"github.com/sentinelops/incident-gateway/internal/gateway"
	"github.com/sentinelops/incident-gateway/internal/store"
	"github.com/sentinelops/incident-gateway/internal/transcript"
)

// scriptedCompleter returns canned completions in order, recording each
// request so tests can inspect the transcript the loop sent.
type scriptedCompleter struct {
	script   []*completion.Completion
	err      error
	calls    int
	requests []*completion.Request
}

func (s *scriptedCompleter) Complete(ctx context.Context, req *completion.Request) (*completion.Completion, error) {
	s.requests = append(s.requests, req)
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if s.calls > len(s.script) {
		return s.script[len(s.script)-1], nil
	}
	return s.script[s.calls-1], nil
}

func textCompletion(text string) *completion.Completion {
	return &completion.Completion{
		Content:    []transcript.Block{transcript.TextBlock(text)},
		StopReason: completion.StopEndTurn,
	}
}

func toolCompletion(blocks ...transcript.Block) *completion.Completion {
	return &completion.Completion{Content: blocks, StopReason: completion.StopToolUse}
}

// fakeSession scripts tool invocation outputs keyed by tool name.
type fakeSession struct {
	tools   []transcript.ToolDescriptor
	listErr error

	outputs   map[string]*gateway.ToolOutput
	invokeErr error
	invoked   []string
	closed    int
}

func (f *fakeSession) ListTools(ctx context.Context) ([]transcript.ToolDescriptor, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.tools, nil
}

func (f *fakeSession) Invoke(ctx context.Context, name string, args map[string]any) (*gateway.ToolOutput, error) {
	f.invoked = append(f.invoked, name)
	if f.invokeErr != nil {
		return nil, f.invokeErr
	}
	if out, ok := f.outputs[name]; ok {
		return out, nil
	}
	return &gateway.ToolOutput{Text: "ok"}, nil
}

func (f *fakeSession) Close() error {
	f.closed++
	return nil
}

func factoryFor(s *fakeSession) SessionFactory {
	return func() ToolSession { return s }
}

func userMessages(text string) []transcript.Turn {
	return []transcript.Turn{transcript.UserText(text)}
}

func TestRun_TextOnlyFirstTurn(t *testing.T) {
	comp := &scriptedCompleter{script: []*completion.Completion{
		textCompletion("Nothing to investigate."),
	}}
	session := &fakeSession{}
	orch := New(comp, factoryFor(session))

	res, err := orch.Run(context.Background(), RunRequest{Messages: userMessages("hello")})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, "Nothing to investigate.", res.Text)
	assert.Equal(t, 0, res.Iterations)
	assert.Empty(t, res.ToolsUsed)
	assert.Empty(t, session.invoked)
	assert.Equal(t, 1, session.closed)
}

func TestRun_SingleToolRoundTrip(t *testing.T) {
	comp := &scriptedCompleter{script: []*completion.Completion{
		toolCompletion(transcript.ToolUseBlock("call_1", "lookup_ip", map[string]any{"ip": "1.2.3.4"})),
		textCompletion("IP 1.2.3.4 is clean"),
	}}
	session := &fakeSession{
		tools: []transcript.ToolDescriptor{{Name: "lookup_ip"}},
		outputs: map[string]*gateway.ToolOutput{
			"lookup_ip": {Text: "no findings"},
		},
	}
	msgStore := store.NewMemStore()
	orch := New(comp, factoryFor(session), WithSessionStore(msgStore))

	res, err := orch.Run(context.Background(), RunRequest{
		SessionID: "sess-1",
		User:      "alice",
		Messages:  userMessages("check this IP: 1.2.3.4"),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, "IP 1.2.3.4 is clean", res.Text)
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, []string{"lookup_ip"}, res.ToolsUsed)
	assert.Equal(t, []string{"lookup_ip"}, session.invoked)
	assert.Zero(t, res.StorageFailures)

	// The second completion call sees the tool result in the transcript.
	require.Len(t, comp.requests, 2)
	turns := comp.requests[1].Turns
	require.Len(t, turns, 3)
	results := turns[2].ToolResultBlocks()
	require.Len(t, results, 1)
	assert.Equal(t, "call_1", results[0].CallID)
	assert.Equal(t, "no findings", results[0].Result)

	// Four turns persisted, in conversation order.
	records, err := msgStore.SessionMessages(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, store.RoleUser, records[0].Role)
	assert.Equal(t, "check this IP: 1.2.3.4", records[0].Content)
	assert.Equal(t, store.RoleAssistant, records[1].Role)
	assert.Equal(t, []string{"lookup_ip"}, records[1].ToolsUsed)
	assert.Equal(t, store.RoleToolResult, records[2].Role)
	assert.Equal(t, "no findings", records[2].Content)
	assert.Equal(t, store.RoleAssistant, records[3].Role)
	assert.Equal(t, "IP 1.2.3.4 is clean", records[3].Content)
}

func TestRun_MultipleToolUsesPairedInOrder(t *testing.T) {
	comp := &scriptedCompleter{script: []*completion.Completion{
		toolCompletion(
			transcript.ToolUseBlock("call_a", "lookup_ip", map[string]any{"ip": "1.2.3.4"}),
			transcript.ToolUseBlock("call_b", "get_finding", map[string]any{"finding_id": "f-1"}),
		),
		textCompletion("done"),
	}}
	session := &fakeSession{
		outputs: map[string]*gateway.ToolOutput{
			"lookup_ip":   {Text: "events"},
			"get_finding": {Text: "finding"},
		},
	}
	orch := New(comp, factoryFor(session))

	res, err := orch.Run(context.Background(), RunRequest{Messages: userMessages("investigate")})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, []string{"lookup_ip", "get_finding"}, session.invoked)

	// Verify pairing of the transcript sent to the second completion call.
	turns := comp.requests[1].Turns
	tr := transcript.New(turns...)
	require.NoError(t, tr.CheckPairing())
	results := turns[2].ToolResultBlocks()
	require.Len(t, results, 2)
	assert.Equal(t, "call_a", results[0].CallID)
	assert.Equal(t, "call_b", results[1].CallID)
}

func TestRun_ToolFailureIsContained(t *testing.T) {
	comp := &scriptedCompleter{script: []*completion.Completion{
		toolCompletion(transcript.ToolUseBlock("call_1", "lookup_ip", nil)),
		textCompletion("could not verify the IP"),
	}}
	session := &fakeSession{
		outputs: map[string]*gateway.ToolOutput{
			"lookup_ip": {Text: "MCP Tool Error: access denied", IsError: true},
		},
	}
	orch := New(comp, factoryFor(session))

	res, err := orch.Run(context.Background(), RunRequest{Messages: userMessages("check this IP")})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, "could not verify the IP", res.Text)

	// The error is attributed to the requesting call id, pairing intact.
	turns := comp.requests[1].Turns
	require.NoError(t, transcript.New(turns...).CheckPairing())
	results := turns[2].ToolResultBlocks()
	require.Len(t, results, 1)
	assert.True(t, results[0].IsError)
	assert.Equal(t, "MCP Tool Error: access denied", results[0].Result)
}

func TestRun_TransportFailureIsTerminal(t *testing.T) {
	comp := &scriptedCompleter{script: []*completion.Completion{
		toolCompletion(transcript.ToolUseBlock("call_1", "lookup_ip", nil)),
	}}
	session := &fakeSession{
		invokeErr: fmt.Errorf("%w: broken pipe", gateway.ErrTransport),
	}
	orch := New(comp, factoryFor(session))

	res, err := orch.Run(context.Background(), RunRequest{Messages: userMessages("check this IP")})
	require.Error(t, err)
	assert.ErrorIs(t, err, gateway.ErrTransport)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Contains(t, res.Text, "[analysis error]")
	assert.Equal(t, 1, session.closed)
}

func TestRun_ToolDiscoveryFailure(t *testing.T) {
	comp := &scriptedCompleter{}
	session := &fakeSession{listErr: fmt.Errorf("%w: spawn failed", gateway.ErrTransport)}
	orch := New(comp, factoryFor(session))

	res, err := orch.Run(context.Background(), RunRequest{Messages: userMessages("hi")})
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Zero(t, comp.calls)
	assert.Equal(t, 1, session.closed)
}

func TestRun_IterationLimit(t *testing.T) {
	// An adversarial completer that always wants another tool call.
	comp := &scriptedCompleter{script: []*completion.Completion{
		toolCompletion(
			transcript.TextBlock("still digging"),
			transcript.ToolUseBlock("call_x", "lookup_ip", nil),
		),
	}}
	session := &fakeSession{}
	orch := New(comp, factoryFor(session), WithMaxIterations(3))

	res, err := orch.Run(context.Background(), RunRequest{Messages: userMessages("loop forever")})
	require.NoError(t, err)
	assert.Equal(t, OutcomeIterationLimit, res.Outcome)
	assert.Equal(t, 3, res.Iterations)
	assert.Equal(t, 3, comp.calls)
	assert.Len(t, session.invoked, 3)
	assert.Equal(t, "still digging", res.Text)
}

func TestRun_IterationLimitHistoryHasNoDuplicates(t *testing.T) {
	comp := &scriptedCompleter{script: []*completion.Completion{
		toolCompletion(
			transcript.TextBlock("still digging"),
			transcript.ToolUseBlock("call_x", "lookup_ip", nil),
		),
	}}
	msgStore := store.NewMemStore()
	orch := New(comp, factoryFor(&fakeSession{}),
		WithSessionStore(msgStore), WithMaxIterations(2))

	res, err := orch.Run(context.Background(), RunRequest{
		SessionID: "sess-1",
		Messages:  userMessages("loop forever"),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeIterationLimit, res.Outcome)
	assert.Equal(t, "still digging", res.Text)

	// One user turn, then assistant and tool_result per iteration. The final
	// assistant text was already recorded with its tool names; reaching the
	// cap must not write it again.
	records, err := msgStore.SessionMessages(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Len(t, records, 5)
	roles := make([]string, len(records))
	for i, rec := range records {
		roles[i] = rec.Role
	}
	assert.Equal(t, []string{
		store.RoleUser,
		store.RoleAssistant, store.RoleToolResult,
		store.RoleAssistant, store.RoleToolResult,
	}, roles)
}

func TestRun_IterationLimitWithoutText(t *testing.T) {
	comp := &scriptedCompleter{script: []*completion.Completion{
		toolCompletion(transcript.ToolUseBlock("call_x", "lookup_ip", nil)),
	}}
	msgStore := store.NewMemStore()
	orch := New(comp, factoryFor(&fakeSession{}), WithSessionStore(msgStore))

	res, err := orch.Run(context.Background(), RunRequest{
		SessionID:     "sess-1",
		Messages:      userMessages("loop"),
		MaxIterations: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeIterationLimit, res.Outcome)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, IterationLimitNotice, res.Text)

	// The synthesized notice is the terminal history record.
	records, err := msgStore.SessionMessages(context.Background(), "sess-1")
	require.NoError(t, err)
	require.NotEmpty(t, records)
	last := records[len(records)-1]
	assert.Equal(t, store.RoleAssistant, last.Role)
	assert.Equal(t, IterationLimitNotice, last.Content)
}

func TestRun_CompletionErrorFails(t *testing.T) {
	comp := &scriptedCompleter{err: errors.New("service unreachable")}
	orch := New(comp, factoryFor(&fakeSession{}))

	res, err := orch.Run(context.Background(), RunRequest{Messages: userMessages("hi")})
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Contains(t, res.Text, "service unreachable")
}

func TestRun_EmptyMessagesRejected(t *testing.T) {
	orch := New(&scriptedCompleter{}, factoryFor(&fakeSession{}))

	res, err := orch.Run(context.Background(), RunRequest{})
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
}

func TestRun_StorageFailuresCountedNotFatal(t *testing.T) {
	comp := &scriptedCompleter{script: []*completion.Completion{
		textCompletion("fine"),
	}}
	msgStore := store.NewMemStore()
	msgStore.AppendErr = errors.New("table offline")
	orch := New(comp, factoryFor(&fakeSession{}), WithSessionStore(msgStore))

	res, err := orch.Run(context.Background(), RunRequest{
		SessionID: "sess-1",
		Messages:  userMessages("hi"),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, "fine", res.Text)
	// Initial user turn plus final assistant turn both failed to persist.
	assert.Equal(t, 2, res.StorageFailures)
	assert.ErrorContains(t, res.StorageErr, "table offline")
}

func TestRun_NoSessionIDSkipsPersistence(t *testing.T) {
	comp := &scriptedCompleter{script: []*completion.Completion{
		textCompletion("fine"),
	}}
	msgStore := store.NewMemStore()
	orch := New(comp, factoryFor(&fakeSession{}), WithSessionStore(msgStore))

	_, err := orch.Run(context.Background(), RunRequest{Messages: userMessages("hi")})
	require.NoError(t, err)

	records, err := msgStore.UserSessions(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestRun_SystemPromptAndToolsForwarded(t *testing.T) {
	comp := &scriptedCompleter{script: []*completion.Completion{
		textCompletion("ok"),
	}}
	session := &fakeSession{tools: []transcript.ToolDescriptor{{Name: "lookup_ip"}}}
	orch := New(comp, factoryFor(session), WithMaxTokens(1234))

	_, err := orch.Run(context.Background(), RunRequest{
		Messages:     userMessages("hi"),
		SystemPrompt: "be brief",
	})
	require.NoError(t, err)
	require.Len(t, comp.requests, 1)
	assert.Equal(t, "be brief", comp.requests[0].System)
	assert.Equal(t, 1234, comp.requests[0].MaxTokens)
	require.Len(t, comp.requests[0].Tools, 1)
	assert.Equal(t, "lookup_ip", comp.requests[0].Tools[0].Name)
}
