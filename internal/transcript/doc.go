// ABOUTME: Package transcript defines the conversation data model shared by the
// ABOUTME: orchestrator, the completion clients, and the tool gateway.

// Package transcript holds the ordered conversation record exchanged with the
// completion service.
//
// A Transcript is an append-only sequence of Turns. Each Turn carries a role
// and a list of content Blocks. Blocks are a tagged variant: plain text, a
// tool invocation request (tool_use), or a tool result (tool_result). The
// orchestrator owns the transcript for the lifetime of one conversation and
// only ever appends to it.
//
// The package also defines ToolDescriptor, the immutable per-conversation
// description of a callable capability (name, description, input schema).
package transcript
