// ABOUTME: Package gateway owns the tool subprocess for one conversation and
// ABOUTME: hides MCP stdio framing behind ListTools and Invoke.

// Package gateway mediates between the orchestrator and the tool capability
// registry process.
//
// A Session maps one-to-one onto one conversation: the registry subprocess is
// started lazily on first use, the initialize handshake runs once, and Close
// terminates the process unconditionally so no subprocess outlives its
// conversation. The underlying channel is plain request/response with no
// multiplexing, so the Session serializes all calls with a mutex instead of
// leaving that to callers.
//
// Failure policy: a tool that runs and fails is domain data, so Invoke returns
// its message as error-flagged text. The registry rejecting a call with a
// structured error response (unknown tool name, invalid arguments) is treated
// the same way. Only a channel that breaks (process died, handshake timed
// out, unparseable frame) is a host failure: Invoke returns ErrTransport or
// ErrProtocol and the conversation ends.
package gateway
