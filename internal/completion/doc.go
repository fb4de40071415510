// ABOUTME: Package completion wraps the language-model completion service
// ABOUTME: behind a single Completer interface with two backends.

// Package completion talks to the model that drives conversations.
//
// The Completer contract is stateless: one call maps (transcript, system
// prompt, tool catalog) to (content blocks, stop reason). Two backends are
// provided:
//
//   - AnthropicClient: the Messages API over HTTPS.
//   - BedrockClient: the same Anthropic-native payload delivered through
//     Amazon Bedrock's InvokeModel, for deployments that keep model traffic
//     inside AWS.
//
// Both share the wire codec in this package. A malformed response (missing
// stop reason or content) is reported as ErrProtocol; the orchestrator treats
// it with transport severity and aborts the conversation instead of guessing.
package completion
