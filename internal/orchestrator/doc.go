// ABOUTME: Package orchestrator drives the multi-turn tool-use loop between
// ABOUTME: the completion service and the tool capability registry.

// Package orchestrator runs one conversation to a terminal outcome.
//
// A Run opens exactly one gateway session, discovers the tool catalog once,
// and then alternates between the completion service and sequential tool
// execution until the service returns a pure-text turn, the iteration cap is
// reached, or a transport failure occurs. Tools execute strictly in the order
// requested: tool side effects may be order sensitive, and deterministic
// transcript construction depends on it.
//
// Failure containment follows a strict split. A tool that fails becomes an
// error-flagged result in the transcript and the model decides what to do
// next. A transport or protocol failure (completion service unreachable,
// registry process gone, malformed payload) ends the conversation with a
// failed Result; it is not retried within the conversation.
//
// Every terminal outcome carries a single human-readable string in
// Result.Text: the answer, a best-effort partial answer when the iteration
// cap is hit, or a clearly marked error string. Persistence failures never
// abort a run; they are counted on the Result so callers and tests can see
// them even though the policy is log and continue.
package orchestrator
