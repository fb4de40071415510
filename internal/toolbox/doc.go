// ABOUTME: Package toolbox implements the security tools served by the
// ABOUTME: capability registry process.

// Package toolbox is the tool side of the capability registry.
//
// Each tool is registered by name with a declared input schema; dispatch is
// by that name and arguments are validated against the declaration before the
// handler runs. AWS clients are injected at construction, never pulled from
// module-level state, so tests can substitute fakes.
//
// Tool failures are returned as error-flagged results on the wire. The
// gateway feeds them back to the model as text; they are never transport
// failures.
package toolbox
