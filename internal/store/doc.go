// ABOUTME: Package store provides durable persistence for chat sessions and
// ABOUTME: incident analysis records with DynamoDB and SQLite backends.

// Package store persists the two record kinds the gateway owns.
//
// # Interfaces
//
//   - SessionStore: append-only chat history keyed by session id, time
//     ordered, with a per-user secondary lookup and a cost-bounded existence
//     check. Records expire after a retention window unless tied to an
//     incident record.
//   - IncidentStore: non-expiring incident analysis records keyed by incident
//     id, carrying a status enum and the analysis result payload.
//
// # Backends
//
// DynamoStore is the production backend: chat-history table with
// session_id/timestamp keys, a user-sessions-index GSI, and a TTL attribute;
// incident-analysis table keyed by id with no TTL. SQLiteStore implements the
// same contracts on a local file for development and tests, replacing the TTL
// attribute with a retention purge. MemStore is the in-memory test double.
//
// All appends within one session id come from a single writer (the
// orchestrator); distinct session ids may be written concurrently.
package store
