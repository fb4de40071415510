// ABOUTME: Store interfaces and record types for chat history and incident
// ABOUTME: analysis results.

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// DefaultRetention is how long chat records are kept unless they belong to a
// durable incident analysis record.
const DefaultRetention = 90 * 24 * time.Hour

// Chat record roles. The orchestrator writes tool results under RoleToolResult
// so history consumers can distinguish them from typed user input.
const (
	RoleUser       = "user"
	RoleAssistant  = "assistant"
	RoleToolResult = "tool_result"
)

// ChatRecord is one persisted conversation turn.
type ChatRecord struct {
	SessionID string `dynamodbav:"session_id" json:"session_id"`
	// Timestamp is the sort key, in nanoseconds. The original design keyed on
	// seconds, which collides when one iteration appends several turns.
	Timestamp  int64    `dynamodbav:"timestamp" json:"timestamp"`
	MessageID  string   `dynamodbav:"message_id" json:"message_id"`
	Role       string   `dynamodbav:"role" json:"role"`
	Content    string   `dynamodbav:"content" json:"content"`
	User       string   `dynamodbav:"user_name" json:"user_name"`
	IncidentID string   `dynamodbav:"incident_id,omitempty" json:"incident_id,omitempty"`
	ToolsUsed  []string `dynamodbav:"tools_used,omitempty" json:"tools_used,omitempty"`
	ReportType string   `dynamodbav:"report_type,omitempty" json:"report_type,omitempty"`
	// ExpiresAt is the TTL attribute, unix seconds. Zero means no expiry.
	ExpiresAt int64 `dynamodbav:"ttl,omitempty" json:"-"`
}

// SessionStore is the durable chat history contract.
type SessionStore interface {
	// Append stores one turn. SessionID, Role, Content, and User must be set;
	// MessageID, Timestamp, and ExpiresAt are filled in and the stored record
	// is returned so callers can observe exactly what was written.
	Append(ctx context.Context, rec ChatRecord) (ChatRecord, error)

	// SessionMessages returns every turn of a session, oldest first.
	SessionMessages(ctx context.Context, sessionID string) ([]ChatRecord, error)

	// UserSessions returns a user's most recent turns, newest first, at most
	// limit records. Served by a secondary index, not a scan.
	UserSessions(ctx context.Context, user string, limit int) ([]ChatRecord, error)

	// SessionExists reports whether any turn exists for the session. Must be
	// cost-bounded: one record fetched at most.
	SessionExists(ctx context.Context, sessionID string) (bool, error)
}

// IncidentStatus is the lifecycle state of an incident analysis record.
type IncidentStatus string

// Incident analysis states.
const (
	StatusPending   IncidentStatus = "pending"
	StatusAnalyzing IncidentStatus = "analyzing"
	StatusCompleted IncidentStatus = "completed"
	StatusFailed    IncidentStatus = "failed"
)

// Incident is a durable analysis record. Unlike chat history it never
// expires; point-in-time recovery and encryption at rest are table
// provisioning concerns outside this package.
type Incident struct {
	ID        string         `dynamodbav:"id" json:"id"`
	Status    IncidentStatus `dynamodbav:"status" json:"status"`
	Source    string         `dynamodbav:"source,omitempty" json:"source,omitempty"`
	Result    string         `dynamodbav:"analysis_result,omitempty" json:"analysis_result,omitempty"`
	CreatedAt time.Time      `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt time.Time      `dynamodbav:"updated_at" json:"updated_at"`
}

// IncidentStore is the non-expiring incident record contract.
type IncidentStore interface {
	// Save writes the record, setting CreatedAt/UpdatedAt when zero.
	Save(ctx context.Context, inc *Incident) error

	// Get returns the record or ErrNotFound.
	Get(ctx context.Context, id string) (*Incident, error)

	// SetStatus transitions the record's status.
	SetStatus(ctx context.Context, id string, status IncidentStatus) error

	// SetResult stores the analysis outcome together with its final status.
	SetResult(ctx context.Context, id string, status IncidentStatus, result string) error
}
