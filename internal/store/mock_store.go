// ABOUTME: In-memory implementation of SessionStore and IncidentStore for
// ABOUTME: tests across packages.

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore implements SessionStore and IncidentStore in memory. Safe for
// concurrent use. Optional error hooks let tests inject failures.
type MemStore struct {
	mu        sync.Mutex
	chats     []ChatRecord
	incidents map[string]Incident
	seq       int64

	// AppendErr, when set, is returned by Append. Used to verify the
	// orchestrator's log-and-continue persistence policy.
	AppendErr error
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{incidents: make(map[string]Incident)}
}

// Append stores one chat turn.
func (m *MemStore) Append(ctx context.Context, rec ChatRecord) (ChatRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AppendErr != nil {
		return ChatRecord{}, m.AppendErr
	}
	m.seq++
	rec.Timestamp = time.Now().UnixNano() + m.seq // strictly increasing
	rec.MessageID = uuid.NewString()
	if rec.IncidentID == "" {
		rec.ExpiresAt = time.Now().Add(DefaultRetention).Unix()
	}
	m.chats = append(m.chats, rec)
	return rec, nil
}

// SessionMessages returns a session's turns oldest first.
func (m *MemStore) SessionMessages(ctx context.Context, sessionID string) ([]ChatRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ChatRecord
	for _, rec := range m.chats {
		if rec.SessionID == sessionID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

// UserSessions returns a user's turns newest first, at most limit.
func (m *MemStore) UserSessions(ctx context.Context, user string, limit int) ([]ChatRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = defaultUserSessionLimit
	}
	var out []ChatRecord
	for _, rec := range m.chats {
		if rec.User == user {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SessionExists reports whether any turn exists for the session.
func (m *MemStore) SessionExists(ctx context.Context, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.chats {
		if rec.SessionID == sessionID {
			return true, nil
		}
	}
	return false, nil
}

// Save writes an incident record.
func (m *MemStore) Save(ctx context.Context, inc *Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if inc.CreatedAt.IsZero() {
		inc.CreatedAt = now
	}
	inc.UpdatedAt = now
	if inc.Status == "" {
		inc.Status = StatusPending
	}
	m.incidents[inc.ID] = *inc
	return nil
}

// Get returns the incident record or ErrNotFound.
func (m *MemStore) Get(ctx context.Context, id string) (*Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inc, ok := m.incidents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &inc, nil
}

// SetStatus transitions an existing incident's status.
func (m *MemStore) SetStatus(ctx context.Context, id string, status IncidentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inc, ok := m.incidents[id]
	if !ok {
		return ErrNotFound
	}
	inc.Status = status
	inc.UpdatedAt = time.Now()
	m.incidents[id] = inc
	return nil
}

// SetResult stores the analysis outcome and its final status.
func (m *MemStore) SetResult(ctx context.Context, id string, status IncidentStatus, result string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inc, ok := m.incidents[id]
	if !ok {
		return ErrNotFound
	}
	inc.Status = status
	inc.Result = result
	inc.UpdatedAt = time.Now()
	m.incidents[id] = inc
	return nil
}
