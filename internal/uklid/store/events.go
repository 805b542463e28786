package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types.
const (
	EventSessionStart = "session_start"
	EventSupplyOut    = "supply_out"
	EventLinenUsed    = "linen_used"
	EventNote         = "note"
	EventPhotoMeta    = "photo_meta"
	EventDone         = "done"
)

// Event is an immutable fact recorded during (or outside) a session.
type Event struct {
	ID         string
	TenantID   string
	PropertyID string
	// SessionID is empty for events not tied to a session.
	SessionID string
	Type      string
	StartedAt time.Time
	Note      string
	Payload   json.RawMessage
}

// InsertEvent appends e. Events are never updated or deleted.
func (s *Store) InsertEvent(ctx context.Context, e *Event) error {
	payload := string(e.Payload)
	if payload == "" {
		payload = "{}"
	}
	var sessionID sql.NullString
	if e.SessionID != "" {
		sessionID = sql.NullString{String: e.SessionID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, tenant_id, property_id, session_id, type, started_at, note, payload_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.TenantID, e.PropertyID, sessionID, e.Type, formatTime(e.StartedAt), e.Note, payload)
	if err != nil {
		return fmt.Errorf("store: insert event: %w", err)
	}
	return nil
}

// ListEventsForSession returns the session's events by start time, ties in
// insertion order.
func (s *Store) ListEventsForSession(ctx context.Context, sessionID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, property_id, COALESCE(session_id, ''), type, started_at, note, payload_json
		FROM events
		WHERE session_id = ?
		ORDER BY started_at ASC, seq ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: list events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e         Event
			startedAt string
			payload   string
		)
		if err := rows.Scan(&e.ID, &e.TenantID, &e.PropertyID, &e.SessionID, &e.Type, &startedAt, &e.Note, &payload); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		if e.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		e.Payload = json.RawMessage(payload)
		out = append(out, e)
	}
	return out, rows.Err()
}
