package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Session statuses.
const (
	StatusOpen   = "open"
	StatusClosed = "closed"
)

// Close reasons.
const (
	CloseDone    = "done"
	CloseTimeout = "timeout"
	CloseManual  = "manual"
)

// Session is one worker's continuous presence at one property.
type Session struct {
	ID            string
	TenantID      string
	PropertyID    string
	PropertyName  string
	WorkerID      string
	StartedAt     time.Time
	ExpectedEndAt time.Time
	EndedAt       *time.Time
	Status        string
	CloseReason   string
}

// ExpiredSession identifies a session closed by CloseExpiredSessions.
type ExpiredSession struct {
	ID         string
	TenantID   string
	WorkerID   string
	PropertyID string
}

// CreateOpenSession inserts sess with status open. When the worker already
// has an open session the partial unique index rejects the row and
// ErrOpenSessionExists is returned; the check and the write are one
// statement.
func (s *Store) CreateOpenSession(ctx context.Context, sess *Session) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO cleaning_sessions
			(id, tenant_id, property_id, worker_id, started_at, expected_end_at, status)
		VALUES (?, ?, ?, ?, ?, ?, 'open')
		ON CONFLICT DO NOTHING
	`, sess.ID, sess.TenantID, sess.PropertyID, sess.WorkerID,
		formatTime(sess.StartedAt), formatTime(sess.ExpectedEndAt))
	if err != nil {
		return fmt.Errorf("store: create session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: create session: %w", err)
	}
	if n == 0 {
		return ErrOpenSessionExists
	}
	sess.Status = StatusOpen
	sess.EndedAt = nil
	sess.CloseReason = ""
	return nil
}

const sessionColumns = `
	s.id, s.tenant_id, s.property_id, p.name, s.worker_id,
	s.started_at, s.expected_end_at, s.ended_at, s.status, COALESCE(s.close_reason, '')`

// GetOpenSession returns the worker's open session or ErrNotFound.
func (s *Store) GetOpenSession(ctx context.Context, tenantID, workerID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM cleaning_sessions s JOIN properties p ON p.id = s.property_id
		WHERE s.tenant_id = ? AND s.worker_id = ? AND s.status = 'open'
	`, tenantID, workerID)
	return scanSession(row)
}

// GetSession returns a session by ID regardless of status.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM cleaning_sessions s JOIN properties p ON p.id = s.property_id
		WHERE s.id = ?
	`, id)
	return scanSession(row)
}

// CloseSession closes the session if it is still open. A session closed
// concurrently (or unknown) yields ErrSessionNotOpen.
func (s *Store) CloseSession(ctx context.Context, id, reason string, endedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE cleaning_sessions
		SET status = 'closed', ended_at = ?, close_reason = ?
		WHERE id = ? AND status = 'open'
	`, formatTime(endedAt), reason, id)
	if err != nil {
		return fmt.Errorf("store: close session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: close session: %w", err)
	}
	if n == 0 {
		return ErrSessionNotOpen
	}
	return nil
}

// CloseExpiredSessions closes every open session whose expected end is
// before now with reason timeout, in one statement. Only rows this call
// changed are returned, so repeated or concurrent sweeps never report the
// same session twice.
func (s *Store) CloseExpiredSessions(ctx context.Context, now time.Time) ([]ExpiredSession, error) {
	ts := formatTime(now)
	rows, err := s.db.QueryContext(ctx, `
		UPDATE cleaning_sessions
		SET status = 'closed', ended_at = ?, close_reason = 'timeout'
		WHERE status = 'open' AND expected_end_at < ?
		RETURNING id, tenant_id, worker_id, property_id
	`, ts, ts)
	if err != nil {
		return nil, fmt.Errorf("store: close expired sessions: %w", err)
	}
	defer rows.Close()

	var out []ExpiredSession
	for rows.Next() {
		var e ExpiredSession
		if err := rows.Scan(&e.ID, &e.TenantID, &e.WorkerID, &e.PropertyID); err != nil {
			return nil, fmt.Errorf("store: scan expired session: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: close expired sessions: %w", err)
	}
	return out, nil
}

// CountOpenSessions returns the number of open sessions across all tenants.
func (s *Store) CountOpenSessions(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cleaning_sessions WHERE status = 'open'`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count open sessions: %w", err)
	}
	return n, nil
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		sess                   Session
		startedAt, expectedEnd string
		endedAt                sql.NullString
	)
	err := row.Scan(&sess.ID, &sess.TenantID, &sess.PropertyID, &sess.PropertyName, &sess.WorkerID,
		&startedAt, &expectedEnd, &endedAt, &sess.Status, &sess.CloseReason)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: scan session: %w", err)
	}
	if sess.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if sess.ExpectedEndAt, err = parseTime(expectedEnd); err != nil {
		return nil, err
	}
	if endedAt.Valid {
		t, err := parseTime(endedAt.String)
		if err != nil {
			return nil, err
		}
		sess.EndedAt = &t
	}
	return &sess, nil
}
