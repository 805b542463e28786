package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bdobrica/uklid/internal/uklid/resolver"
)

var (
	// ErrUnsupportedIntent is returned by AppendEvent for intents that are
	// not events (start_cleaning goes through Open) or whose payload does not
	// match the kind.
	ErrUnsupportedIntent = errors.New("session: intent cannot be recorded as an event")
	// ErrInvalidCloseReason is returned by Close for reasons other than
	// done, timeout and manual.
	ErrInvalidCloseReason = errors.New("session: invalid close reason")
)

// Replier is implemented by errors that are conversational outcomes rather
// than faults. Reply is the localized text to send back to the worker.
type Replier interface {
	error
	Reply() string
}

// ConflictError means the worker already has an open session elsewhere.
// A sequential conflict and a lost race produce the same error.
type ConflictError struct {
	SessionID       string
	CurrentProperty string
	reply           string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("session %s is already open at %q", e.SessionID, e.CurrentProperty)
}

func (e *ConflictError) Reply() string { return e.reply }

// NoActiveSessionError means an event or close arrived with no open session.
type NoActiveSessionError struct {
	// Op is "append" or "close".
	Op    string
	reply string
}

func (e *NoActiveSessionError) Error() string {
	return "no active session for " + e.Op
}

func (e *NoActiveSessionError) Reply() string { return e.reply }

// ClarificationError asks the worker which property they mean.
type ClarificationError struct {
	reply string
}

func (e *ClarificationError) Error() string { return "property hint required" }

func (e *ClarificationError) Reply() string { return e.reply }

// ResolveError carries a resolver.NotFoundError or resolver.AmbiguousError
// together with its reply. errors.As reaches the resolver error through
// Unwrap.
type ResolveError struct {
	err   error
	reply string
}

func (e *ResolveError) Error() string { return e.err.Error() }

func (e *ResolveError) Unwrap() error { return e.err }

func (e *ResolveError) Reply() string { return e.reply }

// Candidates returns the ambiguous property names, or nil.
func (e *ResolveError) Candidates() []string {
	var amb *resolver.AmbiguousError
	if errors.As(e.err, &amb) {
		return amb.Candidates
	}
	return nil
}

func joinCandidates(names []string) string {
	return strings.Join(names, ", ")
}
