package repository

import (
	"context"
	"slices"
	"strings"

	"github.com/agrotwin/agrotwin/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

// ErrSessionNotFound is returned when no record exists for a session id
var ErrSessionNotFound = goerr.New("session not found")

// Repository defines the interface for chat session records
type Repository interface {
	// PutSession creates or replaces a session record
	PutSession(ctx context.Context, session *model.Session) error

	// GetSession retrieves a session by ID
	GetSession(ctx context.Context, id model.SessionID) (*model.Session, error)

	// ListSessions retrieves sessions, newest first
	ListSessions(ctx context.Context, offset, limit int) ([]*model.Session, error)
}

// newestFirst orders records by CreatedAt descending, ID ascending on ties,
// and applies offset and limit. A non-positive limit returns everything.
func newestFirst(sessions []*model.Session, offset, limit int) []*model.Session {
	slices.SortFunc(sessions, func(a, b *model.Session) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(string(a.ID), string(b.ID))
	})

	offset = max(offset, 0)
	if offset >= len(sessions) {
		return nil
	}
	sessions = sessions[offset:]
	if limit > 0 && limit < len(sessions) {
		sessions = sessions[:limit]
	}
	return sessions
}
