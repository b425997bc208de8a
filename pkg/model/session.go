package model

import (
	"time"

	"github.com/google/uuid"
)

type SessionID string

// NewSessionID generates a new unique SessionID
func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}

// Session is the stored record of one chat conversation. The question catalog
// and the transcript are kept in object storage, not here.
type Session struct {
	ID        SessionID   `json:"id" firestore:"id"`
	Scan      ScanContext `json:"scan" firestore:"scan"`
	CreatedAt time.Time   `json:"created_at" firestore:"created_at"`
	UpdatedAt time.Time   `json:"updated_at" firestore:"updated_at"`
}

// CatalogKey is the storage key of the session's question catalog snapshot
func (s SessionID) CatalogKey() string {
	return "catalogs/" + string(s) + ".json"
}

// RecordKey is the storage key of the session record when no database is used
func (s SessionID) RecordKey() string {
	return "sessions/" + string(s) + ".json"
}

// HistoryKey is the storage key of the session's transcript
func (s SessionID) HistoryKey() string {
	return "histories/" + string(s) + ".json"
}
