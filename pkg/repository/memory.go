package repository

import (
	"context"

	"github.com/agrotwin/agrotwin/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"github.com/patrickmn/go-cache"
)

// Memory keeps session records in process. Records never expire.
type Memory struct {
	cache *cache.Cache
}

func NewMemory() *Memory {
	return &Memory{cache: cache.New(cache.NoExpiration, 0)}
}

func (r *Memory) PutSession(ctx context.Context, session *model.Session) error {
	if session.ID == "" {
		return goerr.New("session id is empty")
	}

	copied := *session
	r.cache.Set(string(session.ID), &copied, cache.NoExpiration)
	return nil
}

func (r *Memory) GetSession(ctx context.Context, id model.SessionID) (*model.Session, error) {
	v, ok := r.cache.Get(string(id))
	if !ok {
		return nil, goerr.Wrap(ErrSessionNotFound, "no session record", goerr.V("session_id", id))
	}

	copied := *v.(*model.Session)
	return &copied, nil
}

func (r *Memory) ListSessions(ctx context.Context, offset, limit int) ([]*model.Session, error) {
	items := r.cache.Items()

	sessions := make([]*model.Session, 0, len(items))
	for _, item := range items {
		copied := *item.Object.(*model.Session)
		sessions = append(sessions, &copied)
	}

	return newestFirst(sessions, offset, limit), nil
}
