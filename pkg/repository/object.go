package repository

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"slices"
	"sync"

	"github.com/agrotwin/agrotwin/pkg/adapter"
	"github.com/agrotwin/agrotwin/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

const indexKey = "sessions/index.json"

// Object keeps session records as JSON objects in Storage, next to the
// question catalogs and transcripts. An index object lists the known ids.
// Writers in other processes sharing the same storage are not coordinated.
type Object struct {
	storage adapter.Storage
	mu      sync.Mutex
}

func NewObject(storage adapter.Storage) (*Object, error) {
	if storage == nil {
		return nil, goerr.New("storage is required for object repository")
	}
	return &Object{storage: storage}, nil
}

func (r *Object) read(ctx context.Context, key string, v any) error {
	reader, err := r.storage.Get(ctx, key)
	if err != nil {
		return err
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return goerr.Wrap(err, "failed to read object", goerr.V("key", key))
	}
	if err := json.Unmarshal(data, v); err != nil {
		return goerr.Wrap(err, "failed to decode object", goerr.V("key", key))
	}
	return nil
}

func (r *Object) write(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return goerr.Wrap(err, "failed to encode object", goerr.V("key", key))
	}

	writer, err := r.storage.Put(ctx, key)
	if err != nil {
		return goerr.Wrap(err, "failed to create storage writer", goerr.V("key", key))
	}
	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return goerr.Wrap(err, "failed to write object", goerr.V("key", key))
	}
	if err := writer.Close(); err != nil {
		return goerr.Wrap(err, "failed to close storage writer", goerr.V("key", key))
	}
	return nil
}

func (r *Object) index(ctx context.Context) ([]model.SessionID, error) {
	var ids []model.SessionID
	if err := r.read(ctx, indexKey, &ids); err != nil {
		if errors.Is(err, adapter.ErrObjectNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return ids, nil
}

func (r *Object) PutSession(ctx context.Context, session *model.Session) error {
	if session.ID == "" {
		return goerr.New("session id is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.write(ctx, session.ID.RecordKey(), session); err != nil {
		return err
	}

	ids, err := r.index(ctx)
	if err != nil {
		return err
	}
	if slices.Contains(ids, session.ID) {
		return nil
	}
	return r.write(ctx, indexKey, append(ids, session.ID))
}

func (r *Object) GetSession(ctx context.Context, id model.SessionID) (*model.Session, error) {
	if id == "" {
		return nil, goerr.Wrap(ErrSessionNotFound, "session id is empty")
	}

	var session model.Session
	if err := r.read(ctx, id.RecordKey(), &session); err != nil {
		if errors.Is(err, adapter.ErrObjectNotFound) {
			return nil, goerr.Wrap(ErrSessionNotFound, "no session record", goerr.V("session_id", id))
		}
		return nil, err
	}
	return &session, nil
}

func (r *Object) ListSessions(ctx context.Context, offset, limit int) ([]*model.Session, error) {
	r.mu.Lock()
	ids, err := r.index(ctx)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	sessions := make([]*model.Session, 0, len(ids))
	for _, id := range ids {
		session, err := r.GetSession(ctx, id)
		if errors.Is(err, ErrSessionNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}

	return newestFirst(sessions, offset, limit), nil
}
