package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/agrotwin/agrotwin/pkg/adapter"
	"github.com/agrotwin/agrotwin/pkg/model"
	"github.com/agrotwin/agrotwin/pkg/service/questionbank"
	"github.com/agrotwin/agrotwin/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

func readObject(ctx context.Context, storage adapter.Storage, key string) ([]byte, error) {
	reader, err := storage.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read object", goerr.V("key", key))
	}
	return data, nil
}

func writeObject(ctx context.Context, storage adapter.Storage, key string, data []byte) error {
	writer, err := storage.Put(ctx, key)
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

// LoadCatalog creates a bank for the session from its stored snapshot. A
// missing snapshot yields the default catalog silently; a malformed one yields
// the default catalog with a warning. Only storage failures are returned.
func LoadCatalog(ctx context.Context, storage adapter.Storage, id model.SessionID, opts ...questionbank.Option) (*questionbank.Bank, error) {
	bank := questionbank.New(opts...)
	if storage == nil {
		return bank, nil
	}

	data, err := readObject(ctx, storage, id.CatalogKey())
	if err != nil {
		if errors.Is(err, adapter.ErrObjectNotFound) {
			return bank, nil
		}
		return nil, goerr.Wrap(err, "failed to load question catalog", goerr.V("session_id", id))
	}

	if err := bank.Restore(data); err != nil {
		logging.From(ctx).Warn("stored question catalog is malformed, using default catalog",
			"session_id", id,
			"error", err)
	}

	return bank, nil
}

// SaveCatalog stores the bank's snapshot for the session
func SaveCatalog(ctx context.Context, storage adapter.Storage, id model.SessionID, bank *questionbank.Bank) error {
	data, err := bank.Snapshot()
	if err != nil {
		return err
	}

	if err := writeObject(ctx, storage, id.CatalogKey(), data); err != nil {
		return goerr.Wrap(err, "failed to save question catalog", goerr.V("session_id", id))
	}
	return nil
}

// loadTranscript returns nil turns when the session has no stored transcript
func loadTranscript(ctx context.Context, storage adapter.Storage, id model.SessionID) ([]model.Turn, error) {
	data, err := readObject(ctx, storage, id.HistoryKey())
	if err != nil {
		if errors.Is(err, adapter.ErrObjectNotFound) {
			return nil, nil
		}
		return nil, goerr.Wrap(err, "failed to load transcript", goerr.V("session_id", id))
	}

	var turns []model.Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal transcript", goerr.V("session_id", id))
	}

	return turns, nil
}

func saveTranscript(ctx context.Context, storage adapter.Storage, id model.SessionID, turns []model.Turn) error {
	data, err := json.Marshal(turns)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal transcript")
	}

	if err := writeObject(ctx, storage, id.HistoryKey(), data); err != nil {
		return goerr.Wrap(err, "failed to save transcript", goerr.V("session_id", id))
	}
	return nil
}
