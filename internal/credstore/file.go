package credstore

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/proxyauth/internal/jsonfile"
	"github.com/Rorqualx/proxyauth/internal/types"
)

// FileStore keeps the session in a single JSON file.
type FileStore struct {
	path string
	mu   sync.Mutex // serializes writes from this process
}

// NewFileStore creates a store backed by path. The file is created on the
// first Set.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (f *FileStore) Path() string {
	return f.path
}

// Get reads the stored session.
func (f *FileStore) Get(ctx context.Context) (*types.Session, error) {
	var s types.Session
	ok, err := jsonfile.Read(f.path, &s)
	if err != nil {
		return nil, types.NewHostError("storage", "get", err)
	}
	if !ok || s.Token == "" {
		return &types.Session{}, nil
	}
	return &s, nil
}

// Set replaces token and profile in one atomic file write.
func (f *FileStore) Set(ctx context.Context, s *types.Session) error {
	if err := validate(s); err != nil {
		return types.NewHostError("storage", "set", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := jsonfile.Write(f.path, s); err != nil {
		return types.NewHostError("storage", "set", err)
	}
	return nil
}

// Clear deletes the session file.
func (f *FileStore) Clear(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := jsonfile.Remove(f.path); err != nil {
		return types.NewHostError("storage", "clear", err)
	}
	return nil
}

// Watch reports changes to the session file, including those made by other
// processes (for example a CLI logout while the agent runs).
func (f *FileStore) Watch(ctx context.Context, fn func(Change)) error {
	last, err := f.Get(ctx)
	if err != nil {
		log.Warn().Err(err).Str("path", f.path).Msg("Unreadable credential file, watching from empty state")
		last = &types.Session{}
	}

	return jsonfile.Watch(ctx, f.path, func() {
		current, err := f.Get(ctx)
		if err != nil {
			log.Warn().Err(err).Str("path", f.path).Msg("Failed to re-read credential file")
			return
		}
		if sameSession(last, current) {
			return
		}
		change := Change{Old: last, New: current}
		last = current
		fn(change)
	})
}
