package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/examlytics/examctl/internal/constants"
	"github.com/examlytics/examctl/internal/models"
)

// TokenStore persists the session under the two fixed keys. Every write is a
// full replacement of both tokens.
type TokenStore interface {
	Load(ctx context.Context) (models.TokenPair, error)
	Save(ctx context.Context, pair models.TokenPair) error
	Clear(ctx context.Context) error
}

// ErrHalfSession is returned by Save when asked to persist only one token.
var ErrHalfSession = errors.New("session: access and refresh tokens must be stored together")

func checkPair(pair models.TokenPair) error {
	if !pair.Valid() {
		return ErrHalfSession
	}
	return nil
}

// MemoryStore keeps the session in process memory.
type MemoryStore struct {
	mu   sync.Mutex
	pair models.TokenPair
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) Load(context.Context) (models.TokenPair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pair, nil
}

func (m *MemoryStore) Save(_ context.Context, pair models.TokenPair) error {
	if err := checkPair(pair); err != nil {
		return err
	}
	m.mu.Lock()
	m.pair = pair
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Clear(context.Context) error {
	m.mu.Lock()
	m.pair = models.TokenPair{}
	m.mu.Unlock()
	return nil
}

// FileStore keeps the session in a JSON file readable only by its owner.
//
//	{"access_token": "...", "refresh_token": "..."}
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore { return &FileStore{path: path} }

// Path returns the session file location.
func (f *FileStore) Path() string { return f.path }

func (f *FileStore) Load(context.Context) (models.TokenPair, error) {
	info, err := os.Stat(f.path)
	if os.IsNotExist(err) {
		return models.TokenPair{}, nil
	}
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("failed to stat session file: %w", err)
	}
	if mode := info.Mode().Perm(); mode&0077 != 0 {
		log.Warn().Str("path", f.path).Msgf("session file has insecure permissions %04o - consider 'chmod 600 %s'", mode, f.path)
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("failed to read session file: %w", err)
	}

	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return models.TokenPair{}, fmt.Errorf("failed to parse session file: %w", err)
	}
	pair := models.TokenPair{Access: raw[constants.AccessTokenKey], Refresh: raw[constants.RefreshTokenKey]}
	if !pair.Valid() {
		// A half session is never valid; treat it as logged out.
		if !pair.Empty() {
			log.Warn().Str("path", f.path).Msg("session file holds only one token - ignoring it")
		}
		return models.TokenPair{}, nil
	}
	return pair, nil
}

func (f *FileStore) Save(_ context.Context, pair models.TokenPair) error {
	if err := checkPair(pair); err != nil {
		return err
	}
	data, err := json.MarshalIndent(map[string]string{
		constants.AccessTokenKey:  pair.Access,
		constants.RefreshTokenKey: pair.Refresh,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	// Write to a temp file and rename so readers never see a torn session.
	tmp, err := os.CreateTemp(dir, ".session-*.json")
	if err != nil {
		return fmt.Errorf("failed to create session file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to secure session file: %w", err)
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}

func (f *FileStore) Clear(context.Context) error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}
