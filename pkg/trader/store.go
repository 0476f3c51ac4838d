package trader

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// Store is the durable JSON-backed owner of TraderState, following
// the backup-before-overwrite pattern of pkg/hunter.Store. Save is
// always called from a background goroutine (spec.md §4.8's "every
// mutating transition serializes the full positions map... via a
// background thread, with a mutex preventing interleaved writes");
// this mutex is that serialization point.
type Store struct {
	mu        sync.Mutex
	storePath string
	logger    *zap.Logger
}

// persistedState is the on-disk TraderState shape: mint → Position.
type persistedState struct {
	Positions map[string]*Position `json:"positions"`
}

// NewStore builds a Store persisting to storePath.
func NewStore(storePath string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{storePath: storePath, logger: logger}
}

// Load restores the positions map from disk, keeping only entries
// with total_tokens > 0 per spec.md §4.8. Missing file is not an
// error (first run).
func (s *Store) Load() (map[string]*Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.storePath)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]*Position), nil
		}
		return nil, err
	}

	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}

	out := make(map[string]*Position, len(state.Positions))
	for mint, pos := range state.Positions {
		if pos.TotalTokens > 0 {
			pos.Mint = mint
			out[mint] = pos
		}
	}
	return out, nil
}

// Save writes a backup copy of the current store file (if one
// exists), then serializes positions to storePath.
func (s *Store) Save(positions map[string]*Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.storePath), 0o755); err != nil {
		return err
	}

	if _, err := os.Stat(s.storePath); err == nil {
		backupPath := s.storePath + ".bak"
		data, err := os.ReadFile(s.storePath)
		if err != nil {
			return err
		}
		if err := os.WriteFile(backupPath, data, 0o600); err != nil {
			return err
		}
	}

	data, err := json.MarshalIndent(persistedState{Positions: positions}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.storePath, data, 0o600); err != nil {
		return err
	}

	s.logger.Debug("trader state saved", zap.Int("positions", len(positions)))
	return nil
}
