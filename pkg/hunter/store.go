package hunter

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Store is the durable JSON-backed owner of the hunter pool and the
// trash line-list file. Before every save the existing store file, if
// any, is copied to a .bak backup; the new content is then written in
// place with os.WriteFile (directory-ensure, backup, write).
type Store struct {
	mu         sync.Mutex
	pool       *Pool
	storePath  string
	trashPath  string
	logger     *zap.Logger
	trash      map[string]bool
}

type persistedHunter = Hunter

// persistedState is the on-disk HunterStore shape: address → hunter record.
type persistedState struct {
	Hunters map[string]persistedHunter `json:"hunters"`
}

// NewStore wraps an existing Pool with JSON persistence at storePath and
// a trash/blacklist line file at trashPath.
func NewStore(pool *Pool, storePath, trashPath string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		pool:      pool,
		storePath: storePath,
		trashPath: trashPath,
		logger:    logger,
		trash:     make(map[string]bool),
	}
}

// Load restores the pool and trash set from disk. Missing files are not
// an error (first run).
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if data, err := os.ReadFile(s.storePath); err == nil {
		var state persistedState
		if err := json.Unmarshal(data, &state); err != nil {
			return err
		}
		for addr, h := range state.Hunters {
			hh := h
			hh.Address = addr
			s.pool.Insert(hh)
		}
	} else if !os.IsNotExist(err) {
		return err
	}

	if f, err := os.Open(s.trashPath); err == nil {
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if line != "" {
				s.trash[line] = true
			}
		}
	} else if !os.IsNotExist(err) {
		return err
	}

	return nil
}

// Save writes a backup copy of the current store file (if one exists),
// then serializes the pool to storePath.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
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

	state := persistedState{Hunters: make(map[string]persistedHunter)}
	for _, h := range s.pool.Snapshot() {
		state.Hunters[h.Address] = h
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.storePath, data, 0o600); err != nil {
		return err
	}

	s.logger.Debug("hunter store saved", zap.Int("count", len(state.Hunters)))
	return nil
}

// IsTrashed reports whether address is permanently blacklisted.
func (s *Store) IsTrashed(address string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trash[address]
}

// Trash permanently blacklists address, removing it from the pool if
// present, and appends it to the trash line file.
func (s *Store) Trash(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pool.Remove(address)
	if s.trash[address] {
		return nil
	}
	s.trash[address] = true

	if err := os.MkdirAll(filepath.Dir(s.trashPath), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(s.trashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(address + "\n")
	return err
}

// SweepZombies evicts idle hunters from the pool and trashes them,
// persisting both the pool and the trash file.
func (s *Store) SweepZombies() ([]string, error) {
	evicted := s.pool.SweepZombies(time.Now())
	for _, addr := range evicted {
		if err := s.Trash(addr); err != nil {
			return evicted, err
		}
	}
	if len(evicted) > 0 {
		s.logger.Info("zombie sweep evicted hunters", zap.Int("count", len(evicted)))
		if err := s.Save(); err != nil {
			return evicted, err
		}
	}
	return evicted, nil
}
