package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	logx "pland/pkg/logx"
)

// fileStore is a memStore whose state is rewritten to a JSON snapshot after
// every mutation (write to <path>.tmp, then rename).
type fileStore struct {
	*memStore
	path string
	log  logx.Logger
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	st, err := loadSnapshot(path)
	if err != nil {
		return nil, err
	}
	fs := &fileStore{memStore: newMemory(cfg), path: path, log: log}
	fs.st = st
	fs.persist = fs.writeSnapshot
	log.Info("file store opened", logx.String("path", path), logx.Int("targets", len(st.Targets)), logx.Int("users", len(st.Users)))
	return fs, nil
}

func loadSnapshot(path string) (*state, error) {
	st := newState()
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return st, nil
	}
	if err := json.Unmarshal(b, st); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	// maps are nil when the snapshot omitted them
	fresh := newState()
	if st.Users == nil {
		st.Users = fresh.Users
	}
	if st.Settings == nil {
		st.Settings = fresh.Settings
	}
	if st.Targets == nil {
		st.Targets = fresh.Targets
	}
	if st.Plans == nil {
		st.Plans = fresh.Plans
	}
	return st, nil
}

func (s *fileStore) writeSnapshot(st *state) error {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(st); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		s.log.Warn("snapshot rename failed", logx.String("path", s.path), logx.Err(err))
		return err
	}
	return nil
}
