package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const snapshotVersion = 1

// snapshot is the versioned durable form of the ledger.
type snapshot struct {
	Version int              `json:"version"`
	Entries map[string]Entry `json:"entries"`
}

// Flush writes the current state to the snapshot path. The file is written
// to a temp name and renamed into place, so a crash mid-write never corrupts
// the last durable snapshot.
func (l *Ledger) Flush() error {
	if l.path == "" {
		return nil
	}

	l.mu.Lock()
	if !l.dirty {
		l.mu.Unlock()
		return nil
	}
	// Cleared before writing; writes racing the snapshot re-mark it, and a
	// failed write re-marks it below.
	l.dirty = false
	entries := make(map[string]Entry, len(l.entries))
	for k, v := range l.entries {
		entries[k] = v
	}
	l.mu.Unlock()

	if err := l.write(entries); err != nil {
		l.mu.Lock()
		l.dirty = true
		l.mu.Unlock()
		return err
	}
	return nil
}

func (l *Ledger) write(entries map[string]Entry) error {
	data, err := json.MarshalIndent(snapshot{Version: snapshotVersion, Entries: entries}, "", "  ")
	if err != nil {
		return &PersistenceError{Path: l.path, Err: err}
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return &PersistenceError{Path: l.path, Err: err}
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return &PersistenceError{Path: l.path, Err: err}
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return &PersistenceError{Path: l.path, Err: err}
	}
	return nil
}

func loadSnapshot(path string) (map[string]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, &PersistenceError{Path: path, Err: err}
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, &PersistenceError{Path: path, Err: err}
	}
	if snap.Version != snapshotVersion {
		return nil, &PersistenceError{Path: path, Err: fmt.Errorf("unsupported snapshot version %d", snap.Version)}
	}
	if snap.Entries == nil {
		snap.Entries = make(map[string]Entry)
	}
	return snap.Entries, nil
}
