package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"microgrid/internal/id"
)

var ErrCorrupt = errors.New("positions file is corrupt")

// Store persists the ledger as a JSON array. Writes keep only the most
// recent maxPositions entries and replace the file atomically.
type Store struct {
	path         string
	maxPositions int
}

func NewStore(path string, maxPositions int) *Store {
	return &Store{path: path, maxPositions: maxPositions}
}

func (s *Store) Path() string {
	return s.path
}

// Load returns the persisted positions. A missing file yields an empty
// ledger and no error. A malformed file yields an empty ledger together with
// an error wrapping ErrCorrupt so the caller can log it and carry on.
func (s *Store) Load() ([]Position, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return []Position{}, nil
	}
	if err != nil {
		return []Position{}, err
	}

	var raw []Position
	if err := json.Unmarshal(data, &raw); err != nil {
		return []Position{}, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
	}

	positions := make([]Position, 0, len(raw))
	for _, p := range raw {
		if err := p.Validate(); err != nil {
			slog.Warn("skipping invalid persisted position", "path", s.path, "error", err)
			continue
		}
		if p.ID == "" {
			p.ID = id.At(p.OpenedAt)
		}
		positions = append(positions, p)
	}
	return positions, nil
}

func (s *Store) Save(positions []Position) error {
	if s.maxPositions > 0 && len(positions) > s.maxPositions {
		positions = positions[len(positions)-s.maxPositions:]
	}
	if positions == nil {
		positions = []Position{}
	}
	data, err := json.MarshalIndent(positions, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp positions file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write positions: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync positions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace positions file: %w", err)
	}
	return nil
}
