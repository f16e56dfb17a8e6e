package skillbook

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Store persists a Skillbook to a single JSON file via the write-temp-then-
// rename pattern, so a crash mid-write never corrupts the prior good state.
type Store struct {
	path string
}

// NewStore binds a Store to path. The file need not exist yet.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the skillbook from disk. A missing file returns an empty
// Skillbook with no error. A corrupt file is preserved alongside the
// original path as "<path>.broken-<unix ts>" and an empty Skillbook is
// returned so callers can keep operating.
func (s *Store) Load(now time.Time) (Skillbook, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return Skillbook{Version: CurrentVersion}, nil
	}
	if err != nil {
		return Skillbook{}, fmt.Errorf("skillbook: read %s: %w", s.path, err)
	}

	var sb Skillbook
	if err := json.Unmarshal(data, &sb); err != nil {
		brokenPath := fmt.Sprintf("%s.broken-%d", s.path, now.Unix())
		_ = os.WriteFile(brokenPath, data, 0o644)
		return Skillbook{Version: CurrentVersion}, nil
	}

	return upgrade(sb), nil
}

// upgrade applies best-effort field defaults when loading a file written by
// an older version header.
func upgrade(sb Skillbook) Skillbook {
	if sb.Version >= CurrentVersion {
		return sb
	}
	for i := range sb.Skills {
		if sb.Skills[i].CreatedAt.IsZero() {
			sb.Skills[i].CreatedAt = time.Unix(0, 0).UTC()
		}
		if sb.Skills[i].LastUsedAt.IsZero() {
			sb.Skills[i].LastUsedAt = sb.Skills[i].CreatedAt
		}
	}
	sb.Version = CurrentVersion
	return sb
}

// Save atomically persists sb: write to a sibling temp file, fsync, rename
// over the target path.
func (s *Store) Save(sb Skillbook) error {
	sb.Version = CurrentVersion
	data, err := json.MarshalIndent(sb, "", "  ")
	if err != nil {
		return fmt.Errorf("skillbook: marshal: %w", err)
	}

	dir := filepath.Dir(s.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("skillbook: mkdir %s: %w", dir, err)
		}
	}

	tmp, err := os.CreateTemp(dir, ".skillbook-*.tmp")
	if err != nil {
		return fmt.Errorf("skillbook: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("skillbook: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("skillbook: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("skillbook: close temp: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("skillbook: rename into place: %w", err)
	}
	return nil
}
