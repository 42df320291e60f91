package configstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/halcyonquant/retune/internal/domain"
)

const backupTimestampLayout = "20060102T150405Z"

var (
	// ErrNotFound indicates no active configuration exists for the horizon.
	ErrNotFound = errors.New("no active configuration")
	// ErrNoBackup indicates no backup exists for the horizon.
	ErrNoBackup = errors.New("no backup available")
)

// Store is the versioned on-disk representation of each horizon's active
// configuration plus its backup history. Layout:
//
//	<dir>/<horizon>.json
//	<dir>/backups/<horizon>_<timestamp>.json
type Store struct {
	dir   string
	clock func() time.Time
}

// NewStore creates a store rooted at dir. The directory is created lazily on
// first write.
func NewStore(dir string) *Store {
	return &Store{dir: dir, clock: time.Now}
}

// SetClock overrides the timestamp source (for testing).
func (s *Store) SetClock(clock func() time.Time) {
	s.clock = clock
}

// Path returns the active configuration path for a horizon.
func (s *Store) Path(h domain.Horizon) string {
	return filepath.Join(s.dir, string(h)+".json")
}

// BackupDir returns the backup directory path.
func (s *Store) BackupDir() string {
	return filepath.Join(s.dir, "backups")
}

// Load reads the active configuration for a horizon.
func (s *Store) Load(h domain.Horizon) (*Configuration, error) {
	data, err := os.ReadFile(s.Path(h))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w for horizon %s", ErrNotFound, h)
		}
		return nil, fmt.Errorf("read config for %s: %w", h, err)
	}

	var cfg Configuration
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config for %s: %w", h, err)
	}
	return &cfg, nil
}

// Write replaces the active configuration for cfg.Horizon atomically.
func (s *Store) Write(cfg *Configuration) error {
	h, err := domain.ParseHorizon(cfg.Horizon)
	if err != nil {
		return err
	}
	if err := writeJSONAtomic(s.Path(h), cfg); err != nil {
		return fmt.Errorf("write config for %s: %w", h, err)
	}
	return nil
}

// Backup copies the current active configuration to a timestamped backup file
// and returns the backup path. Returns ErrNotFound when there is no active
// configuration to back up.
func (s *Store) Backup(h domain.Horizon) (string, error) {
	data, err := os.ReadFile(s.Path(h))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w for horizon %s", ErrNotFound, h)
		}
		return "", fmt.Errorf("read config for backup of %s: %w", h, err)
	}

	name := fmt.Sprintf("%s_%s.json", h, s.clock().UTC().Format(backupTimestampLayout))
	path := filepath.Join(s.BackupDir(), name)
	if err := writeFileAtomic(path, data); err != nil {
		return "", fmt.Errorf("write backup for %s: %w", h, err)
	}
	return path, nil
}

// LatestBackup returns the path of the most recent backup for a horizon.
func (s *Store) LatestBackup(h domain.Horizon) (string, error) {
	backups, err := s.ListBackups(h)
	if err != nil {
		return "", err
	}
	if len(backups) == 0 {
		return "", fmt.Errorf("%w for horizon %s", ErrNoBackup, h)
	}
	return backups[0], nil
}

// ListBackups returns all backup paths for a horizon, most recent first.
// Timestamped names sort lexicographically, so a reverse name sort is a
// reverse time sort.
func (s *Store) ListBackups(h domain.Horizon) ([]string, error) {
	entries, err := os.ReadDir(s.BackupDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list backups: %w", err)
	}

	prefix := string(h) + "_"
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		paths = append(paths, filepath.Join(s.BackupDir(), e.Name()))
	}
	sort.Sort(sort.Reverse(sort.StringSlice(paths)))
	return paths, nil
}

// Restore replaces the active configuration with a byte-identical copy of the
// most recent backup, atomically. Returns the backup path that was restored.
func (s *Store) Restore(h domain.Horizon) (string, error) {
	backup, err := s.LatestBackup(h)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(backup)
	if err != nil {
		return "", fmt.Errorf("read backup %s: %w", backup, err)
	}
	if err := writeFileAtomic(s.Path(h), data); err != nil {
		return "", fmt.Errorf("restore %s from %s: %w", h, backup, err)
	}
	return backup, nil
}
