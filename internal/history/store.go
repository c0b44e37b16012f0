// Package history persists completed play sessions and per-game playtime
// aggregates to a versioned JSON ledger in the XDG state directory.
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"

	"github.com/playlog/backend/internal/tracker"
)

const (
	// ledgerVersion is bumped when the schema changes so Load can apply
	// migrations in the future.
	ledgerVersion = 1

	historyFileName = "history.json"
	appDirName      = "playlog"

	// maxRecentSessions caps the per-file session list; aggregates keep
	// counting beyond it.
	maxRecentSessions = 500
)

// GameTotals is the per-game playtime aggregate.
type GameTotals struct {
	Sessions      int       `json:"sessions"`
	ActiveSeconds float64   `json:"activeSeconds"`
	IdleSeconds   float64   `json:"idleSeconds"`
	FirstPlayedAt time.Time `json:"firstPlayedAt"`
	LastPlayedAt  time.Time `json:"lastPlayedAt"`
}

// Ledger is the on-disk shape of the history file.
type Ledger struct {
	Version     int                        `json:"version"`
	Totals      map[string]*GameTotals     `json:"totals"`
	Recent      []tracker.CompletedSession `json:"recent"`
	LastUpdated time.Time                  `json:"lastUpdated"`
}

func newLedger() *Ledger {
	return &Ledger{
		Version: ledgerVersion,
		Totals:  make(map[string]*GameTotals),
	}
}

func (l *Ledger) initMaps() {
	if l.Totals == nil {
		l.Totals = make(map[string]*GameTotals)
	}
}

// Store handles loading and saving the ledger on disk.
type Store struct {
	dir string
}

// NewStore creates a Store rooted at dir. Pass an empty string to use the
// default XDG state path. The directory is created on first Save.
func NewStore(dir string) *Store {
	if dir == "" {
		dir = filepath.Join(xdg.StateHome, appDirName)
	}
	return &Store{dir: dir}
}

// Path returns the full path to the history file.
func (s *Store) Path() string {
	return filepath.Join(s.dir, historyFileName)
}

// Load reads the ledger from disk. A missing file yields an empty ledger.
func (s *Store) Load() (*Ledger, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return newLedger(), nil
		}
		return nil, fmt.Errorf("reading history: %w", err)
	}

	var l Ledger
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("parsing history: %w", err)
	}
	l.initMaps()
	return &l, nil
}

// Save writes the ledger using an atomic temp-file-then-rename pattern so
// a crash mid-write never corrupts existing history.
func (s *Store) Save(l *Ledger) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("creating history dir: %w", err)
	}

	l.Version = ledgerVersion
	l.LastUpdated = time.Now().UTC()

	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling history: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(s.dir, ".history-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.Path()); err != nil {
		return fmt.Errorf("renaming history file: %w", err)
	}
	committed = true

	return nil
}
