package state

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

const dateLayout = "2006-01-02"

type fileModel struct {
	LastExecutionDate string `json:"last_execution_date"`
}

// Store is the durable executed-today guard, one JSON file per symbol. The
// guard is the equality between the persisted date and the current trading
// date, so a new trading day clears it without a write.
type Store struct {
	dir    string
	mu     sync.Mutex
	dates  map[string]string
	loaded map[string]bool
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &Store{
		dir:    dir,
		dates:  make(map[string]string),
		loaded: make(map[string]bool),
	}, nil
}

// ExecutedOn reports whether an action already executed for symbol on the
// given trading date.
func (s *Store) ExecutedOn(symbol string, date time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(symbol); err != nil {
		return false, err
	}
	return s.dates[symbol] == date.Format(dateLayout), nil
}

// MarkExecuted durably records that symbol executed on date. The write goes
// through a temp file and rename so a crash never leaves a torn state file.
func (s *Store) MarkExecuted(symbol string, date time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	formatted := date.Format(dateLayout)
	payload, err := json.Marshal(fileModel{LastExecutionDate: formatted})
	if err != nil {
		return fmt.Errorf("marshal execution state for %s: %w", symbol, err)
	}
	path := s.path(symbol)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return fmt.Errorf("write execution state for %s: %w", symbol, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit execution state for %s: %w", symbol, err)
	}
	s.dates[symbol] = formatted
	s.loaded[symbol] = true
	return nil
}

func (s *Store) ensureLoaded(symbol string) error {
	if s.loaded[symbol] {
		return nil
	}
	data, err := os.ReadFile(s.path(symbol))
	if err != nil {
		if os.IsNotExist(err) {
			s.loaded[symbol] = true
			return nil
		}
		return fmt.Errorf("read execution state for %s: %w", symbol, err)
	}
	var m fileModel
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("parse execution state for %s: %w", symbol, err)
	}
	if m.LastExecutionDate != "" {
		if _, err := time.Parse(dateLayout, m.LastExecutionDate); err != nil {
			return fmt.Errorf("parse execution date for %s: %w", symbol, err)
		}
		s.dates[symbol] = m.LastExecutionDate
	}
	s.loaded[symbol] = true
	return nil
}

func (s *Store) path(symbol string) string {
	return filepath.Join(s.dir, strings.ToLower(symbol)+"_state.json")
}
