package history

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Record is one executed trade in a symbol's ledger. Records are append-only
// and never rewritten.
type Record struct {
	Timestamp time.Time
	Symbol    string
	Action    string // "buy" or "sell"
	Quantity  int64
	Price     decimal.Decimal
	Volume    int64
	RawResult string
}

// LastBuy is the derived index entry backing buy-cooldown checks.
type LastBuy struct {
	Time  time.Time
	Price decimal.Decimal
}

var header = []string{"timestamp", "symbol", "action", "quantity", "price", "volume", "order_result"}

// Store owns the per-symbol CSV ledgers and the in-memory last-buy index. The
// index is rebuilt from disk on first touch of a symbol and kept current on
// every append, so lookups never rescan the file.
type Store struct {
	dir     string
	log     *zap.Logger
	mu      sync.Mutex
	index   map[string]LastBuy
	scanned map[string]bool
}

func NewStore(dir string, log *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	return &Store{
		dir:     dir,
		log:     log,
		index:   make(map[string]LastBuy),
		scanned: make(map[string]bool),
	}, nil
}

// LastBuy returns the most recent buy for symbol, if any.
func (s *Store) LastBuy(symbol string) (LastBuy, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureScanned(symbol); err != nil {
		return LastBuy{}, false, err
	}
	lb, ok := s.index[symbol]
	return lb, ok, nil
}

// Append writes rec to the symbol's ledger and updates the last-buy index.
func (s *Store) Append(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureScanned(rec.Symbol); err != nil {
		return err
	}

	path := s.path(rec.Symbol)
	_, statErr := os.Stat(path)
	writeHeader := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger for %s: %w", rec.Symbol, err)
	}
	w := csv.NewWriter(f)
	if writeHeader {
		if err := w.Write(header); err != nil {
			_ = f.Close()
			return fmt.Errorf("write ledger header for %s: %w", rec.Symbol, err)
		}
	}
	row := []string{
		rec.Timestamp.Format(time.RFC3339),
		rec.Symbol,
		rec.Action,
		strconv.FormatInt(rec.Quantity, 10),
		rec.Price.String(),
		strconv.FormatInt(rec.Volume, 10),
		rec.RawResult,
	}
	if err := w.Write(row); err != nil {
		_ = f.Close()
		return fmt.Errorf("append ledger for %s: %w", rec.Symbol, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush ledger for %s: %w", rec.Symbol, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close ledger for %s: %w", rec.Symbol, err)
	}

	if rec.Action == "buy" {
		s.index[rec.Symbol] = LastBuy{Time: rec.Timestamp, Price: rec.Price}
	}
	return nil
}

// Records returns every parseable record for symbol in ledger order.
func (s *Store) Records(symbol string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(symbol)
}

func (s *Store) ensureScanned(symbol string) error {
	if s.scanned[symbol] {
		return nil
	}
	records, err := s.load(symbol)
	if err != nil {
		return err
	}
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].Action == "buy" {
			s.index[symbol] = LastBuy{Time: records[i].Timestamp, Price: records[i].Price}
			break
		}
	}
	s.scanned[symbol] = true
	return nil
}

func (s *Store) path(symbol string) string {
	return filepath.Join(s.dir, strings.ToLower(symbol)+"_trading.csv")
}

// load reads the ledger tolerantly: malformed or truncated lines are skipped
// with a warning so a crash mid-append never poisons future lookups.
func (s *Store) load(symbol string) ([]Record, error) {
	f, err := os.Open(s.path(symbol))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open ledger for %s: %w", symbol, err)
	}
	defer func() {
		_ = f.Close()
	}()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var records []Record
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			s.log.Warn("skipping unreadable ledger line", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		rec, ok := parseRow(row)
		if !ok {
			if len(row) > 0 && row[0] != header[0] {
				s.log.Warn("skipping malformed ledger line", zap.String("symbol", symbol))
			}
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseRow(row []string) (Record, bool) {
	if len(row) != len(header) {
		return Record{}, false
	}
	ts, err := time.Parse(time.RFC3339, row[0])
	if err != nil {
		return Record{}, false
	}
	action := row[2]
	if action != "buy" && action != "sell" {
		return Record{}, false
	}
	qty, err := strconv.ParseInt(row[3], 10, 64)
	if err != nil {
		return Record{}, false
	}
	price, err := decimal.NewFromString(row[4])
	if err != nil {
		return Record{}, false
	}
	volume, err := strconv.ParseInt(row[5], 10, 64)
	if err != nil {
		return Record{}, false
	}
	return Record{
		Timestamp: ts,
		Symbol:    row[1],
		Action:    action,
		Quantity:  qty,
		Price:     price,
		Volume:    volume,
		RawResult: row[6],
	}, true
}
