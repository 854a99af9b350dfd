package strategy

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// ConfigError reports a symbol whose strategy entry is unusable. The engine
// skips that symbol for the cycle; other symbols are unaffected.
type ConfigError struct {
	Symbol string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("strategy config for %s: %s", e.Symbol, e.Reason)
}

// fileEntry mirrors one symbol's entry in the strategy file. Fields are
// pointers so a missing key is distinguishable from an explicit zero; a zero
// is a meaningful "no restriction", a missing key is a config error.
type fileEntry struct {
	Name             string           `json:"name"`
	BuyPoint         *decimal.Decimal `json:"buy_point" validate:"required"`
	SellPoint        *decimal.Decimal `json:"sell_point" validate:"required"`
	BuyTotal         *decimal.Decimal `json:"buy_total" validate:"required"`
	SellTotal        *decimal.Decimal `json:"sell_total" validate:"required"`
	BuyLimitPrice    *decimal.Decimal `json:"buy_limit_price" validate:"required"`
	SellLimitPrice   *decimal.Decimal `json:"sell_limit_price" validate:"required"`
	BuyDayInterval   *int             `json:"buy_day_interval" validate:"required"`
	BuyPriceInterval *decimal.Decimal `json:"buy_price_interval" validate:"required"`
	MaxPosition      *decimal.Decimal `json:"max_position" validate:"required"`
}

func (e fileEntry) toConfig(symbol string) Config {
	return Config{
		Symbol:              symbol,
		Name:                e.Name,
		BuyPoint:            *e.BuyPoint,
		SellPoint:           *e.SellPoint,
		BuyTotalAmount:      *e.BuyTotal,
		SellTotalAmount:     *e.SellTotal,
		BuyLimitPrice:       *e.BuyLimitPrice,
		SellLimitPrice:      *e.SellLimitPrice,
		BuyDayInterval:      *e.BuyDayInterval,
		BuyPriceIntervalPct: *e.BuyPriceInterval,
		MaxPositionPct:      *e.MaxPosition,
	}
}

// Book is one parsed load of the strategy file. Invalid entries are retained
// as typed errors rather than silently defaulted or dropped.
type Book struct {
	symbols []string
	entries map[string]Config
	invalid map[string]*ConfigError
}

func (b *Book) Symbols() []string { return b.symbols }

func (b *Book) Len() int { return len(b.symbols) }

func (b *Book) Get(symbol string) (Config, error) {
	if cerr, ok := b.invalid[symbol]; ok {
		return Config{}, cerr
	}
	cfg, ok := b.entries[symbol]
	if !ok {
		return Config{}, &ConfigError{Symbol: symbol, Reason: "no strategy entry"}
	}
	return cfg, nil
}

// Loader reads and validates the strategy file. The engine reloads through it
// every cycle so parameter edits take effect without a restart.
type Loader struct {
	path     string
	validate *validator.Validate
}

func NewLoader(path string) *Loader {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Loader{path: path, validate: v}
}

func (l *Loader) Load() (*Book, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read strategy file: %w", err)
	}
	var raw map[string]fileEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse strategy file: %w", err)
	}

	book := &Book{
		entries: make(map[string]Config, len(raw)),
		invalid: make(map[string]*ConfigError),
	}
	for symbol, entry := range raw {
		if err := l.validate.Struct(entry); err != nil {
			book.invalid[symbol] = &ConfigError{Symbol: symbol, Reason: describeValidation(err)}
		} else {
			book.entries[symbol] = entry.toConfig(symbol)
		}
		book.symbols = append(book.symbols, symbol)
	}
	sort.Strings(book.symbols)
	return book, nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field())
	}
	return "missing required fields: " + strings.Join(fields, ", ")
}
