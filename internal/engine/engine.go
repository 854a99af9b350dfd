package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"closebell/internal/gateway"
	"closebell/internal/history"
	"closebell/internal/risk"
	"closebell/internal/session"
	"closebell/internal/state"
	"closebell/internal/strategy"
)

// Gateway is the slice of the broker gateway the engine consumes.
type Gateway interface {
	Quote(ctx context.Context, symbol string) (gateway.Quote, error)
	PlaceOrder(ctx context.Context, req gateway.OrderRequest) (gateway.OrderResult, error)
	PositionQty(ctx context.Context, symbol string) (int64, error)
	TotalAssets(ctx context.Context) (decimal.Decimal, error)
}

// PersistenceError marks a failed durable write after a confirmed order: the
// one failure mode that can produce a duplicate order after a restart, so it
// is surfaced loudly instead of swallowed.
type PersistenceError struct {
	Symbol string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist after order for %s: %v", e.Symbol, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

type Options struct {
	PollInterval     time.Duration
	CloseLeadMinutes int
	KillSwitch       bool
	Now              func() time.Time // test hook; defaults to time.Now
}

type Engine struct {
	interval  time.Duration
	closeLead int
	killAll   bool
	calendar  session.Calendar
	loader    *strategy.Loader
	gw        Gateway
	history   *history.Store
	state     *state.Store
	gate      risk.Gate
	evals     *EvaluationLog
	log       *zap.Logger
	now       func() time.Time

	book   *strategy.Book
	missed map[string]string // symbol -> trading date already handled post-close
}

func New(opts Options, calendar session.Calendar, loader *strategy.Loader, gw Gateway,
	hist *history.Store, st *state.Store, gate risk.Gate, evals *EvaluationLog, log *zap.Logger) *Engine {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		interval:  opts.PollInterval,
		closeLead: opts.CloseLeadMinutes,
		killAll:   opts.KillSwitch,
		calendar:  calendar,
		loader:    loader,
		gw:        gw,
		history:   hist,
		state:     st,
		gate:      gate,
		evals:     evals,
		log:       log,
		now:       now,
		missed:    make(map[string]string),
	}
}

// Run executes poll cycles until ctx is cancelled. Cancellation is observed
// only between cycles, so an in-flight order and its ledger and state writes
// always complete before shutdown.
func (e *Engine) Run(ctx context.Context) error {
	e.RunCycle(ctx)
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.RunCycle(ctx)
		}
	}
}

// RunCycle reloads the strategy book and evaluates every configured symbol
// once. A per-symbol failure never aborts the rest of the cycle.
func (e *Engine) RunCycle(ctx context.Context) {
	book, err := e.loader.Load()
	switch {
	case err == nil:
		e.book = book
	case e.book == nil:
		e.log.Error("strategy book unavailable", zap.Error(err))
		return
	default:
		e.log.Warn("strategy reload failed, keeping previous book", zap.Error(err))
	}

	now := e.now()
	for _, symbol := range e.book.Symbols() {
		e.evalSymbol(ctx, now, symbol)
	}
}

func (e *Engine) evalSymbol(ctx context.Context, now time.Time, symbol string) {
	log := e.log.With(zap.String("symbol", symbol))
	today := e.calendar.TradingDate(now)

	if e.calendar.IsTradingDay(now) && e.calendar.MinutesUntilClose(now) <= 0 {
		e.noteMissedWindow(symbol, today, log)
		return
	}
	if !e.calendar.IsTradingSession(now) {
		log.Debug("outside trading session")
		return
	}
	if !e.calendar.InCloseWindow(now, e.closeLead) {
		log.Debug("outside close window",
			zap.Float64("minutes_until_close", e.calendar.MinutesUntilClose(now)))
		return
	}

	executed, err := e.state.ExecutedOn(symbol, today)
	if err != nil {
		log.Error("execution state read failed", zap.Error(err))
		return
	}
	if executed {
		log.Debug("already executed today")
		return
	}

	cfg, err := e.book.Get(symbol)
	if err != nil {
		var cerr *strategy.ConfigError
		if errors.As(err, &cerr) {
			log.Warn("skipping symbol", zap.String("reason", cerr.Reason))
		} else {
			log.Warn("skipping symbol", zap.Error(err))
		}
		return
	}

	quote, err := e.gw.Quote(ctx, symbol)
	if err != nil {
		e.logGatewayFailure(log, "quote", err)
		return
	}

	snap := strategy.Snapshot{Price: quote.LastPrice, Volume: quote.Volume, Today: today}
	lastBuy, hasBuy, err := e.history.LastBuy(symbol)
	if err != nil {
		log.Error("trade history read failed", zap.Error(err))
		return
	}
	if hasBuy {
		snap.HasPriorBuy = true
		snap.LastBuyDate = e.calendar.TradingDate(lastBuy.Time)
		snap.LastBuyPrice = lastBuy.Price
	}

	var heldQty int64
	var heldKnown bool
	positionFn := func() (int64, error) {
		qty, err := e.gw.PositionQty(ctx, symbol)
		if err == nil {
			heldQty, heldKnown = qty, true
		}
		return qty, err
	}

	intent, err := strategy.Decide(cfg, snap, positionFn)
	ev := Evaluation{
		RunID:     e.evals.RunID(),
		Timestamp: now,
		Symbol:    symbol,
		Price:     quote.LastPrice.String(),
		Volume:    quote.Volume,
		Intent:    intent.Action,
		IntentQty: intent.Qty,
		Reason:    intent.Reason,
	}
	if err != nil {
		ev.Result = "evaluation_failed"
		ev.Error = err.Error()
		e.evals.Append(ev)
		e.logGatewayFailure(log, "position", err)
		return
	}
	if intent.Action == strategy.Hold {
		ev.Result = "hold"
		e.evals.Append(ev)
		log.Info("hold",
			zap.String("reason", intent.Reason),
			zap.String("price", quote.LastPrice.String()),
			zap.Int64("volume", quote.Volume))
		return
	}

	riskCtx := risk.RiskContext{
		Price:          quote.LastPrice,
		PositionQty:    heldQty,
		MaxPositionPct: cfg.MaxPositionPct,
		KillSwitch:     e.killAll,
	}
	if intent.Action == strategy.Buy && cfg.MaxPositionPct.IsPositive() {
		if !heldKnown {
			qty, err := e.gw.PositionQty(ctx, symbol)
			if err != nil {
				ev.Result = "risk_context_failed"
				ev.Error = err.Error()
				e.evals.Append(ev)
				e.logGatewayFailure(log, "position", err)
				return
			}
			riskCtx.PositionQty = qty
		}
		assets, err := e.gw.TotalAssets(ctx)
		if err != nil {
			ev.Result = "risk_context_failed"
			ev.Error = err.Error()
			e.evals.Append(ev)
			e.logGatewayFailure(log, "fund", err)
			return
		}
		riskCtx.TotalAssets = assets
		riskCtx.HasTotalAssets = true
	}
	if err := e.gate.Evaluate(intent, riskCtx); err != nil {
		ev.Result = "rejected"
		ev.Error = err.Error()
		e.evals.Append(ev)
		return
	}

	clientOrderID := fmt.Sprintf("%s-%s", symbol, today.Format("20060102"))
	ev.ClientOrderID = clientOrderID
	result, err := e.gw.PlaceOrder(ctx, gateway.OrderRequest{
		Symbol:        symbol,
		Qty:           intent.Qty,
		Price:         intent.Price,
		Side:          string(intent.Action),
		ClientOrderID: clientOrderID,
	})
	if err != nil {
		ev.Result = "order_failed"
		ev.Error = err.Error()
		e.evals.Append(ev)
		e.logGatewayFailure(log, "order", err)
		return
	}

	var perr *PersistenceError
	rec := history.Record{
		Timestamp: now,
		Symbol:    symbol,
		Action:    string(intent.Action),
		Quantity:  intent.Qty,
		Price:     quote.LastPrice,
		Volume:    quote.Volume,
		RawResult: result.Raw,
	}
	if err := e.history.Append(rec); err != nil {
		perr = &PersistenceError{Symbol: symbol, Err: err}
		log.Error("CRITICAL: ledger append failed after successful order", zap.Error(err))
	}
	if err := e.state.MarkExecuted(symbol, today); err != nil {
		perr = &PersistenceError{Symbol: symbol, Err: err}
		log.Error("CRITICAL: execution state write failed after successful order, duplicate-order risk on restart",
			zap.Error(err))
	}

	if perr != nil {
		ev.Result = "executed_persist_failed"
		ev.Error = perr.Error()
	} else {
		ev.Result = "executed"
	}
	e.evals.Append(ev)
	log.Info("order executed",
		zap.String("side", string(intent.Action)),
		zap.Int64("qty", intent.Qty),
		zap.String("price", intent.Price.String()),
		zap.String("client_order_id", clientOrderID))
}

// noteMissedWindow logs, once per symbol per day, that the close window passed
// without an execution. The opportunity is gone until the next trading day.
func (e *Engine) noteMissedWindow(symbol string, today time.Time, log *zap.Logger) {
	key := today.Format("2006-01-02")
	if e.missed[symbol] == key {
		return
	}
	executed, err := e.state.ExecutedOn(symbol, today)
	if err != nil {
		log.Error("execution state read failed", zap.Error(err))
		return
	}
	e.missed[symbol] = key
	if !executed {
		log.Info("close window passed without execution", zap.String("trading_date", key))
	}
}

func (e *Engine) logGatewayFailure(log *zap.Logger, op string, err error) {
	var rej *gateway.RejectionError
	if errors.As(err, &rej) {
		log.Warn("gateway rejected "+op,
			zap.String("endpoint", rej.Endpoint),
			zap.String("message", rej.Message))
		return
	}
	log.Warn("gateway "+op+" failed, will retry next tick", zap.Error(err))
}
