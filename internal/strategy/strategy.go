package strategy

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

type Action string

const (
	Hold Action = "hold"
	Buy  Action = "buy"
	Sell Action = "sell"
)

// tick is the offset applied to the last price when no limit price is
// configured, so the order stays marketable without crossing far.
var tick = decimal.New(1, -2)

var hundred = decimal.NewFromInt(100)

// Config is one symbol's validated strategy. Zero values for limit prices and
// intervals mean "no restriction"; missing fields never reach this type.
type Config struct {
	Symbol              string
	Name                string
	BuyPoint            decimal.Decimal
	SellPoint           decimal.Decimal
	BuyTotalAmount      decimal.Decimal
	SellTotalAmount     decimal.Decimal
	BuyLimitPrice       decimal.Decimal
	SellLimitPrice      decimal.Decimal
	BuyDayInterval      int
	BuyPriceIntervalPct decimal.Decimal
	MaxPositionPct      decimal.Decimal
}

// Snapshot is everything Decide consumes besides the held position, which is
// fetched lazily through a PositionFunc only when a sell is on the table.
type Snapshot struct {
	Price        decimal.Decimal
	Volume       int64
	Today        time.Time // exchange-local midnight
	HasPriorBuy  bool
	LastBuyDate  time.Time // exchange-local midnight of the last buy
	LastBuyPrice decimal.Decimal
}

type TradeIntent struct {
	Action Action
	Qty    int64
	Price  decimal.Decimal
	Reason string
}

type PositionFunc func() (int64, error)

// Decide evaluates the threshold strategy in fixed order: the buy branch is
// checked before the sell branch, so a misconfigured overlap resolves to a buy.
// It has no side effects beyond the position fetch and never places orders.
func Decide(cfg Config, snap Snapshot, position PositionFunc) (TradeIntent, error) {
	price := snap.Price
	if price.Sign() <= 0 {
		return TradeIntent{Action: Hold, Reason: "no_price"}, nil
	}

	if price.LessThanOrEqual(cfg.BuyPoint) {
		if reason, blocked := buyCooldownBlocked(cfg, snap); blocked {
			return TradeIntent{Action: Hold, Reason: reason}, nil
		}
		qty := cfg.BuyTotalAmount.Div(price).Floor().IntPart()
		if qty <= 0 {
			return TradeIntent{Action: Hold, Reason: "buy_notional_too_small"}, nil
		}
		exec := cfg.BuyLimitPrice
		if !exec.IsPositive() {
			exec = price.Sub(tick)
		}
		return TradeIntent{Action: Buy, Qty: qty, Price: exec, Reason: "price_at_or_below_buy_point"}, nil
	}

	if price.GreaterThanOrEqual(cfg.SellPoint) {
		held, err := position()
		if err != nil {
			return TradeIntent{Action: Hold}, fmt.Errorf("query position: %w", err)
		}
		if held <= 0 {
			return TradeIntent{Action: Hold, Reason: "no_position_to_sell"}, nil
		}
		qty := held
		if cfg.SellTotalAmount.IsPositive() {
			if limit := cfg.SellTotalAmount.Div(price).Floor().IntPart(); limit < qty {
				qty = limit
			}
			if qty <= 0 {
				return TradeIntent{Action: Hold, Reason: "sell_notional_too_small"}, nil
			}
		}
		exec := cfg.SellLimitPrice
		if !exec.IsPositive() {
			exec = price.Add(tick)
		}
		return TradeIntent{Action: Sell, Qty: qty, Price: exec, Reason: "price_at_or_above_sell_point"}, nil
	}

	return TradeIntent{Action: Hold, Reason: "price_between_points"}, nil
}

func buyCooldownBlocked(cfg Config, snap Snapshot) (string, bool) {
	if !snap.HasPriorBuy {
		return "", false
	}
	if cfg.BuyDayInterval > 0 {
		if daysBetween(snap.LastBuyDate, snap.Today) < cfg.BuyDayInterval {
			return "buy_day_interval_active", true
		}
	}
	if cfg.BuyPriceIntervalPct.IsPositive() && snap.LastBuyPrice.IsPositive() {
		movePct := snap.Price.Sub(snap.LastBuyPrice).Div(snap.LastBuyPrice).Mul(hundred).Abs()
		if movePct.LessThan(cfg.BuyPriceIntervalPct) {
			return "buy_price_interval_active", true
		}
	}
	return "", false
}

// daysBetween counts calendar days from a to b. Both are local midnights, so
// rounding absorbs DST-shortened or -lengthened days.
func daysBetween(a, b time.Time) int {
	return int(math.Round(b.Sub(a).Hours() / 24))
}
