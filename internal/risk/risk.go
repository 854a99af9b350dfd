package risk

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"closebell/internal/strategy"
)

var hundred = decimal.NewFromInt(100)

// RiskContext carries everything the gate needs; the engine assembles it for
// each non-hold intent. TotalAssets is only fetched when the position cap is
// configured, HasTotalAssets distinguishes "not fetched" from zero.
type RiskContext struct {
	Price          decimal.Decimal
	PositionQty    int64
	TotalAssets    decimal.Decimal
	HasTotalAssets bool
	MaxPositionPct decimal.Decimal
	KillSwitch     bool
}

type Gate struct {
	log *zap.Logger
}

func NewGate(log *zap.Logger) Gate {
	return Gate{log: log}
}

// Evaluate approves or rejects an intent before any order is placed. Hold
// always passes; rejections carry a stable reason string.
func (g Gate) Evaluate(intent strategy.TradeIntent, ctx RiskContext) error {
	if intent.Action == strategy.Hold {
		return nil
	}
	if ctx.KillSwitch {
		g.log.Info("risk rejected", zap.String("reason", "kill_switch_enabled"))
		return fmt.Errorf("kill_switch_enabled")
	}
	if intent.Qty <= 0 {
		g.log.Info("risk rejected", zap.String("reason", "invalid_quantity"), zap.Int64("qty", intent.Qty))
		return fmt.Errorf("invalid_quantity")
	}
	if intent.Action == strategy.Sell && ctx.PositionQty <= 0 {
		g.log.Info("risk rejected", zap.String("reason", "no_position_to_sell"))
		return fmt.Errorf("no_position_to_sell")
	}
	if intent.Action == strategy.Buy && ctx.MaxPositionPct.IsPositive() {
		if !ctx.HasTotalAssets || !ctx.TotalAssets.IsPositive() {
			g.log.Info("risk rejected", zap.String("reason", "total_assets_unavailable"))
			return fmt.Errorf("total_assets_unavailable")
		}
		positionValue := ctx.Price.Mul(decimal.NewFromInt(ctx.PositionQty))
		orderNotional := intent.Price.Mul(decimal.NewFromInt(intent.Qty))
		limit := ctx.TotalAssets.Mul(ctx.MaxPositionPct).Div(hundred)
		if positionValue.Add(orderNotional).GreaterThan(limit) {
			g.log.Info("risk rejected",
				zap.String("reason", "max_position_exceeded"),
				zap.String("position_value", positionValue.String()),
				zap.String("order_notional", orderNotional.String()),
				zap.String("limit", limit.String()))
			return fmt.Errorf("max_position_exceeded")
		}
	}
	g.log.Debug("risk approved",
		zap.String("intent", string(intent.Action)),
		zap.Int64("qty", intent.Qty))
	return nil
}
