// Package risk evaluates every prospective trade against the owning
// session's persisted limits before an order is placed.
package risk

import (
	"context"
	"fmt"
	"time"

	"botcore/pkg/store"
)

// recentClosedScan bounds the back-to-front loss scan.
const recentClosedScan = 50

// stakeTolerance allows 10% slack on the risk-per-trade cap for rounding.
const stakeTolerance = 1.10

// Engine loads fresh session state from the trade store and runs the pure
// evaluation. Results are never cached across cycles.
type Engine struct {
	store *store.Store
}

// NewEngine creates a risk engine backed by the trade store.
func NewEngine(s *store.Store) *Engine {
	return &Engine{store: s}
}

// CheckTradeAllowed loads the session's settings and today's trade records
// and evaluates the proposed cash at risk. sessionStartBalance is the
// balance the session opened with, used for drawdown.
func (e *Engine) CheckTradeAllowed(ctx context.Context, userID, brokerName string, proposedStake, balance, sessionStartBalance float64) (CheckResult, error) {
	settings, err := e.store.GetRiskSettings(ctx, userID, brokerName)
	if err != nil {
		return CheckResult{}, fmt.Errorf("load risk settings: %w", err)
	}

	dayStart := startOfLocalDay(time.Now())
	enteredToday, err := e.store.FindTrades(ctx, store.TradeFilter{
		UserID: userID,
		Broker: brokerName,
		Since:  dayStart,
	}, "entry_ts DESC", 0)
	if err != nil {
		return CheckResult{}, fmt.Errorf("load today's entries: %w", err)
	}

	// Daily P/L keys on close time so a position held across midnight lands
	// on the day it settled, matching the bots' own counters.
	closedToday, err := e.store.FindTrades(ctx, store.TradeFilter{
		UserID:      userID,
		Broker:      brokerName,
		Status:      store.TradeStatusClosed,
		ClosedSince: dayStart,
	}, "exit_ts DESC", 0)
	if err != nil {
		return CheckResult{}, fmt.Errorf("load today's closes: %w", err)
	}

	var recentClosed []store.Trade
	if settings.MaxConsecutiveLosses > 0 {
		recentClosed, err = e.store.FindTrades(ctx, store.TradeFilter{
			UserID: userID,
			Broker: brokerName,
			Status: store.TradeStatusClosed,
		}, "exit_ts DESC", recentClosedScan)
		if err != nil {
			return CheckResult{}, fmt.Errorf("load closed trades: %w", err)
		}
	}

	return Evaluate(settings, enteredToday, closedToday, recentClosed, proposedStake, balance, sessionStartBalance), nil
}

// GetMetrics returns the current metrics snapshot for a session without an
// admission decision attached.
func (e *Engine) GetMetrics(ctx context.Context, userID, brokerName string, balance, sessionStartBalance float64) (Metrics, error) {
	res, err := e.CheckTradeAllowed(ctx, userID, brokerName, 0, balance, sessionStartBalance)
	if err != nil {
		return Metrics{}, err
	}
	return res.Metrics, nil
}

// Evaluate is the pure admission check over a proposed cash stake.
// enteredToday drives the trade-count limit, closedToday the daily P/L.
// Checks run in a fixed order and the first failure wins so the caller gets
// the most specific reason.
func Evaluate(settings store.RiskSettings, enteredToday, closedToday, recentClosed []store.Trade, proposedStake, balance, sessionStartBalance float64) CheckResult {
	metrics := Metrics{
		DailyTradeCount:   len(enteredToday),
		DailyProfitLoss:   dailyProfitLoss(closedToday),
		ConsecutiveLosses: consecutiveLosses(recentClosed, recentClosedScan),
	}
	if sessionStartBalance > 0 {
		metrics.DrawdownPercent = (sessionStartBalance - balance) / sessionStartBalance * 100
	}

	deny := func(reason string) CheckResult {
		return CheckResult{Allowed: false, Reason: reason, Metrics: metrics}
	}

	// 1. Daily trade count.
	if settings.MaxTradesPerDay > 0 && metrics.DailyTradeCount >= settings.MaxTradesPerDay {
		return deny(fmt.Sprintf("Daily trade limit reached: %d/%d", metrics.DailyTradeCount, settings.MaxTradesPerDay))
	}

	// 2. Daily loss limit.
	if settings.DailyLossLimit > 0 && metrics.DailyProfitLoss <= -settings.DailyLossLimit {
		return deny(fmt.Sprintf("Daily loss limit exceeded: %.2f/%.2f", -metrics.DailyProfitLoss, settings.DailyLossLimit))
	}

	// 3. Absolute stake cap.
	if settings.MaxStakeSize > 0 && proposedStake > settings.MaxStakeSize {
		return deny(fmt.Sprintf("Stake %.2f exceeds max stake size %.2f", proposedStake, settings.MaxStakeSize))
	}

	// 4. Risk-per-trade cap with rounding tolerance.
	if settings.RiskPerTrade > 0 {
		allowed := balance * settings.RiskPerTrade / 100 * stakeTolerance
		if proposedStake > allowed {
			return deny(fmt.Sprintf("Stake %.2f exceeds %.1f%% risk per trade (max %.2f)", proposedStake, settings.RiskPerTrade, allowed))
		}
	}

	// 5. Session drawdown stop.
	if settings.AutoStopDrawdown > 0 && metrics.DrawdownPercent >= settings.AutoStopDrawdown {
		return deny(fmt.Sprintf("Drawdown %.1f%% reached auto-stop threshold %.1f%%", metrics.DrawdownPercent, settings.AutoStopDrawdown))
	}

	// 6. Consecutive losses.
	if settings.MaxConsecutiveLosses > 0 && metrics.ConsecutiveLosses >= settings.MaxConsecutiveLosses {
		return deny(fmt.Sprintf("%d consecutive losses reached limit %d", metrics.ConsecutiveLosses, settings.MaxConsecutiveLosses))
	}

	return CheckResult{Allowed: true, Metrics: metrics}
}

// CalculateStakeSize sizes a position from the session's risk fraction.
// The cash at risk is clamped to maxStakeSize first; with a known stop that
// amount is spread over the per-unit distance to the stop, without one it is
// staked directly (binary-option style).
func CalculateStakeSize(balance, riskPerTrade, entryPrice, stopLoss, maxStakeSize float64) float64 {
	riskAmount := balance * riskPerTrade / 100
	if maxStakeSize > 0 && riskAmount > maxStakeSize {
		riskAmount = maxStakeSize
	}
	if stopLoss > 0 && entryPrice > 0 && entryPrice != stopLoss {
		perUnit := entryPrice - stopLoss
		if perUnit < 0 {
			perUnit = -perUnit
		}
		return riskAmount / perUnit
	}
	return riskAmount
}

// dailyProfitLoss sums realized PnL across today's closed trades.
func dailyProfitLoss(trades []store.Trade) float64 {
	var pnl float64
	for _, t := range trades {
		if t.Status == store.TradeStatusClosed && t.RealizedPnl != nil {
			pnl += *t.RealizedPnl
		}
	}
	return pnl
}

// consecutiveLosses scans closed trades newest-first until a non-loss is hit
// or maxScan is exhausted.
func consecutiveLosses(closed []store.Trade, maxScan int) int {
	count := 0
	for i, t := range closed {
		if i >= maxScan {
			break
		}
		if t.RealizedPnl != nil && *t.RealizedPnl < 0 {
			count++
			continue
		}
		break
	}
	return count
}

func startOfLocalDay(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
}
