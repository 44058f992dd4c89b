package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"botcore/internal/broker"
	"botcore/internal/events"
	"botcore/internal/risk"
	"botcore/internal/sim"
	"botcore/internal/strategy"
	"botcore/pkg/store"
)

// cycleTimeout bounds one full trading cycle including broker round-trips.
const cycleTimeout = 30 * time.Second

// Instance is one running bot. Lifecycle moves
// idle -> starting -> running -> {paused, stopping} -> stopped, with error
// reachable from anywhere on a cycle panic.
type Instance struct {
	key          string
	userID       string
	botID        string
	brokerName   string
	symbol       string
	strategyName string
	params       Parameters
	paper        bool

	strat   strategy.Strategy
	adapter broker.Adapter
	account *sim.Simulator // nil in live mode

	db         *store.Store
	riskEngine *risk.Engine
	bus        *events.Bus

	stopping  atomic.Bool
	executing atomic.Bool // single-flight guard for cycles

	mu                  sync.Mutex
	status              Status
	timer               *time.Timer
	startedAt           time.Time
	sessionStartBalance float64
	counterDate         string // local yyyy-mm-dd the daily counters belong to
	dailyTrades         int
	dailyPnl            float64
	totalPnl            float64
	consecLosses        int
	martingaleStep      int
	stakeMultiplier     float64
	lastError           string
	cycleErrors         int
	outOfSession        bool
	open                []openTrade
}

// openTrade is a position this instance opened and still manages.
type openTrade struct {
	TradeID    string
	Ticket     string // broker ticket in live mode
	Symbol     string
	Side       broker.Side
	EntryPrice float64
	Quantity   float64
	StopLoss   float64
	TakeProfit float64
	OpenedAt   time.Time
}

// View snapshots the instance for callers outside the package.
func (b *Instance) View() View {
	b.mu.Lock()
	defer b.mu.Unlock()
	return View{
		Key:               b.key,
		UserID:            b.userID,
		BotID:             b.botID,
		Broker:            b.brokerName,
		Symbol:            b.symbol,
		Strategy:          b.strategyName,
		Status:            b.status,
		Paper:             b.paper,
		StartedAt:         b.startedAt,
		DailyTrades:       b.dailyTrades,
		DailyProfitLoss:   b.dailyPnl,
		TotalProfitLoss:   b.totalPnl,
		ConsecutiveLosses: b.consecLosses,
		OpenPositions:     len(b.open),
		LastError:         b.lastError,
		Parameters:        b.params,
	}
}

// Status returns the current lifecycle state.
func (b *Instance) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// Key returns the instance's registry key.
func (b *Instance) Key() string { return b.key }

// start transitions starting -> running and arms the first cycle.
func (b *Instance) start(firstDelay time.Duration) {
	b.mu.Lock()
	b.status = StatusRunning
	b.startedAt = time.Now()
	b.counterDate = localDate(time.Now())
	b.stakeMultiplier = 1
	b.timer = time.AfterFunc(firstDelay, b.tick)
	b.mu.Unlock()

	b.bus.Publish(events.TopicBotStarted, b.View())
	b.logActivity(events.LevelInfo, fmt.Sprintf("Bot started: %s on %s (%s)", b.strategyName, b.symbol, modeLabel(b.paper)), "")
}

func (b *Instance) tick() {
	b.runCycle()
	b.scheduleNext()
}

func (b *Instance) scheduleNext() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopping.Load() || b.status == StatusStopped || b.status == StatusError {
		return
	}
	b.timer = time.AfterFunc(b.params.CycleInterval, b.tick)
}

// runCycle executes one trading cycle. Overlapping invocations are skipped
// rather than queued, and a panic inside the cycle parks the bot in error
// instead of taking the process down.
func (b *Instance) runCycle() {
	if !b.executing.CompareAndSwap(false, true) {
		log.Printf("bot %s: cycle still in flight, skipping", b.key)
		return
	}
	defer b.executing.Store(false)

	defer func() {
		if r := recover(); r != nil {
			b.enterError(fmt.Sprintf("cycle panic: %v", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), cycleTimeout)
	defer cancel()

	if err := b.cycle(ctx); err != nil {
		b.mu.Lock()
		b.cycleErrors++
		b.lastError = err.Error()
		b.mu.Unlock()
		log.Printf("bot %s: cycle error: %v", b.key, err)
		b.logActivity(events.LevelWarning, fmt.Sprintf("Cycle skipped: %v", err), "")
		return
	}
	b.mu.Lock()
	b.cycleErrors = 0
	b.mu.Unlock()
}

// cycle is one pass of the trading loop. Every step is fail-soft: an error
// returns and the bot tries again next cycle.
func (b *Instance) cycle(ctx context.Context) error {
	now := time.Now()

	b.mu.Lock()
	if b.status == StatusPaused {
		b.mu.Unlock()
		return nil
	}
	if d := localDate(now); d != b.counterDate {
		b.counterDate = d
		b.dailyTrades = 0
		b.dailyPnl = 0
	}
	b.mu.Unlock()

	if !b.withinSession(now) {
		b.noteSessionGate(true)
		return nil
	}
	b.noteSessionGate(false)

	quote, err := b.fetchQuote(ctx)
	if err != nil {
		return fmt.Errorf("quote %s: %w", b.symbol, err)
	}

	// Mark open positions to market; stops and targets fire here.
	if b.paper {
		for _, ct := range b.account.UpdatePositions(ctx, quote) {
			b.handleClosed(ctx, ct)
		}
		b.reconcile(ctx)
	}

	sig := b.strat.Analyze(quote)

	if err := b.checkExits(ctx, quote); err != nil {
		return err
	}

	if sig == nil {
		return nil
	}
	return b.enter(ctx, sig, quote)
}

// fetchQuote pulls the latest tick, retrying once on a transient broker error.
func (b *Instance) fetchQuote(ctx context.Context) (broker.Quote, error) {
	q, err := b.adapter.GetQuote(ctx, b.symbol)
	if err != nil && errors.Is(err, broker.ErrAdapter) {
		q, err = b.adapter.GetQuote(ctx, b.symbol)
	}
	return q, err
}

// checkExits asks the strategy whether any held position should be closed
// against the current tick.
func (b *Instance) checkExits(ctx context.Context, q broker.Quote) error {
	b.mu.Lock()
	held := make([]openTrade, len(b.open))
	copy(held, b.open)
	b.mu.Unlock()

	for _, ot := range held {
		if ot.Symbol != q.Symbol {
			continue
		}
		view := strategy.Position{
			Symbol:     ot.Symbol,
			Side:       ot.Side,
			EntryPrice: ot.EntryPrice,
			Quantity:   ot.Quantity,
			OpenedAt:   ot.OpenedAt,
		}
		if !b.strat.ShouldExit(view, q) {
			continue
		}
		if err := b.closeTrade(ctx, ot, q.Mid(), store.CloseReasonReverseSignal); err != nil {
			return err
		}
	}
	return nil
}

// enter sizes, risk-checks and places a new position for the signal.
func (b *Instance) enter(ctx context.Context, sig *strategy.Signal, q broker.Quote) error {
	b.mu.Lock()
	openCount := len(b.open)
	multiplier := b.stakeMultiplier
	sessionStart := b.sessionStartBalance
	b.mu.Unlock()

	if openCount >= b.params.MaxConcurrentTrades {
		return nil
	}

	balance, err := b.currentBalance(ctx)
	if err != nil {
		return fmt.Errorf("balance: %w", err)
	}

	entry := q.Mid()
	if sig.Side == broker.SideBuy && q.Ask > 0 {
		entry = q.Ask
	} else if sig.Side == broker.SideSell && q.Bid > 0 {
		entry = q.Bid
	}
	if entry <= 0 {
		return fmt.Errorf("no usable price for %s", b.symbol)
	}

	slPrice, tpPrice := b.exitPrices(sig.Side, entry)

	settings, err := b.db.GetRiskSettings(ctx, b.userID, b.brokerName)
	if err != nil {
		return fmt.Errorf("risk settings: %w", err)
	}

	stake := risk.CalculateStakeSize(balance, settings.RiskPerTrade, entry, slPrice, settings.MaxStakeSize)
	if b.params.Martingale {
		stake *= multiplier
	}
	if stake <= 0 {
		return fmt.Errorf("stake sized to zero: balance=%.2f risk=%.2f%%", balance, settings.RiskPerTrade)
	}

	// The engine caps cash at risk. With a stop set the stake is in units,
	// so convert back through the stop distance before the check.
	riskCash := stake
	if slPrice > 0 {
		dist := entry - slPrice
		if dist < 0 {
			dist = -dist
		}
		riskCash = stake * dist
	}

	res, err := b.riskEngine.CheckTradeAllowed(ctx, b.userID, b.brokerName, riskCash, balance, sessionStart)
	if err != nil {
		return fmt.Errorf("risk check: %w", err)
	}
	if !res.Allowed {
		b.bus.Publish(events.TopicRiskDenied, map[string]any{
			"bot_key": b.key, "user_id": b.userID, "reason": res.Reason,
		})
		b.logActivity(events.LevelWarning, "Trade blocked: "+res.Reason, "")
		return nil
	}

	// A stop requested mid-cycle wins over the pending order.
	if b.stopping.Load() {
		return nil
	}

	quantity := stake
	if slPrice <= 0 {
		quantity = stake / entry
	}

	tradeID := uuid.NewString()
	ot := openTrade{
		TradeID:    tradeID,
		Symbol:     sig.Symbol,
		Side:       sig.Side,
		Quantity:   quantity,
		StopLoss:   slPrice,
		TakeProfit: tpPrice,
		OpenedAt:   time.Now(),
	}

	if b.paper {
		pos, err := b.account.ExecuteTrade(ctx, sim.TradeRequest{
			TradeID:    tradeID,
			Symbol:     sig.Symbol,
			Side:       sig.Side,
			Quantity:   quantity,
			StopLoss:   slPrice,
			TakeProfit: tpPrice,
		}, q)
		if err != nil {
			return fmt.Errorf("simulated order: %w", err)
		}
		ot.EntryPrice = pos.EntryPrice
	} else {
		ack, err := b.placeOrder(ctx, broker.OrderParams{
			Symbol:     sig.Symbol,
			Side:       sig.Side,
			Volume:     quantity,
			StopLoss:   slPrice,
			TakeProfit: tpPrice,
			Comment:    b.botID,
		})
		if err != nil {
			return fmt.Errorf("order: %w", err)
		}
		ot.Ticket = ack.OrderID
		ot.EntryPrice = ack.FillPrice
		if ot.EntryPrice <= 0 {
			ot.EntryPrice = entry
		}
	}

	b.persistOpen(ctx, ot)

	b.mu.Lock()
	b.open = append(b.open, ot)
	b.dailyTrades++
	b.mu.Unlock()

	b.bus.Publish(events.TopicTradeOpened, map[string]any{
		"bot_key": b.key, "user_id": b.userID, "trade_id": ot.TradeID,
		"symbol": ot.Symbol, "side": string(ot.Side),
		"entry_price": ot.EntryPrice, "quantity": ot.Quantity,
	})
	msg := fmt.Sprintf("Opened %s %s %.4f @ %.4f", ot.Side, ot.Symbol, ot.Quantity, ot.EntryPrice)
	if sig.Note != "" {
		msg += " (" + sig.Note + ")"
	}
	b.logActivity(events.LevelSuccess, msg, ot.TradeID)
	return nil
}

// placeOrder submits to the broker, retrying once on a transient error.
func (b *Instance) placeOrder(ctx context.Context, p broker.OrderParams) (broker.OrderAck, error) {
	ack, err := b.adapter.PlaceOrder(ctx, p)
	if err != nil && errors.Is(err, broker.ErrAdapter) {
		ack, err = b.adapter.PlaceOrder(ctx, p)
	}
	return ack, err
}

// closeTrade flattens one held position and settles the books.
func (b *Instance) closeTrade(ctx context.Context, ot openTrade, mark float64, reason string) error {
	var pnl, exitPrice float64

	if b.paper {
		ct, err := b.account.ClosePosition(ctx, ot.TradeID, mark, reason)
		if err != nil {
			if errors.Is(err, sim.ErrPositionNotFound) {
				// Already closed by a stop or target this tick.
				b.forget(ot.TradeID)
				return nil
			}
			return fmt.Errorf("close %s: %w", ot.TradeID, err)
		}
		pnl, exitPrice = ct.ProfitLoss, ct.ExitPrice
	} else {
		if err := b.adapter.ClosePosition(ctx, ot.Ticket); err != nil {
			return fmt.Errorf("close ticket %s: %w", ot.Ticket, err)
		}
		if mark <= 0 {
			if q, qerr := b.adapter.GetQuote(ctx, ot.Symbol); qerr == nil {
				mark = q.Mid()
			} else {
				mark = ot.EntryPrice
			}
		}
		exitPrice = mark
		pnl = (exitPrice - ot.EntryPrice) * ot.Quantity
		if ot.Side == broker.SideSell {
			pnl = -pnl
		}
	}

	b.settleClose(ctx, ot.TradeID, ot.Symbol, exitPrice, pnl, reason)
	return nil
}

// handleClosed settles a trade the simulator closed on its own (stop or
// target crossing). Trades opened by other bots on the shared account are
// persisted but do not touch this bot's counters.
func (b *Instance) handleClosed(ctx context.Context, ct sim.ClosedTrade) {
	if !b.owns(ct.TradeID) {
		b.persistClose(ctx, ct.TradeID, ct.ExitPrice, ct.ProfitLoss, ct.CloseReason)
		return
	}
	b.settleClose(ctx, ct.TradeID, ct.Symbol, ct.ExitPrice, ct.ProfitLoss, ct.CloseReason)
}

// reconcile settles positions this bot opened that left the shared account
// on another bot's tick. Without it such a closure would hold a concurrency
// slot forever and never reach the counters.
func (b *Instance) reconcile(ctx context.Context) {
	b.mu.Lock()
	held := make([]openTrade, len(b.open))
	copy(held, b.open)
	b.mu.Unlock()
	if len(held) == 0 {
		return
	}

	live := make(map[string]bool, len(held))
	for _, p := range b.account.GetOpenPositions() {
		live[p.TradeID] = true
	}
	for _, ot := range held {
		if live[ot.TradeID] {
			continue
		}
		ct, ok := b.account.FindClosed(ot.TradeID)
		if !ok {
			// Gone without a trace, typically an account reset.
			b.forget(ot.TradeID)
			continue
		}
		b.settleClose(ctx, ct.TradeID, ct.Symbol, ct.ExitPrice, ct.ProfitLoss, ct.CloseReason)
	}
}

// settleClose updates counters, martingale state, persistence and events for
// one of this bot's closed trades.
func (b *Instance) settleClose(ctx context.Context, tradeID, symbol string, exitPrice, pnl float64, reason string) {
	b.forget(tradeID)
	b.persistClose(ctx, tradeID, exitPrice, pnl, reason)

	b.mu.Lock()
	b.dailyPnl += pnl
	b.totalPnl += pnl
	if pnl < 0 {
		b.consecLosses++
		if b.params.Martingale && b.martingaleStep < b.params.MaxMartingaleSteps {
			b.martingaleStep++
			b.stakeMultiplier *= b.params.MartingaleFactor
		}
	} else {
		b.consecLosses = 0
		b.martingaleStep = 0
		b.stakeMultiplier = 1
	}
	b.mu.Unlock()

	b.bus.Publish(events.TopicTradeClosed, map[string]any{
		"bot_key": b.key, "user_id": b.userID, "trade_id": tradeID,
		"symbol": symbol, "exit_price": exitPrice, "pnl": pnl, "reason": reason,
	})

	level := events.LevelSuccess
	if pnl < 0 {
		level = events.LevelWarning
	}
	b.logActivity(level, fmt.Sprintf("Closed %s @ %.4f: %+.2f (%s)", symbol, exitPrice, pnl, reason), tradeID)
}

// stop is idempotent: the first call wins, later calls return immediately.
// The cycle timer is cancelled synchronously and any in-flight cycle sees the
// stopping flag before it can place a final order.
func (b *Instance) stop(ctx context.Context, reason string) {
	if !b.stopping.CompareAndSwap(false, true) {
		return
	}

	b.mu.Lock()
	b.status = StatusStopping
	if b.timer != nil {
		b.timer.Stop()
	}
	held := make([]openTrade, len(b.open))
	copy(held, b.open)
	b.mu.Unlock()

	for _, ot := range held {
		if err := b.closeTrade(ctx, ot, 0, store.CloseReasonForceStop); err != nil {
			log.Printf("bot %s: force close %s: %v", b.key, ot.TradeID, err)
		}
	}

	b.mu.Lock()
	b.status = StatusStopped
	b.mu.Unlock()

	b.bus.Publish(events.TopicBotStopped, map[string]any{
		"bot_key": b.key, "user_id": b.userID, "reason": reason,
	})
	msg := "Bot stopped"
	if reason != "" {
		msg += ": " + reason
	}
	b.logActivity(events.LevelInfo, msg, "")
}

// pause suspends trading without tearing the bot down; positions stay open
// and keep marking to market.
func (b *Instance) pause() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status == StatusRunning {
		b.status = StatusPaused
	}
}

func (b *Instance) resume() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status == StatusPaused {
		b.status = StatusRunning
	}
}

// enterError parks the bot after an unrecoverable cycle failure.
func (b *Instance) enterError(msg string) {
	b.mu.Lock()
	b.status = StatusError
	b.lastError = msg
	if b.timer != nil {
		b.timer.Stop()
	}
	b.mu.Unlock()

	log.Printf("bot %s: fatal: %s", b.key, msg)
	b.bus.Publish(events.TopicBotError, map[string]any{
		"bot_key": b.key, "user_id": b.userID, "error": msg,
	})
	b.logActivity(events.LevelError, "Bot halted: "+msg, "")
}

func (b *Instance) currentBalance(ctx context.Context) (float64, error) {
	if b.paper {
		return b.account.GetBalance().Balance, nil
	}
	summary, err := b.adapter.GetBalance(ctx)
	if err != nil && errors.Is(err, broker.ErrAdapter) {
		summary, err = b.adapter.GetBalance(ctx)
	}
	if err != nil {
		return 0, err
	}
	return summary.Balance, nil
}

// exitPrices derives absolute stop and target prices from the percentage
// parameters. Zero percentages leave the corresponding level unset.
func (b *Instance) exitPrices(side broker.Side, entry float64) (sl, tp float64) {
	if b.params.StopLossPct > 0 {
		if side == broker.SideBuy {
			sl = entry * (1 - b.params.StopLossPct/100)
		} else {
			sl = entry * (1 + b.params.StopLossPct/100)
		}
	}
	if b.params.TakeProfitPct > 0 {
		if side == broker.SideBuy {
			tp = entry * (1 + b.params.TakeProfitPct/100)
		} else {
			tp = entry * (1 - b.params.TakeProfitPct/100)
		}
	}
	return sl, tp
}

// withinSession applies the configured trading window, which may span
// midnight. An unset window means the bot trades around the clock.
func (b *Instance) withinSession(now time.Time) bool {
	if b.params.SessionStart == "" || b.params.SessionEnd == "" {
		return true
	}
	start, err1 := minutesOfDay(b.params.SessionStart)
	end, err2 := minutesOfDay(b.params.SessionEnd)
	if err1 != nil || err2 != nil {
		return true
	}
	cur := now.Hour()*60 + now.Minute()
	if start <= end {
		return cur >= start && cur < end
	}
	return cur >= start || cur < end
}

// noteSessionGate logs session-window transitions once instead of every cycle.
func (b *Instance) noteSessionGate(outside bool) {
	b.mu.Lock()
	changed := b.outOfSession != outside
	b.outOfSession = outside
	b.mu.Unlock()
	if !changed {
		return
	}
	if outside {
		b.logActivity(events.LevelInfo, fmt.Sprintf("Outside trading session %s-%s, standing by", b.params.SessionStart, b.params.SessionEnd), "")
	} else {
		b.logActivity(events.LevelInfo, "Trading session open", "")
	}
}

func (b *Instance) owns(tradeID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ot := range b.open {
		if ot.TradeID == tradeID {
			return true
		}
	}
	return false
}

func (b *Instance) forget(tradeID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, ot := range b.open {
		if ot.TradeID == tradeID {
			b.open = append(b.open[:i], b.open[i+1:]...)
			return
		}
	}
}

func (b *Instance) persistOpen(ctx context.Context, ot openTrade) {
	if b.db == nil {
		return
	}
	t := store.Trade{
		TradeID:        ot.TradeID,
		UserID:         b.userID,
		Broker:         b.brokerName,
		BotKey:         b.key,
		Symbol:         ot.Symbol,
		Side:           string(ot.Side),
		EntryPrice:     ot.EntryPrice,
		Quantity:       ot.Quantity,
		Status:         store.TradeStatusOpen,
		EntryTimestamp: ot.OpenedAt,
	}
	if ot.StopLoss > 0 {
		t.StopLoss = &ot.StopLoss
	}
	if ot.TakeProfit > 0 {
		t.TakeProfit = &ot.TakeProfit
	}
	if err := b.db.SaveTrade(ctx, t); err != nil {
		log.Printf("bot %s: persist trade %s: %v", b.key, ot.TradeID, err)
	}
}

func (b *Instance) persistClose(ctx context.Context, tradeID string, exitPrice, pnl float64, reason string) {
	if b.db == nil {
		return
	}
	now := time.Now()
	t := store.Trade{
		TradeID:       tradeID,
		ExitPrice:     &exitPrice,
		Status:        store.TradeStatusClosed,
		RealizedPnl:   &pnl,
		CloseReason:   reason,
		ExitTimestamp: &now,
	}
	if err := b.db.UpdateTrade(ctx, t); err != nil {
		log.Printf("bot %s: persist close %s: %v", b.key, tradeID, err)
	}
}

// logActivity mirrors an activity entry to the process log, the event bus and
// the durable bot log.
func (b *Instance) logActivity(level events.LogLevel, msg, tradeID string) {
	log.Printf("bot %s: [%s] %s", b.key, level, msg)
	b.bus.PublishLog(events.BotLogEntry{
		BotKey:  b.key,
		UserID:  b.userID,
		Level:   level,
		Message: msg,
		TradeID: tradeID,
	})
	if b.db != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := b.db.InsertBotLog(ctx, store.BotLogRecord{
			BotKey:  b.key,
			UserID:  b.userID,
			Level:   string(level),
			Message: msg,
			TradeID: tradeID,
		}); err != nil {
			log.Printf("bot %s: persist log: %v", b.key, err)
		}
	}
}

func localDate(t time.Time) string {
	return t.Format("2006-01-02")
}

func minutesOfDay(hhmm string) (int, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

func modeLabel(paper bool) string {
	if paper {
		return "paper"
	}
	return "live"
}
