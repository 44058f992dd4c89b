// Package bot runs trading bots: one Instance per (user, bot, broker,
// symbol) key, all owned by a Manager that enforces single-start semantics
// and routes lifecycle operations.
package bot

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"botcore/internal/broker"
	"botcore/internal/events"
	"botcore/internal/risk"
	"botcore/internal/session"
	"botcore/internal/sim"
	"botcore/internal/strategy"
	"botcore/pkg/store"
)

// Options tunes manager-wide defaults.
type Options struct {
	CycleInterval   time.Duration // default trading cycle period
	FirstCycleDelay time.Duration // delay before a new bot's first cycle
	InitialBalance  float64       // seed balance for new paper accounts
}

func (o *Options) applyDefaults() {
	if o.CycleInterval <= 0 {
		o.CycleInterval = 10 * time.Second
	}
	if o.FirstCycleDelay <= 0 {
		o.FirstCycleDelay = time.Second
	}
	if o.InitialBalance <= 0 {
		o.InitialBalance = 10000
	}
}

// StartRequest describes one bot to launch.
type StartRequest struct {
	UserID         string
	BotID          string
	Broker         string
	Symbol         string
	Strategy       string // optional; falls back to resolving BotID
	StrategyConfig strategy.Config
	Adapter        broker.Adapter // optional; cached per (user, broker) when set
	Paper          bool
	Params         Parameters
}

// Manager owns every running bot and the shared paper accounts.
type Manager struct {
	db         *store.Store
	riskEngine *risk.Engine
	strategies *strategy.Registry
	sessions   *session.Registry
	bus        *events.Bus
	opts       Options

	mu   sync.RWMutex
	bots map[string]*Instance
	sims map[simKey]*sim.Simulator
}

type simKey struct {
	userID string
	broker string
}

// NewManager wires a bot manager over its collaborators.
func NewManager(db *store.Store, riskEngine *risk.Engine, strategies *strategy.Registry, sessions *session.Registry, bus *events.Bus, opts Options) *Manager {
	opts.applyDefaults()
	return &Manager{
		db:         db,
		riskEngine: riskEngine,
		strategies: strategies,
		sessions:   sessions,
		bus:        bus,
		opts:       opts,
		bots:       make(map[string]*Instance),
		sims:       make(map[simKey]*sim.Simulator),
	}
}

// Start launches a bot and returns its key. Starting a key that is already
// running fails with ErrAlreadyRunning; a stopped or errored instance under
// the same key is replaced.
func (m *Manager) Start(ctx context.Context, req StartRequest) (string, error) {
	if req.UserID == "" || req.BotID == "" || req.Symbol == "" {
		return "", fmt.Errorf("start bot: user id, bot id and symbol are required")
	}
	if req.Broker == "" {
		req.Broker = "mock"
	}
	if req.Params.CycleInterval <= 0 {
		req.Params.CycleInterval = m.opts.CycleInterval
	}
	req.Params.applyDefaults()

	adapter, attached, err := m.resolveAdapter(req)
	if err != nil {
		return "", err
	}
	paper := req.Paper || adapter.IsPaperTrading()

	strat, err := m.strategies.Resolve(req.Strategy, req.BotID, req.StrategyConfig)
	if err != nil {
		return "", err
	}

	key := Key(req.UserID, req.BotID, req.Broker, req.Symbol)
	inst := &Instance{
		key:          key,
		userID:       req.UserID,
		botID:        req.BotID,
		brokerName:   req.Broker,
		symbol:       req.Symbol,
		strategyName: strat.Name(),
		params:       req.Params,
		paper:        paper,
		strat:        strat,
		adapter:      adapter,
		db:           m.db,
		riskEngine:   m.riskEngine,
		bus:          m.bus,
		status:       StatusStarting,
	}

	m.mu.Lock()
	if existing, ok := m.bots[key]; ok {
		st := existing.Status()
		if st != StatusStopped && st != StatusError {
			m.mu.Unlock()
			return "", fmt.Errorf("%w: %s", ErrAlreadyRunning, key)
		}
	}
	m.bots[key] = inst
	m.mu.Unlock()

	if err := m.prepare(ctx, inst, attached); err != nil {
		m.mu.Lock()
		delete(m.bots, key)
		m.mu.Unlock()
		return "", err
	}

	inst.start(m.opts.FirstCycleDelay)
	log.Printf("bot started: key=%s strategy=%s paper=%v", key, strat.Name(), paper)
	return key, nil
}

// resolveAdapter picks the broker connection for a start request: an
// explicitly supplied adapter wins and is cached for the session, otherwise
// the session cache is consulted. Paper sessions without any connection get
// an in-process mock feed.
func (m *Manager) resolveAdapter(req StartRequest) (adapter broker.Adapter, attached bool, err error) {
	if req.Adapter != nil {
		m.sessions.SetUserAdapter(req.UserID, req.Broker, req.Adapter)
		return req.Adapter, true, nil
	}
	if a := m.sessions.GetUserAdapter(req.UserID, req.Broker); a != nil {
		return a, false, nil
	}
	if req.Paper {
		mock := broker.NewMockAdapter(0, 0, true)
		m.sessions.SetUserAdapter(req.UserID, req.Broker, mock)
		return mock, false, nil
	}
	return nil, false, fmt.Errorf("%w: user=%s broker=%s", ErrAdapterRequired, req.UserID, req.Broker)
}

// prepare finishes instance setup: paper bots get the shared simulated
// account, live bots authenticate and capture the session's opening balance
// for drawdown tracking.
func (m *Manager) prepare(ctx context.Context, inst *Instance, authenticate bool) error {
	if inst.paper {
		account := m.simulator(inst.userID, inst.brokerName)
		if err := account.Initialize(ctx); err != nil {
			return fmt.Errorf("init paper account: %w", err)
		}
		inst.account = account
		state := account.GetBalance()
		inst.sessionStartBalance = state.InitialBalance
		return nil
	}

	if authenticate {
		if err := inst.adapter.Authenticate(ctx); err != nil {
			return fmt.Errorf("broker auth: %w", err)
		}
	}
	summary, err := inst.adapter.GetBalance(ctx)
	if err != nil {
		return fmt.Errorf("broker balance: %w", err)
	}
	inst.sessionStartBalance = summary.Balance
	return nil
}

// simulator returns the shared paper account for a (user, broker) pair,
// creating it on first use.
func (m *Manager) simulator(userID, brokerName string) *sim.Simulator {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := simKey{userID, brokerName}
	if s, ok := m.sims[key]; ok {
		return s
	}
	s := sim.New(userID, brokerName, m.db, m.opts.InitialBalance)
	m.sims[key] = s
	return s
}

// Stop stops every instance of a user's bot across brokers and symbols.
// Stopping an already-stopped bot is a no-op per instance.
func (m *Manager) Stop(ctx context.Context, userID, botID, reason string) (int, error) {
	m.mu.RLock()
	var targets []*Instance
	for _, inst := range m.bots {
		if inst.userID == userID && inst.botID == botID {
			targets = append(targets, inst)
		}
	}
	m.mu.RUnlock()

	if len(targets) == 0 {
		return 0, fmt.Errorf("%w: user=%s bot=%s", ErrBotNotFound, userID, botID)
	}
	for _, inst := range targets {
		inst.stop(ctx, reason)
	}
	return len(targets), nil
}

// StopKey stops one instance by its exact key.
func (m *Manager) StopKey(ctx context.Context, key, reason string) error {
	m.mu.RLock()
	inst, ok := m.bots[key]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrBotNotFound, key)
	}
	inst.stop(ctx, reason)
	return nil
}

// Pause suspends one instance's trading; Resume lifts the suspension.
func (m *Manager) Pause(key string) error {
	m.mu.RLock()
	inst, ok := m.bots[key]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrBotNotFound, key)
	}
	inst.pause()
	return nil
}

func (m *Manager) Resume(key string) error {
	m.mu.RLock()
	inst, ok := m.bots[key]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrBotNotFound, key)
	}
	inst.resume()
	return nil
}

// GetBot returns one instance's snapshot.
func (m *Manager) GetBot(key string) (View, error) {
	m.mu.RLock()
	inst, ok := m.bots[key]
	m.mu.RUnlock()
	if !ok {
		return View{}, fmt.Errorf("%w: %s", ErrBotNotFound, key)
	}
	return inst.View(), nil
}

// GetUserBots lists a user's bots, running or not, in stable key order.
func (m *Manager) GetUserBots(userID string) []View {
	m.mu.RLock()
	views := make([]View, 0)
	for _, inst := range m.bots {
		if inst.userID == userID {
			views = append(views, inst.View())
		}
	}
	m.mu.RUnlock()

	sort.Slice(views, func(i, j int) bool { return views[i].Key < views[j].Key })
	return views
}

// Count returns the number of registered instances, any state.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bots)
}

// GetRiskMetrics reports the live risk snapshot for a (user, broker)
// session. Paper sessions use the shared account's seed balance as the
// drawdown baseline; live sessions use the opening balance captured when the
// session's first bot started.
func (m *Manager) GetRiskMetrics(ctx context.Context, userID, brokerName string) (risk.Metrics, error) {
	var balance, sessionStart float64

	m.mu.RLock()
	account := m.sims[simKey{userID, brokerName}]
	m.mu.RUnlock()

	if account != nil {
		state := account.GetBalance()
		balance, sessionStart = state.Balance, state.InitialBalance
	} else if a := m.sessions.GetUserAdapter(userID, brokerName); a != nil {
		summary, err := a.GetBalance(ctx)
		if err != nil {
			return risk.Metrics{}, fmt.Errorf("broker balance: %w", err)
		}
		balance = summary.Balance
		sessionStart = m.liveSessionStart(userID, brokerName)
		if sessionStart <= 0 {
			sessionStart = balance
		}
	}
	return m.riskEngine.GetMetrics(ctx, userID, brokerName, balance, sessionStart)
}

// liveSessionStart returns the opening balance captured by the earliest
// live instance of this (user, broker) session, or 0 when none exists.
func (m *Manager) liveSessionStart(userID, brokerName string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var start float64
	var earliest time.Time
	for _, inst := range m.bots {
		if inst.paper || inst.userID != userID || inst.brokerName != brokerName {
			continue
		}
		inst.mu.Lock()
		at, bal := inst.startedAt, inst.sessionStartBalance
		inst.mu.Unlock()
		if bal <= 0 {
			continue
		}
		if earliest.IsZero() || at.Before(earliest) {
			start, earliest = bal, at
		}
	}
	return start
}

// Account returns the paper account snapshot for a (user, broker) pair,
// creating and loading the account on first use.
func (m *Manager) Account(ctx context.Context, userID, brokerName string) (sim.AccountState, error) {
	account := m.simulator(userID, brokerName)
	if err := account.Initialize(ctx); err != nil {
		return sim.AccountState{}, err
	}
	return account.GetBalance(), nil
}

// ResetAccount wipes the paper account back to a starting balance. Running
// bots keep trading against the reset account.
func (m *Manager) ResetAccount(ctx context.Context, userID, brokerName string, balance float64) (sim.AccountState, error) {
	account := m.simulator(userID, brokerName)
	if err := account.Initialize(ctx); err != nil {
		return sim.AccountState{}, err
	}
	account.Reset(ctx, balance)
	state := account.GetBalance()
	m.bus.Publish(events.TopicAccountReset, map[string]any{
		"user_id": userID, "broker": brokerName, "balance": state.Balance,
	})
	return state, nil
}

// PaperHistory returns the in-memory closed-trade history of the paper
// account, oldest first.
func (m *Manager) PaperHistory(userID, brokerName string) []sim.ClosedTrade {
	m.mu.RLock()
	account := m.sims[simKey{userID, brokerName}]
	m.mu.RUnlock()
	if account == nil {
		return nil
	}
	return account.GetHistory()
}

// Shutdown stops every bot, typically on process exit.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.RLock()
	targets := make([]*Instance, 0, len(m.bots))
	for _, inst := range m.bots {
		targets = append(targets, inst)
	}
	m.mu.RUnlock()

	for _, inst := range targets {
		inst.stop(ctx, "shutdown")
	}
	log.Printf("bot manager shut down: %d bots stopped", len(targets))
}
