package automation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"botcore/internal/bot"
)

// defaultPoll is how often rules are evaluated.
const defaultPoll = 10 * time.Second

// Orchestrator is the slice of the bot manager automation drives.
type Orchestrator interface {
	Start(ctx context.Context, req bot.StartRequest) (string, error)
	StopKey(ctx context.Context, key, reason string) error
	GetBot(key string) (bot.View, error)
}

// ruleState is the evaluator's memory between polls.
type ruleState struct {
	startedKey string    // bot key this rule last started
	fired      bool      // threshold rules fire once per run
	restarts   int       // recovery attempts so far
	nextTry    time.Time // recovery backoff deadline
}

// Manager evaluates automation rules on a fixed poll and acts through the
// bot orchestrator. It holds no trading state of its own.
type Manager struct {
	bots Orchestrator
	poll time.Duration

	mu    sync.Mutex
	rules map[string]*Rule
	state map[string]*ruleState

	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a rule evaluator over the bot orchestrator.
func NewManager(bots Orchestrator, poll time.Duration) *Manager {
	if poll <= 0 {
		poll = defaultPoll
	}
	return &Manager{
		bots:  bots,
		poll:  poll,
		rules: make(map[string]*Rule),
		state: make(map[string]*ruleState),
	}
}

// AddRule registers or replaces a rule. Replacing resets its runtime state.
func (m *Manager) AddRule(r Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[r.ID] = &r
	m.state[r.ID] = &ruleState{}
	return nil
}

// RemoveRule drops a rule. Bots it started keep running.
func (m *Manager) RemoveRule(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[id]; !ok {
		return false
	}
	delete(m.rules, id)
	delete(m.state, id)
	return true
}

// ListRules returns a copy of the registered rules.
func (m *Manager) ListRules() []Rule {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Rule, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, *r)
	}
	return out
}

// LoadFile replaces the rule set with the contents of a YAML rule file.
func (m *Manager) LoadFile(path string) (int, error) {
	rules, err := LoadRules(path)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = make(map[string]*Rule, len(rules))
	m.state = make(map[string]*ruleState, len(rules))
	for i := range rules {
		r := rules[i]
		m.rules[r.ID] = &r
		m.state[r.ID] = &ruleState{}
	}
	return len(rules), nil
}

// Run starts the evaluation loop in the background.
func (m *Manager) Run(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.poll)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.evaluate(ctx, time.Now())
			}
		}
	}()
	log.Printf("automation running: poll=%s", m.poll)
}

// Close stops the evaluation loop and waits for it to drain.
func (m *Manager) Close() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

// evaluate runs one pass over every enabled rule.
func (m *Manager) evaluate(ctx context.Context, now time.Time) {
	m.mu.Lock()
	type pair struct {
		rule  *Rule
		state *ruleState
	}
	pairs := make([]pair, 0, len(m.rules))
	for id, r := range m.rules {
		if r.Enabled {
			pairs = append(pairs, pair{r, m.state[id]})
		}
	}
	m.mu.Unlock()

	for _, p := range pairs {
		var err error
		switch p.rule.Type {
		case RuleSchedule:
			err = m.applySchedule(ctx, p.rule, p.state, now)
		case RuleProfitTarget, RuleLossLimit, RuleTimeLimit:
			err = m.applyThreshold(ctx, p.rule, p.state, now)
		case RuleRecovery:
			err = m.applyRecovery(ctx, p.rule, p.state, now)
		}
		if err != nil {
			log.Printf("automation rule %s: %v", p.rule.ID, err)
		}
	}
}

// applySchedule keeps the rule's bot running inside the window and stopped
// outside it.
func (m *Manager) applySchedule(ctx context.Context, r *Rule, st *ruleState, now time.Time) error {
	key := bot.Key(r.UserID, r.Bot.BotID, brokerOrDefault(r.Bot.Broker), r.Bot.Symbol)
	view, err := m.bots.GetBot(key)
	running := err == nil && isActive(view.Status)

	if withinSchedule(r.Schedule, now) {
		if running {
			return nil
		}
		started, serr := m.bots.Start(ctx, r.startRequest())
		if serr != nil {
			if errors.Is(serr, bot.ErrAlreadyRunning) {
				return nil
			}
			return fmt.Errorf("scheduled start: %w", serr)
		}
		st.startedKey = started
		log.Printf("automation rule %s: started %s", r.ID, started)
		return nil
	}

	if !running {
		return nil
	}
	if serr := m.bots.StopKey(ctx, key, "schedule window closed"); serr != nil {
		return fmt.Errorf("scheduled stop: %w", serr)
	}
	log.Printf("automation rule %s: stopped %s", r.ID, key)
	return nil
}

// applyThreshold stops the target bot once its condition trips. The rule
// re-arms when the bot starts a fresh run.
func (m *Manager) applyThreshold(ctx context.Context, r *Rule, st *ruleState, now time.Time) error {
	view, err := m.bots.GetBot(r.BotKey)
	if err != nil {
		return nil // target not registered yet
	}
	if !isActive(view.Status) {
		st.fired = false
		return nil
	}
	if st.fired {
		return nil
	}

	var reason string
	switch r.Type {
	case RuleProfitTarget:
		if view.TotalProfitLoss >= r.ProfitTarget {
			reason = fmt.Sprintf("profit target %.2f reached (%.2f)", r.ProfitTarget, view.TotalProfitLoss)
		}
	case RuleLossLimit:
		if view.TotalProfitLoss <= -r.LossLimit {
			reason = fmt.Sprintf("loss limit %.2f hit (%.2f)", r.LossLimit, view.TotalProfitLoss)
		}
	case RuleTimeLimit:
		limit := time.Duration(r.TimeLimitMinutes) * time.Minute
		if !view.StartedAt.IsZero() && now.Sub(view.StartedAt) >= limit {
			reason = fmt.Sprintf("run time limit %s reached", limit)
		}
	}
	if reason == "" {
		return nil
	}

	st.fired = true
	if err := m.bots.StopKey(ctx, r.BotKey, reason); err != nil {
		return fmt.Errorf("threshold stop: %w", err)
	}
	log.Printf("automation rule %s: stopped %s: %s", r.ID, r.BotKey, reason)
	return nil
}

// applyRecovery restarts a bot that halted in error, with linear backoff and
// a restart cap. A healthy run resets the attempt counter.
func (m *Manager) applyRecovery(ctx context.Context, r *Rule, st *ruleState, now time.Time) error {
	key := r.BotKey
	if key == "" {
		key = bot.Key(r.UserID, r.Bot.BotID, brokerOrDefault(r.Bot.Broker), r.Bot.Symbol)
	}
	view, err := m.bots.GetBot(key)
	if err != nil {
		return nil
	}

	if view.Status == bot.StatusRunning {
		st.restarts = 0
		return nil
	}
	if view.Status != bot.StatusError {
		return nil
	}

	maxRestarts := r.MaxRestarts
	if maxRestarts <= 0 {
		maxRestarts = 3
	}
	if st.restarts >= maxRestarts {
		return nil
	}
	if now.Before(st.nextTry) {
		return nil
	}

	st.restarts++
	cooldown := time.Duration(r.CooldownSeconds) * time.Second
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	st.nextTry = now.Add(cooldown * time.Duration(st.restarts))

	started, serr := m.bots.Start(ctx, r.startRequest())
	if serr != nil {
		return fmt.Errorf("recovery restart %d/%d: %w", st.restarts, maxRestarts, serr)
	}
	log.Printf("automation rule %s: restarted %s (attempt %d/%d)", r.ID, started, st.restarts, maxRestarts)
	return nil
}

func isActive(s bot.Status) bool {
	switch s {
	case bot.StatusStarting, bot.StatusRunning, bot.StatusPaused:
		return true
	}
	return false
}

func brokerOrDefault(name string) string {
	if name == "" {
		return "mock"
	}
	return name
}
