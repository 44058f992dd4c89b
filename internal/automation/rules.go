// Package automation starts and stops bots from declarative rules:
// trading-hours schedules, profit/loss thresholds, run-time limits and
// crash recovery. Rules only ever act through the bot manager's public
// lifecycle operations.
package automation

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"botcore/internal/bot"
	"botcore/internal/strategy"
)

// RuleType selects the condition a rule evaluates.
type RuleType string

const (
	RuleSchedule     RuleType = "schedule"
	RuleProfitTarget RuleType = "profit_target"
	RuleLossLimit    RuleType = "loss_limit"
	RuleTimeLimit    RuleType = "time_limit"
	RuleRecovery     RuleType = "recovery"
)

// Schedule is a weekly trading window. Start after End spans midnight.
// Empty Days means every day.
type Schedule struct {
	Start string   `yaml:"start" json:"start"` // "HH:MM" local
	End   string   `yaml:"end" json:"end"`
	Days  []string `yaml:"days,omitempty" json:"days,omitempty"` // mon..sun
}

// BotSpec is the launch template a rule uses when it needs to start a bot.
type BotSpec struct {
	BotID          string         `yaml:"bot_id" json:"bot_id"`
	Broker         string         `yaml:"broker,omitempty" json:"broker,omitempty"`
	Symbol         string         `yaml:"symbol" json:"symbol"`
	Strategy       string         `yaml:"strategy,omitempty" json:"strategy,omitempty"`
	StrategyConfig map[string]any `yaml:"strategy_config,omitempty" json:"strategy_config,omitempty"`
	Paper          bool           `yaml:"paper" json:"paper"`
	Params         bot.Parameters `yaml:"params,omitempty" json:"params,omitempty"`
}

// Rule is one automation rule. Threshold rules fire once per bot run;
// schedule and recovery rules act continuously.
type Rule struct {
	ID      string   `yaml:"id" json:"id"`
	UserID  string   `yaml:"user_id" json:"user_id"`
	Type    RuleType `yaml:"type" json:"type"`
	Enabled bool     `yaml:"enabled" json:"enabled"`

	Schedule *Schedule `yaml:"schedule,omitempty" json:"schedule,omitempty"`
	Bot      *BotSpec  `yaml:"bot,omitempty" json:"bot,omitempty"`

	// Threshold and recovery rules target an already-running bot by key.
	BotKey string `yaml:"bot_key,omitempty" json:"bot_key,omitempty"`

	ProfitTarget     float64 `yaml:"profit_target,omitempty" json:"profit_target,omitempty"`
	LossLimit        float64 `yaml:"loss_limit,omitempty" json:"loss_limit,omitempty"`
	TimeLimitMinutes int     `yaml:"time_limit_minutes,omitempty" json:"time_limit_minutes,omitempty"`

	MaxRestarts     int `yaml:"max_restarts,omitempty" json:"max_restarts,omitempty"`
	CooldownSeconds int `yaml:"cooldown_seconds,omitempty" json:"cooldown_seconds,omitempty"`
}

// Validate rejects rules the evaluator could not act on.
func (r *Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule: id is required")
	}
	if r.UserID == "" {
		return fmt.Errorf("rule %s: user_id is required", r.ID)
	}
	switch r.Type {
	case RuleSchedule:
		if r.Schedule == nil || r.Schedule.Start == "" || r.Schedule.End == "" {
			return fmt.Errorf("rule %s: schedule with start and end is required", r.ID)
		}
		if r.Bot == nil || r.Bot.BotID == "" || r.Bot.Symbol == "" {
			return fmt.Errorf("rule %s: bot spec with bot_id and symbol is required", r.ID)
		}
	case RuleProfitTarget:
		if r.ProfitTarget <= 0 {
			return fmt.Errorf("rule %s: profit_target must be positive", r.ID)
		}
	case RuleLossLimit:
		if r.LossLimit <= 0 {
			return fmt.Errorf("rule %s: loss_limit must be positive", r.ID)
		}
	case RuleTimeLimit:
		if r.TimeLimitMinutes <= 0 {
			return fmt.Errorf("rule %s: time_limit_minutes must be positive", r.ID)
		}
	case RuleRecovery:
		if r.Bot == nil || r.Bot.BotID == "" || r.Bot.Symbol == "" {
			return fmt.Errorf("rule %s: bot spec with bot_id and symbol is required", r.ID)
		}
	default:
		return fmt.Errorf("rule %s: unknown type %q", r.ID, r.Type)
	}
	if r.Type != RuleSchedule && r.Type != RuleRecovery && r.BotKey == "" {
		return fmt.Errorf("rule %s: bot_key is required", r.ID)
	}
	return nil
}

// startRequest expands the rule's bot spec into a launch request.
func (r *Rule) startRequest() bot.StartRequest {
	return bot.StartRequest{
		UserID:         r.UserID,
		BotID:          r.Bot.BotID,
		Broker:         r.Bot.Broker,
		Symbol:         r.Bot.Symbol,
		Strategy:       r.Bot.Strategy,
		StrategyConfig: strategy.Config(r.Bot.StrategyConfig),
		Paper:          r.Bot.Paper,
		Params:         r.Bot.Params,
	}
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads a YAML rule file and validates every rule.
func LoadRules(path string) ([]Rule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	var f ruleFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	for i := range f.Rules {
		if err := f.Rules[i].Validate(); err != nil {
			return nil, err
		}
	}
	return f.Rules, nil
}

// withinSchedule applies the rule's weekly window to a wall-clock instant.
func withinSchedule(s *Schedule, now time.Time) bool {
	if len(s.Days) > 0 && !dayMatches(s.Days, now.Weekday()) {
		return false
	}
	start, err1 := minutesOfDay(s.Start)
	end, err2 := minutesOfDay(s.End)
	if err1 != nil || err2 != nil {
		return false
	}
	cur := now.Hour()*60 + now.Minute()
	if start <= end {
		return cur >= start && cur < end
	}
	return cur >= start || cur < end
}

func dayMatches(days []string, day time.Weekday) bool {
	want := strings.ToLower(day.String()[:3])
	for _, d := range days {
		d = strings.ToLower(strings.TrimSpace(d))
		if len(d) > 3 {
			d = d[:3]
		}
		if d == want {
			return true
		}
	}
	return false
}

func minutesOfDay(hhmm string) (int, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}
