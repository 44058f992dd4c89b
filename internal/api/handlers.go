package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"botcore/internal/automation"
	"botcore/internal/bot"
	"botcore/internal/broker"
	"botcore/internal/strategy"
	"botcore/pkg/store"
)

const defaultBroker = "mock"

func brokerParam(c *gin.Context) string {
	if b := c.Query("broker"); b != "" {
		return b
	}
	return defaultBroker
}

func (s *Server) getStrategies(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"strategies": s.Strategies.List()})
}

func (s *Server) getBots(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"bots": s.Bots.GetUserBots(CurrentUserID(c))})
}

func (s *Server) startBot(c *gin.Context) {
	var req struct {
		BotID               string         `json:"bot_id"`
		Broker              string         `json:"broker"`
		Symbol              string         `json:"symbol"`
		Strategy            string         `json:"strategy"`
		StrategyConfig      map[string]any `json:"strategy_config"`
		Paper               *bool          `json:"paper"`
		TakeProfitPct       float64        `json:"take_profit_pct"`
		StopLossPct         float64        `json:"stop_loss_pct"`
		MaxConcurrentTrades int            `json:"max_concurrent_trades"`
		Martingale          bool           `json:"martingale"`
		MartingaleFactor    float64        `json:"martingale_factor"`
		MaxMartingaleSteps  int            `json:"max_martingale_steps"`
		CycleSeconds        int            `json:"cycle_seconds"`
		SessionStart        string         `json:"session_start"`
		SessionEnd          string         `json:"session_end"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "invalid request payload",
		})
		return
	}

	paper := s.Meta.PaperDefault
	if req.Paper != nil {
		paper = *req.Paper
	}

	start := bot.StartRequest{
		UserID:         CurrentUserID(c),
		BotID:          req.BotID,
		Broker:         req.Broker,
		Symbol:         req.Symbol,
		Strategy:       req.Strategy,
		StrategyConfig: strategy.Config(req.StrategyConfig),
		Paper:          paper,
		Params: bot.Parameters{
			TakeProfitPct:       req.TakeProfitPct,
			StopLossPct:         req.StopLossPct,
			MaxConcurrentTrades: req.MaxConcurrentTrades,
			Martingale:          req.Martingale,
			MartingaleFactor:    req.MartingaleFactor,
			MaxMartingaleSteps:  req.MaxMartingaleSteps,
			CycleInterval:       time.Duration(req.CycleSeconds) * time.Second,
			SessionStart:        req.SessionStart,
			SessionEnd:          req.SessionEnd,
		},
	}

	key, err := s.Bots.Start(c.Request.Context(), start)
	if err != nil {
		switch {
		case errors.Is(err, bot.ErrAlreadyRunning):
			c.JSON(http.StatusConflict, gin.H{"code": "BOT_ALREADY_RUNNING", "error": err.Error()})
		case errors.Is(err, strategy.ErrStrategyNotFound):
			c.JSON(http.StatusBadRequest, gin.H{"code": "UNKNOWN_STRATEGY", "error": err.Error()})
		case errors.Is(err, bot.ErrAdapterRequired):
			c.JSON(http.StatusBadRequest, gin.H{"code": "NO_BROKER_SESSION", "error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"code": "START_FAILED", "error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusCreated, gin.H{"key": key})
}

func (s *Server) stopBot(c *gin.Context) {
	var req struct {
		Key    string `json:"key"`
		BotID  string `json:"bot_id"`
		Reason string `json:"reason"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_PAYLOAD", "error": "invalid request payload"})
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "manual stop"
	}
	userID := CurrentUserID(c)

	if req.Key != "" {
		if !s.ownsBot(c, req.Key) {
			return
		}
		if err := s.Bots.StopKey(c.Request.Context(), req.Key, reason); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"code": "BOT_NOT_FOUND", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"stopped": 1})
		return
	}

	n, err := s.Bots.Stop(c.Request.Context(), userID, req.BotID, reason)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "BOT_NOT_FOUND", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stopped": n})
}

func (s *Server) pauseBot(c *gin.Context) {
	s.pauseResume(c, s.Bots.Pause)
}

func (s *Server) resumeBot(c *gin.Context) {
	s.pauseResume(c, s.Bots.Resume)
}

func (s *Server) pauseResume(c *gin.Context, op func(key string) error) {
	var req struct {
		Key string `json:"key"`
	}
	if err := c.BindJSON(&req); err != nil || req.Key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_PAYLOAD", "error": "key is required"})
		return
	}
	if !s.ownsBot(c, req.Key) {
		return
	}
	if err := op(req.Key); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "BOT_NOT_FOUND", "error": err.Error()})
		return
	}
	view, _ := s.Bots.GetBot(req.Key)
	c.JSON(http.StatusOK, gin.H{"status": view.Status})
}

// ownsBot rejects operations on another user's bot. It writes the error
// response itself and reports whether the caller may proceed.
func (s *Server) ownsBot(c *gin.Context, key string) bool {
	view, err := s.Bots.GetBot(key)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "BOT_NOT_FOUND", "error": err.Error()})
		return false
	}
	if view.UserID != CurrentUserID(c) {
		c.JSON(http.StatusForbidden, gin.H{"code": "FORBIDDEN", "error": "bot belongs to another user"})
		return false
	}
	return true
}

func (s *Server) getRiskMetrics(c *gin.Context) {
	metrics, err := s.Bots.GetRiskMetrics(c.Request.Context(), CurrentUserID(c), brokerParam(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, metrics)
}

func (s *Server) getRiskSettings(c *gin.Context) {
	settings, err := s.DB.GetRiskSettings(c.Request.Context(), CurrentUserID(c), brokerParam(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (s *Server) updateRiskSettings(c *gin.Context) {
	var req store.RiskSettings
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_PAYLOAD", "error": "invalid request payload"})
		return
	}
	req.UserID = CurrentUserID(c)
	if req.Broker == "" {
		req.Broker = defaultBroker
	}
	if req.RiskPerTrade < 0 || req.RiskPerTrade > 100 {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_RISK", "error": "risk_per_trade must be between 0 and 100"})
		return
	}
	if err := s.DB.SaveRiskSettings(c.Request.Context(), req); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, req)
}

func (s *Server) getAccount(c *gin.Context) {
	state, err := s.Bots.Account(c.Request.Context(), CurrentUserID(c), brokerParam(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) getAccountHistory(c *gin.Context) {
	history := s.Bots.PaperHistory(CurrentUserID(c), brokerParam(c))
	c.JSON(http.StatusOK, gin.H{"history": history, "count": len(history)})
}

func (s *Server) resetAccount(c *gin.Context) {
	var req struct {
		Broker  string  `json:"broker"`
		Balance float64 `json:"balance"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_PAYLOAD", "error": "invalid request payload"})
		return
	}
	if req.Broker == "" {
		req.Broker = defaultBroker
	}
	state, err := s.Bots.ResetAccount(c.Request.Context(), CurrentUserID(c), req.Broker, req.Balance)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) getTrades(c *gin.Context) {
	limit := 100
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	filter := store.TradeFilter{
		UserID: CurrentUserID(c),
		Broker: c.Query("broker"),
		Symbol: c.Query("symbol"),
		Status: c.Query("status"),
	}
	trades, err := s.DB.FindTrades(c.Request.Context(), filter, "entry_ts DESC", limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades, "count": len(trades)})
}

func (s *Server) getLogs(c *gin.Context) {
	limit := 100
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	logs, err := s.DB.ListBotLogs(c.Request.Context(), CurrentUserID(c), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

func (s *Server) getSessions(c *gin.Context) {
	sessions := s.Sessions.GetUserSessions(CurrentUserID(c))
	out := make([]gin.H, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, gin.H{
			"broker":      sess.Broker,
			"paper":       sess.Adapter.IsPaperTrading(),
			"attached_at": sess.AttachedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

func (s *Server) connectSession(c *gin.Context) {
	var req struct {
		Broker     string  `json:"broker"`
		BaseURL    string  `json:"base_url"`
		Login      int64   `json:"login"`
		Password   string  `json:"password"`
		Server     string  `json:"server"`
		Paper      bool    `json:"paper"`
		StartPrice float64 `json:"start_price"`
		Step       float64 `json:"step"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_PAYLOAD", "error": "invalid request payload"})
		return
	}

	var adapter broker.Adapter
	switch req.Broker {
	case "mt5":
		baseURL := req.BaseURL
		if baseURL == "" {
			baseURL = s.Meta.MT5BridgeURL
		}
		adapter = broker.NewMT5Adapter(broker.MT5Config{
			BaseURL:  baseURL,
			Login:    req.Login,
			Password: req.Password,
			Server:   req.Server,
			Paper:    req.Paper,
		})
	case "mock", "":
		req.Broker = defaultBroker
		adapter = broker.NewMockAdapter(req.StartPrice, req.Step, true)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"code": "UNKNOWN_BROKER", "error": "supported brokers: mt5, mock"})
		return
	}

	if err := adapter.Authenticate(c.Request.Context()); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"code": "BROKER_AUTH_FAILED", "error": err.Error()})
		return
	}

	userID := CurrentUserID(c)
	if replaced := s.Sessions.SetUserAdapter(userID, req.Broker, adapter); replaced != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = replaced.Disconnect(ctx)
	}
	c.JSON(http.StatusOK, gin.H{
		"broker": req.Broker,
		"paper":  adapter.IsPaperTrading(),
	})
}

func (s *Server) disconnectSession(c *gin.Context) {
	brokerName := c.Param("broker")
	adapter := s.Sessions.RemoveUserAdapter(CurrentUserID(c), brokerName)
	if adapter == nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "SESSION_NOT_FOUND", "error": "no session for broker " + brokerName})
		return
	}
	if err := adapter.Disconnect(c.Request.Context()); err != nil {
		c.JSON(http.StatusOK, gin.H{"disconnected": true, "warning": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"disconnected": true})
}

func (s *Server) getRules(c *gin.Context) {
	userID := CurrentUserID(c)
	var out []automation.Rule
	for _, r := range s.Automation.ListRules() {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	c.JSON(http.StatusOK, gin.H{"rules": out})
}

func (s *Server) addRule(c *gin.Context) {
	var rule automation.Rule
	if err := c.BindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_PAYLOAD", "error": "invalid request payload"})
		return
	}
	rule.UserID = CurrentUserID(c)
	if err := s.Automation.AddRule(rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_RULE", "error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": rule.ID})
}

func (s *Server) removeRule(c *gin.Context) {
	id := c.Param("id")
	userID := CurrentUserID(c)
	for _, r := range s.Automation.ListRules() {
		if r.ID == id && r.UserID == userID {
			s.Automation.RemoveRule(id)
			c.JSON(http.StatusOK, gin.H{"removed": true})
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"code": "RULE_NOT_FOUND", "error": "no rule " + id})
}
