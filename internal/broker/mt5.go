package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// MT5Adapter talks to the MT5 bridge service over HTTP. One adapter maps to
// one terminal login; the bridge multiplexes by connection_id.
type MT5Adapter struct {
	BaseURL    string
	Login      int64
	Password   string
	Server     string
	Paper      bool
	HTTPClient *http.Client

	limiter      *rate.Limiter
	connectionID string
}

// MT5Config configures an MT5 bridge connection.
type MT5Config struct {
	BaseURL  string
	Login    int64
	Password string
	Server   string
	Paper    bool // demo server / paper account
}

// NewMT5Adapter builds an adapter; call Authenticate before trading.
func NewMT5Adapter(cfg MT5Config) *MT5Adapter {
	return &MT5Adapter{
		BaseURL:    cfg.BaseURL,
		Login:      cfg.Login,
		Password:   cfg.Password,
		Server:     cfg.Server,
		Paper:      cfg.Paper,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		// The bridge runs one terminal; pace calls to avoid overwhelming it.
		limiter: rate.NewLimiter(rate.Limit(10), 20),
	}
}

type mt5Envelope struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Raw     json.RawMessage `json:"-"`
}

func (a *MT5Adapter) post(ctx context.Context, path string, body any, out any) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return a.do(req, out)
}

func (a *MT5Adapter) get(ctx context.Context, path string, params url.Values, out any) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	u := a.BaseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return a.do(req, out)
}

func (a *MT5Adapter) do(req *http.Request, out any) error {
	res, err := a.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAdapter, err)
	}
	defer res.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(res.Body); err != nil {
		return fmt.Errorf("%w: read body: %v", ErrAdapter, err)
	}

	var env mt5Envelope
	if err := json.Unmarshal(buf.Bytes(), &env); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrAdapter, err)
	}
	if !env.Success {
		return fmt.Errorf("%w: %s", ErrAdapter, env.Error)
	}
	if out != nil {
		if err := json.Unmarshal(buf.Bytes(), out); err != nil {
			return fmt.Errorf("%w: decode: %v", ErrAdapter, err)
		}
	}
	return nil
}

// Authenticate logs in to the terminal and caches the connection id.
func (a *MT5Adapter) Authenticate(ctx context.Context) error {
	var resp struct {
		ConnectionID string `json:"connection_id"`
	}
	err := a.post(ctx, "/connect", map[string]any{
		"login":    a.Login,
		"password": a.Password,
		"server":   a.Server,
	}, &resp)
	if err != nil {
		return err
	}
	a.connectionID = resp.ConnectionID
	return nil
}

// IsPaperTrading reports whether this connection trades a demo account.
func (a *MT5Adapter) IsPaperTrading() bool {
	return a.Paper
}

// GetBalance fetches the account snapshot.
func (a *MT5Adapter) GetBalance(ctx context.Context) (AccountSummary, error) {
	var resp struct {
		Account struct {
			Balance    float64 `json:"balance"`
			Equity     float64 `json:"equity"`
			Margin     float64 `json:"margin"`
			FreeMargin float64 `json:"free_margin"`
			Currency   string  `json:"currency"`
			Leverage   int     `json:"leverage"`
		} `json:"account"`
	}
	params := url.Values{"connection_id": {a.connectionID}}
	if err := a.get(ctx, "/account", params, &resp); err != nil {
		return AccountSummary{}, err
	}
	return AccountSummary{
		Balance:    resp.Account.Balance,
		Equity:     resp.Account.Equity,
		Margin:     resp.Account.Margin,
		FreeMargin: resp.Account.FreeMargin,
		Currency:   resp.Account.Currency,
		Leverage:   resp.Account.Leverage,
	}, nil
}

// GetOpenPositions lists positions currently open on the terminal.
func (a *MT5Adapter) GetOpenPositions(ctx context.Context) ([]Position, error) {
	return a.openPositions(ctx, "")
}

func (a *MT5Adapter) openPositions(ctx context.Context, symbol string) ([]Position, error) {
	var resp struct {
		Positions []struct {
			Ticket       int64   `json:"ticket"`
			Symbol       string  `json:"symbol"`
			Type         string  `json:"type"`
			Volume       float64 `json:"volume"`
			PriceOpen    float64 `json:"price_open"`
			PriceCurrent float64 `json:"price_current"`
			Profit       float64 `json:"profit"`
			SL           float64 `json:"sl"`
			TP           float64 `json:"tp"`
			Time         int64   `json:"time"`
		} `json:"positions"`
	}
	params := url.Values{"connection_id": {a.connectionID}}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	if err := a.get(ctx, "/trades/open", params, &resp); err != nil {
		return nil, err
	}

	positions := make([]Position, 0, len(resp.Positions))
	for _, p := range resp.Positions {
		positions = append(positions, Position{
			Ticket:       strconv.FormatInt(p.Ticket, 10),
			Symbol:       p.Symbol,
			Side:         Side(p.Type),
			Volume:       p.Volume,
			PriceOpen:    p.PriceOpen,
			PriceCurrent: p.PriceCurrent,
			Profit:       p.Profit,
			StopLoss:     p.SL,
			TakeProfit:   p.TP,
			OpenedAt:     time.Unix(p.Time, 0),
		})
	}
	return positions, nil
}

// GetQuote returns the latest tick for a symbol. Bridges built with the
// /tick extension answer directly; the stock bridge only surfaces prices on
// open positions, so a failed tick call falls back to the symbol's current
// position mark.
func (a *MT5Adapter) GetQuote(ctx context.Context, symbol string) (Quote, error) {
	q, err := a.tickQuote(ctx, symbol)
	if err == nil || !errors.Is(err, ErrAdapter) {
		return q, err
	}
	return a.positionQuote(ctx, symbol, err)
}

func (a *MT5Adapter) tickQuote(ctx context.Context, symbol string) (Quote, error) {
	var resp struct {
		Tick struct {
			Bid  float64 `json:"bid"`
			Ask  float64 `json:"ask"`
			Time int64   `json:"time"`
		} `json:"tick"`
	}
	params := url.Values{
		"connection_id": {a.connectionID},
		"symbol":        {symbol},
	}
	if err := a.get(ctx, "/tick", params, &resp); err != nil {
		return Quote{}, err
	}
	return Quote{
		Symbol: symbol,
		Bid:    resp.Tick.Bid,
		Ask:    resp.Tick.Ask,
		Time:   time.Unix(resp.Tick.Time, 0),
	}, nil
}

// positionQuote derives a tick from the newest open position's current
// price. Flat symbols cannot be quoted this way and keep the tick error.
func (a *MT5Adapter) positionQuote(ctx context.Context, symbol string, tickErr error) (Quote, error) {
	positions, err := a.openPositions(ctx, symbol)
	if err != nil {
		return Quote{}, err
	}
	var best *Position
	for i := range positions {
		p := &positions[i]
		if p.PriceCurrent <= 0 {
			continue
		}
		if best == nil || p.OpenedAt.After(best.OpenedAt) {
			best = p
		}
	}
	if best == nil {
		return Quote{}, fmt.Errorf("%w: no price source for %s: %v", ErrAdapter, symbol, tickErr)
	}
	return Quote{
		Symbol: symbol,
		Bid:    best.PriceCurrent,
		Ask:    best.PriceCurrent,
		Time:   time.Now(),
	}, nil
}

// PlaceOrder submits a market or limit order.
func (a *MT5Adapter) PlaceOrder(ctx context.Context, p OrderParams) (OrderAck, error) {
	path := "/trade/buy"
	if p.Side == SideSell {
		path = "/trade/sell"
	}
	body := map[string]any{
		"connection_id": a.connectionID,
		"symbol":        p.Symbol,
		"volume":        p.Volume,
	}
	if p.Price > 0 {
		body["price"] = p.Price
	}
	if p.StopLoss > 0 {
		body["sl"] = p.StopLoss
	}
	if p.TakeProfit > 0 {
		body["tp"] = p.TakeProfit
	}
	if p.Comment != "" {
		body["comment"] = p.Comment
	}

	var resp struct {
		Order struct {
			OrderID int64   `json:"order_id"`
			Price   float64 `json:"price"`
			Volume  float64 `json:"volume"`
		} `json:"order"`
	}
	if err := a.post(ctx, path, body, &resp); err != nil {
		return OrderAck{}, err
	}
	return OrderAck{
		OrderID:   strconv.FormatInt(resp.Order.OrderID, 10),
		FillPrice: resp.Order.Price,
		Volume:    resp.Order.Volume,
	}, nil
}

// ClosePosition flattens one open position by ticket.
func (a *MT5Adapter) ClosePosition(ctx context.Context, ticket string) error {
	return a.post(ctx, "/position/close", map[string]any{
		"connection_id": a.connectionID,
		"ticket":        ticket,
	}, nil)
}

// Disconnect tears down the bridge connection.
func (a *MT5Adapter) Disconnect(ctx context.Context) error {
	if a.connectionID == "" {
		return nil
	}
	err := a.post(ctx, "/disconnect", map[string]any{
		"connection_id": a.connectionID,
	}, nil)
	a.connectionID = ""
	return err
}
