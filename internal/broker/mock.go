package broker

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// MockAdapter is an in-process broker used for local development and tests.
// Quotes follow a simple random walk per symbol; orders fill instantly at the
// current mark.
type MockAdapter struct {
	mu         sync.Mutex
	prices     map[string]float64
	pinned     map[string]bool
	startPrice float64
	step       float64
	rng        *rand.Rand
	paper      bool
	account    AccountSummary
	authedAt   time.Time
	failNext   error
}

// NewMockAdapter builds a mock adapter seeded at startPrice with the given
// per-quote step size.
func NewMockAdapter(startPrice, step float64, paper bool) *MockAdapter {
	if startPrice <= 0 {
		startPrice = 100.0
	}
	if step <= 0 {
		step = 0.5
	}
	return &MockAdapter{
		prices:     make(map[string]float64),
		pinned:     make(map[string]bool),
		startPrice: startPrice,
		step:       step,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		paper:      paper,
		account: AccountSummary{
			Balance: 10000, Equity: 10000, FreeMargin: 10000, Currency: "USD",
		},
	}
}

// SetBalance overrides the account snapshot, for deterministic tests.
func (m *MockAdapter) SetBalance(balance, equity float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.account.Balance = balance
	m.account.Equity = equity
}

// FailNext makes the next broker call return err once, for retry tests.
func (m *MockAdapter) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = err
}

func (m *MockAdapter) takeFailure() error {
	err := m.failNext
	m.failNext = nil
	return err
}

func (m *MockAdapter) Authenticate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	m.authedAt = time.Now()
	return nil
}

func (m *MockAdapter) IsPaperTrading() bool { return m.paper }

func (m *MockAdapter) GetBalance(ctx context.Context) (AccountSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return AccountSummary{}, err
	}
	return m.account, nil
}

func (m *MockAdapter) GetOpenPositions(ctx context.Context) ([]Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	return nil, nil
}

// GetQuote advances the symbol's random walk and returns the new mark.
func (m *MockAdapter) GetQuote(ctx context.Context, symbol string) (Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return Quote{}, err
	}

	price, ok := m.prices[symbol]
	if !ok {
		price = m.startPrice
	}
	if !m.pinned[symbol] {
		price += (m.rng.Float64()*2 - 1) * m.step
		if price <= 0 {
			price = m.startPrice
		}
		m.prices[symbol] = price
	}

	spread := m.step / 10
	return Quote{
		Symbol: symbol,
		Bid:    price - spread/2,
		Ask:    price + spread/2,
		Time:   time.Now(),
	}, nil
}

// SetQuote pins a symbol's mark, for deterministic tests.
func (m *MockAdapter) SetQuote(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[symbol] = price
	m.pinned[symbol] = true
}

func (m *MockAdapter) PlaceOrder(ctx context.Context, p OrderParams) (OrderAck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return OrderAck{}, err
	}

	price := p.Price
	if price <= 0 {
		if mark, ok := m.prices[p.Symbol]; ok {
			price = mark
		} else {
			price = m.startPrice
		}
	}
	return OrderAck{
		OrderID:   time.Now().Format("20060102150405.000"),
		FillPrice: price,
		Volume:    p.Volume,
	}, nil
}

func (m *MockAdapter) ClosePosition(ctx context.Context, ticket string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.takeFailure()
}

func (m *MockAdapter) Disconnect(ctx context.Context) error { return nil }
