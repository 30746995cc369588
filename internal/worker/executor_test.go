package worker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChickenLord4567/neotradwithcart/internal/config"
	"github.com/ChickenLord4567/neotradwithcart/internal/gateway/oanda"
	"github.com/ChickenLord4567/neotradwithcart/internal/models"
	"github.com/ChickenLord4567/neotradwithcart/internal/repository"
)

// fakeStore applies updates to an in-memory trade map with the same
// all-or-nothing contract as the real repository: a callback error
// leaves the record untouched.
type fakeStore struct {
	mu     sync.Mutex
	trades map[string]*models.Trade
}

func newFakeStore(trades ...*models.Trade) *fakeStore {
	s := &fakeStore{trades: make(map[string]*models.Trade)}
	for _, t := range trades {
		s.trades[t.ID] = t
	}
	return s
}

func (s *fakeStore) ListActive(ctx context.Context) ([]models.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Trade
	for _, t := range s.trades {
		if t.IsActive() {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *fakeStore) UpdateWithLock(ctx context.Context, id string, fn func(*models.Trade) (repository.TradeUpdate, error)) (*models.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trades[id]
	if !ok {
		return nil, repository.ErrTradeNotFound
	}
	working := *t
	update, err := fn(&working)
	if err != nil {
		return nil, err
	}
	update.Apply(&working)
	s.trades[id] = &working
	result := working
	return &result, nil
}

func (s *fakeStore) get(id string) models.Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.trades[id]
}

// fakeBroker records calls and returns canned fills.
type fakeBroker struct {
	closePrice float64

	closeErr      error
	partialErr    error
	stopErr       error
	rejectClose   bool
	rejectPartial bool

	closeCalls   []string
	partialCalls []string
	stopCalls    []float64
}

func (b *fakeBroker) CloseTrade(ctx context.Context, tradeID string, units string) (*oanda.CloseResult, error) {
	if b.closeErr != nil {
		return nil, b.closeErr
	}
	b.closeCalls = append(b.closeCalls, tradeID)
	return &oanda.CloseResult{Success: !b.rejectClose, ClosePrice: b.closePrice}, nil
}

func (b *fakeBroker) ClosePartialTrade(ctx context.Context, tradeID string) (*oanda.PartialCloseResult, error) {
	if b.partialErr != nil {
		return nil, b.partialErr
	}
	b.partialCalls = append(b.partialCalls, tradeID)
	return &oanda.PartialCloseResult{Success: !b.rejectPartial, ClosePrice: b.closePrice}, nil
}

func (b *fakeBroker) UpdateStopLoss(ctx context.Context, tradeID string, newPrice float64) error {
	if b.stopErr != nil {
		return b.stopErr
	}
	b.stopCalls = append(b.stopCalls, newPrice)
	return nil
}

type fakeNotifier struct {
	mu        sync.Mutex
	published []*models.Trade
}

func (n *fakeNotifier) PublishTrade(t *models.Trade) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.published = append(n.published, t)
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.published)
}

func testConfig() *config.Config {
	return &config.Config{
		Monitor: config.MonitorConfig{IntervalSeconds: 5, PartialCloseFraction: 0.75},
		Oanda:   config.OandaConfig{TimeoutSeconds: 1},
		Instruments: map[string]config.InstrumentConfig{
			"XAUUSD": {OandaName: "XAU_USD", Multiplier: 100},
			"EURUSD": {OandaName: "EUR_USD", Multiplier: 100000},
		},
	}
}

func openBuy() *models.Trade {
	t := buyTrade()
	t.OandaTradeID = "b-1"
	return t
}

func TestExecuteTP1(t *testing.T) {
	trade := openBuy()
	store := newFakeStore(trade)
	broker := &fakeBroker{closePrice: 1910}
	notifier := &fakeNotifier{}
	exec := NewExecutor(store, broker, notifier, testConfig())

	updated, err := exec.Execute(context.Background(), trade.ID, DecisionTP1)
	require.NoError(t, err)

	assert.True(t, updated.TP1Hit)
	assert.True(t, updated.PartialClosed)
	assert.Equal(t, models.StatusPartial, updated.Status)
	assert.Equal(t, 1900.0, updated.CurrentSL)
	assert.InDelta(t, 750.0, updated.ProfitLoss, 1e-9)
	assert.Zero(t, updated.ClosePrice)
	assert.Empty(t, updated.CloseReason)
	assert.Nil(t, updated.DateClosed)

	assert.Equal(t, []string{"b-1"}, broker.partialCalls)
	assert.Equal(t, []float64{1900}, broker.stopCalls)
	assert.Equal(t, 1, notifier.count())
}

func TestExecuteTP2AccumulatesPartialLeg(t *testing.T) {
	trade := openBuy()
	trade.Status = models.StatusPartial
	trade.TP1Hit = true
	trade.PartialClosed = true
	trade.CurrentSL = 1900
	trade.ProfitLoss = 750
	store := newFakeStore(trade)
	broker := &fakeBroker{closePrice: 1920}
	exec := NewExecutor(store, broker, nil, testConfig())

	updated, err := exec.Execute(context.Background(), trade.ID, DecisionTP2)
	require.NoError(t, err)

	assert.True(t, updated.TP2Hit)
	assert.Equal(t, models.StatusClosed, updated.Status)
	assert.Equal(t, models.CloseReasonTP2, updated.CloseReason)
	assert.Equal(t, 1920.0, updated.ClosePrice)
	// 750 banked at TP1 plus 20 points on the remaining quarter lot.
	assert.InDelta(t, 1250.0, updated.ProfitLoss, 1e-9)
	assert.True(t, updated.IsProfit)
	assert.False(t, updated.IsLoss)
	require.NotNil(t, updated.DateClosed)
}

func TestExecuteSLAfterPartialKeepsBankedProfit(t *testing.T) {
	trade := openBuy()
	trade.Status = models.StatusPartial
	trade.TP1Hit = true
	trade.PartialClosed = true
	trade.CurrentSL = 1900
	trade.ProfitLoss = 750
	store := newFakeStore(trade)
	broker := &fakeBroker{closePrice: 1900}
	exec := NewExecutor(store, broker, nil, testConfig())

	updated, err := exec.Execute(context.Background(), trade.ID, DecisionSL)
	require.NoError(t, err)

	assert.True(t, updated.SLHit)
	assert.Equal(t, models.StatusClosed, updated.Status)
	assert.Equal(t, models.CloseReasonSL, updated.CloseReason)
	// Remainder closed at breakeven: the TP1 leg survives intact.
	assert.InDelta(t, 750.0, updated.ProfitLoss, 1e-9)
	assert.True(t, updated.IsProfit)
}

func TestExecuteSLFullPosition(t *testing.T) {
	trade := openBuy()
	store := newFakeStore(trade)
	broker := &fakeBroker{closePrice: 1890}
	exec := NewExecutor(store, broker, nil, testConfig())

	updated, err := exec.Execute(context.Background(), trade.ID, DecisionSL)
	require.NoError(t, err)

	assert.Equal(t, models.StatusClosed, updated.Status)
	assert.InDelta(t, -1000.0, updated.ProfitLoss, 1e-9)
	assert.False(t, updated.IsProfit)
	assert.True(t, updated.IsLoss)
}

func TestExecuteTP1Sell(t *testing.T) {
	trade := sellTrade()
	trade.OandaTradeID = "s-1"
	store := newFakeStore(trade)
	broker := &fakeBroker{closePrice: 1890}
	exec := NewExecutor(store, broker, nil, testConfig())

	updated, err := exec.Execute(context.Background(), trade.ID, DecisionTP1)
	require.NoError(t, err)

	assert.InDelta(t, 750.0, updated.ProfitLoss, 1e-9)
	assert.Equal(t, 1900.0, updated.CurrentSL)
	assert.Equal(t, models.StatusPartial, updated.Status)
}

func TestExecuteBrokerFailureLeavesTradeUntouched(t *testing.T) {
	trade := openBuy()
	store := newFakeStore(trade)
	broker := &fakeBroker{partialErr: errors.New("gateway timeout")}
	notifier := &fakeNotifier{}
	exec := NewExecutor(store, broker, notifier, testConfig())

	_, err := exec.Execute(context.Background(), trade.ID, DecisionTP1)
	require.Error(t, err)

	after := store.get(trade.ID)
	assert.Equal(t, models.StatusOpen, after.Status)
	assert.False(t, after.TP1Hit)
	assert.Zero(t, after.ProfitLoss)
	assert.Equal(t, 0, notifier.count())
}

func TestExecuteStopMoveFailureAbortsTP1(t *testing.T) {
	trade := openBuy()
	store := newFakeStore(trade)
	broker := &fakeBroker{closePrice: 1910, stopErr: errors.New("stop rejected")}
	exec := NewExecutor(store, broker, nil, testConfig())

	_, err := exec.Execute(context.Background(), trade.ID, DecisionTP1)
	require.Error(t, err)

	after := store.get(trade.ID)
	assert.Equal(t, models.StatusOpen, after.Status)
	assert.False(t, after.TP1Hit)
}

func TestExecuteRejectedCloseLeavesTradeUntouched(t *testing.T) {
	trade := openBuy()
	store := newFakeStore(trade)
	broker := &fakeBroker{closePrice: 1890, rejectClose: true}
	exec := NewExecutor(store, broker, nil, testConfig())

	_, err := exec.Execute(context.Background(), trade.ID, DecisionSL)
	require.Error(t, err)

	after := store.get(trade.ID)
	assert.Equal(t, models.StatusOpen, after.Status)
}

func TestExecuteOnClosedTrade(t *testing.T) {
	trade := openBuy()
	trade.Status = models.StatusClosed
	store := newFakeStore(trade)
	broker := &fakeBroker{closePrice: 1890}
	exec := NewExecutor(store, broker, nil, testConfig())

	_, err := exec.Execute(context.Background(), trade.ID, DecisionSL)
	assert.ErrorIs(t, err, ErrTradeClosed)
	assert.Empty(t, broker.closeCalls)
}

func TestExecuteStaleTP1(t *testing.T) {
	trade := openBuy()
	trade.TP1Hit = true
	trade.Status = models.StatusPartial
	store := newFakeStore(trade)
	broker := &fakeBroker{closePrice: 1910}
	exec := NewExecutor(store, broker, nil, testConfig())

	_, err := exec.Execute(context.Background(), trade.ID, DecisionTP1)
	assert.ErrorIs(t, err, ErrStaleDecision)
	assert.Empty(t, broker.partialCalls)
}

func TestExecuteMissingBrokerID(t *testing.T) {
	trade := buyTrade() // no OandaTradeID
	store := newFakeStore(trade)
	broker := &fakeBroker{closePrice: 1910}
	exec := NewExecutor(store, broker, nil, testConfig())

	_, err := exec.Execute(context.Background(), trade.ID, DecisionTP1)
	assert.ErrorIs(t, err, ErrMissingBrokerID)
}

func TestManualCloseReplacesProfitLoss(t *testing.T) {
	trade := openBuy()
	trade.Status = models.StatusPartial
	trade.TP1Hit = true
	trade.PartialClosed = true
	trade.CurrentSL = 1900
	trade.ProfitLoss = 750
	store := newFakeStore(trade)
	broker := &fakeBroker{closePrice: 1905}
	exec := NewExecutor(store, broker, nil, testConfig())

	updated, err := exec.ManualClose(context.Background(), trade.ID)
	require.NoError(t, err)

	assert.Equal(t, models.StatusClosed, updated.Status)
	assert.Equal(t, models.CloseReasonManual, updated.CloseReason)
	// 5 points on the remaining quarter lot; the banked TP1 leg is
	// superseded, not added.
	assert.InDelta(t, 125.0, updated.ProfitLoss, 1e-9)
}

func TestManualCloseFullPosition(t *testing.T) {
	trade := openBuy()
	store := newFakeStore(trade)
	broker := &fakeBroker{closePrice: 1895}
	exec := NewExecutor(store, broker, nil, testConfig())

	updated, err := exec.ManualClose(context.Background(), trade.ID)
	require.NoError(t, err)

	assert.InDelta(t, -500.0, updated.ProfitLoss, 1e-9)
	assert.True(t, updated.IsLoss)
}

func TestManualCloseAlreadyClosed(t *testing.T) {
	trade := openBuy()
	trade.Status = models.StatusClosed
	store := newFakeStore(trade)
	exec := NewExecutor(store, &fakeBroker{}, nil, testConfig())

	_, err := exec.ManualClose(context.Background(), trade.ID)
	assert.ErrorIs(t, err, ErrTradeClosed)
}

func TestDoubleCloseSecondAttemptIsNoOp(t *testing.T) {
	trade := openBuy()
	store := newFakeStore(trade)
	broker := &fakeBroker{closePrice: 1890}
	exec := NewExecutor(store, broker, nil, testConfig())

	_, err := exec.Execute(context.Background(), trade.ID, DecisionSL)
	require.NoError(t, err)

	_, err = exec.ManualClose(context.Background(), trade.ID)
	assert.ErrorIs(t, err, ErrTradeClosed)
	assert.Len(t, broker.closeCalls, 1)
}
