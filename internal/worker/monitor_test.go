package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChickenLord4567/neotradwithcart/internal/gateway/oanda"
	"github.com/ChickenLord4567/neotradwithcart/internal/models"
)

type fakeQuotes struct {
	mu     sync.Mutex
	quotes map[string]*oanda.Quote
	errs   map[string]error
	calls  []string
}

func (q *fakeQuotes) GetQuote(ctx context.Context, instrument string) (*oanda.Quote, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls = append(q.calls, instrument)
	if err, ok := q.errs[instrument]; ok {
		return nil, err
	}
	if quote, ok := q.quotes[instrument]; ok {
		return quote, nil
	}
	return nil, oanda.ErrNoPrice
}

// countingStore wraps fakeStore and counts ListActive sweeps.
type countingStore struct {
	*fakeStore
	listCalls atomic.Int64
	gate      chan struct{}
}

func (s *countingStore) ListActive(ctx context.Context) ([]models.Trade, error) {
	s.listCalls.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	return s.fakeStore.ListActive(ctx)
}

func newTestMonitor(store TradeStore, quotes QuoteSource, exec *Executor, interval time.Duration) *Monitor {
	return &Monitor{
		store:       store,
		quotes:      quotes,
		executor:    exec,
		interval:    interval,
		callTimeout: time.Second,
	}
}

func TestMonitorStartIsIdempotent(t *testing.T) {
	store := &countingStore{fakeStore: newFakeStore()}
	m := newTestMonitor(store, &fakeQuotes{}, nil, time.Hour)

	m.Start()
	m.Start()
	defer m.Stop()

	// The first sweep fires immediately; a second Start must not
	// schedule a second loop.
	assert.Eventually(t, func() bool {
		return store.listCalls.Load() == 1
	}, time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(1), store.listCalls.Load())
}

func TestMonitorStopIsIdempotent(t *testing.T) {
	store := &countingStore{fakeStore: newFakeStore()}
	m := newTestMonitor(store, &fakeQuotes{}, nil, time.Hour)

	m.Stop() // never started

	m.Start()
	m.Stop()
	m.Stop()

	calls := store.listCalls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, store.listCalls.Load())
}

func TestMonitorSweepsOnInterval(t *testing.T) {
	store := &countingStore{fakeStore: newFakeStore()}
	m := newTestMonitor(store, &fakeQuotes{}, nil, 20*time.Millisecond)

	m.Start()
	defer m.Stop()

	assert.Eventually(t, func() bool {
		return store.listCalls.Load() >= 3
	}, time.Second, 10*time.Millisecond)
}

func TestMonitorSkipsTickWhileSweepInFlight(t *testing.T) {
	store := &countingStore{fakeStore: newFakeStore(), gate: make(chan struct{})}
	m := newTestMonitor(store, &fakeQuotes{}, nil, time.Hour)

	done := make(chan struct{})
	go func() {
		m.tick(context.Background())
		close(done)
	}()
	require.Eventually(t, func() bool {
		return store.listCalls.Load() == 1
	}, time.Second, time.Millisecond)

	// Sweep is blocked inside ListActive; a concurrent tick must bail
	// out instead of starting a second sweep.
	m.tick(context.Background())
	assert.Equal(t, int64(1), store.listCalls.Load())

	close(store.gate)
	<-done
}

func TestMonitorExecutesThresholdCrossing(t *testing.T) {
	trade := openBuy()
	store := newFakeStore(trade)
	broker := &fakeBroker{closePrice: 1910}
	exec := NewExecutor(store, broker, nil, testConfig())
	quotes := &fakeQuotes{quotes: map[string]*oanda.Quote{
		"XAUUSD": {Instrument: "XAUUSD", Bid: 1910, Ask: 1910.5},
	}}
	m := newTestMonitor(store, quotes, exec, time.Hour)

	m.tick(context.Background())

	after := store.get(trade.ID)
	assert.True(t, after.TP1Hit)
	assert.Equal(t, models.StatusPartial, after.Status)
	assert.InDelta(t, 750.0, after.ProfitLoss, 1e-9)
}

func TestMonitorQuoteFailureIsolatedPerTrade(t *testing.T) {
	broken := openBuy()
	broken.ID = "t-broken"
	broken.Instrument = "EURUSD"
	broken.OandaTradeID = "b-9"
	healthy := openBuy()
	store := newFakeStore(broken, healthy)
	broker := &fakeBroker{closePrice: 1910}
	exec := NewExecutor(store, broker, nil, testConfig())
	quotes := &fakeQuotes{
		quotes: map[string]*oanda.Quote{
			"XAUUSD": {Instrument: "XAUUSD", Bid: 1910, Ask: 1910.5},
		},
		errs: map[string]error{"EURUSD": errors.New("pricing unavailable")},
	}
	m := newTestMonitor(store, quotes, exec, time.Hour)

	m.tick(context.Background())

	// The failed quote must not keep the other trade from executing.
	after := store.get(healthy.ID)
	assert.True(t, after.TP1Hit)
	untouched := store.get(broken.ID)
	assert.Equal(t, models.StatusOpen, untouched.Status)
}

func TestMonitorNoDecisionLeavesTradeAlone(t *testing.T) {
	trade := openBuy()
	store := newFakeStore(trade)
	broker := &fakeBroker{closePrice: 1905}
	exec := NewExecutor(store, broker, nil, testConfig())
	quotes := &fakeQuotes{quotes: map[string]*oanda.Quote{
		"XAUUSD": {Instrument: "XAUUSD", Bid: 1905, Ask: 1905.5},
	}}
	m := newTestMonitor(store, quotes, exec, time.Hour)

	m.tick(context.Background())

	after := store.get(trade.ID)
	assert.Equal(t, models.StatusOpen, after.Status)
	assert.Empty(t, broker.partialCalls)
	assert.Empty(t, broker.closeCalls)
}
