package worker

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ChickenLord4567/neotradwithcart/internal/config"
	"github.com/ChickenLord4567/neotradwithcart/internal/gateway/oanda"
	"github.com/ChickenLord4567/neotradwithcart/internal/models"
)

// QuoteSource supplies the current two-sided price for an instrument.
type QuoteSource interface {
	GetQuote(ctx context.Context, instrument string) (*oanda.Quote, error)
}

// Monitor periodically sweeps all active trades, fetches a quote for
// each and hands threshold crossings to the executor. Trade state is
// re-read from the store on every tick so out-of-band changes (manual
// closes, new trades) are picked up without coordination.
type Monitor struct {
	store       TradeStore
	quotes      QuoteSource
	executor    *Executor
	interval    time.Duration
	callTimeout time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	tickActive atomic.Bool
}

// NewMonitor creates a trade monitor with the configured sweep interval.
func NewMonitor(store TradeStore, quotes QuoteSource, executor *Executor, cfg *config.Config) *Monitor {
	return &Monitor{
		store:       store,
		quotes:      quotes,
		executor:    executor,
		interval:    cfg.Monitor.Interval(),
		callTimeout: cfg.Oanda.Timeout(),
	}
}

// Start launches the monitor loop. Calling Start on a running monitor
// is a no-op; a second schedule is never created.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		log.Printf("[Monitor] already running, ignoring start")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true

	go m.run(ctx)
	log.Printf("[Monitor] started, interval=%s", m.interval)
}

// Stop halts the loop and waits for an in-flight sweep to finish.
// Calling Stop on a stopped monitor is a no-op.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	done := m.done
	m.mu.Unlock()

	cancel()
	<-done
	log.Printf("[Monitor] stopped")
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)

	// First sweep fires immediately rather than one interval in.
	m.tick(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// tick runs one sweep over the active trades. If the previous sweep is
// still in flight the tick is skipped so slow broker calls cannot pile
// up overlapping sweeps.
func (m *Monitor) tick(ctx context.Context) {
	if !m.tickActive.CompareAndSwap(false, true) {
		log.Printf("[Monitor] previous sweep still running, skipping tick")
		return
	}
	defer m.tickActive.Store(false)

	listCtx, cancel := context.WithTimeout(ctx, m.callTimeout)
	trades, err := m.store.ListActive(listCtx)
	cancel()
	if err != nil {
		log.Printf("[Monitor] failed to list active trades: %v", err)
		return
	}
	if len(trades) == 0 {
		return
	}

	for i := range trades {
		if ctx.Err() != nil {
			return
		}
		m.processTrade(ctx, &trades[i])
	}
}

// processTrade evaluates and, if warranted, executes a single trade.
// Errors are logged and contained so one bad trade never blocks the
// rest of the sweep.
func (m *Monitor) processTrade(ctx context.Context, t *models.Trade) {
	quoteCtx, cancel := context.WithTimeout(ctx, m.callTimeout)
	quote, err := m.quotes.GetQuote(quoteCtx, t.Instrument)
	cancel()
	if err != nil {
		log.Printf("[Monitor] quote fetch failed trade=%s instrument=%s: %v", t.ID, t.Instrument, err)
		return
	}

	decision := Evaluate(t, quote)
	if decision == DecisionNone {
		return
	}
	log.Printf("[Monitor] trade=%s instrument=%s decision=%s bid=%.5f ask=%.5f",
		t.ID, t.Instrument, decision, quote.Bid, quote.Ask)

	// The execution context is detached from the loop context: a closure
	// already dispatched to the broker runs to completion even if the
	// monitor is stopped mid-tick.
	execCtx, cancel := context.WithTimeout(context.Background(), m.callTimeout)
	_, err = m.executor.Execute(execCtx, t.ID, decision)
	cancel()
	switch {
	case err == nil:
	case errors.Is(err, ErrTradeClosed), errors.Is(err, ErrStaleDecision):
		// Lost a race with a manual close or a concurrent sweep.
		log.Printf("[Monitor] trade=%s decision=%s superseded: %v", t.ID, decision, err)
	default:
		log.Printf("[Monitor] execution failed trade=%s decision=%s: %v", t.ID, decision, err)
	}
}
