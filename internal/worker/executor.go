package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ChickenLord4567/neotradwithcart/internal/config"
	"github.com/ChickenLord4567/neotradwithcart/internal/gateway/oanda"
	"github.com/ChickenLord4567/neotradwithcart/internal/models"
	"github.com/ChickenLord4567/neotradwithcart/internal/repository"
)

var (
	// ErrTradeClosed signals that another path already closed the trade;
	// the caller must treat it as a no-op, not re-execute.
	ErrTradeClosed = errors.New("trade not found or already closed")
	// ErrStaleDecision signals that the trade's flags changed between
	// evaluation and execution; the next tick will re-evaluate.
	ErrStaleDecision = errors.New("decision no longer applies to trade state")
	// ErrMissingBrokerID signals a trade that cannot be closed because it
	// carries no broker-assigned trade id.
	ErrMissingBrokerID = errors.New("trade has no broker trade id")
)

// TradeStore is the subset of the trade repository the worker needs.
type TradeStore interface {
	ListActive(ctx context.Context) ([]models.Trade, error)
	UpdateWithLock(ctx context.Context, id string, fn func(*models.Trade) (repository.TradeUpdate, error)) (*models.Trade, error)
}

// Broker is the subset of the price gateway used for closures.
type Broker interface {
	CloseTrade(ctx context.Context, tradeID string, units string) (*oanda.CloseResult, error)
	ClosePartialTrade(ctx context.Context, tradeID string) (*oanda.PartialCloseResult, error)
	UpdateStopLoss(ctx context.Context, tradeID string, newPrice float64) error
}

// Notifier publishes updated trade records to the surrounding system.
type Notifier interface {
	PublishTrade(trade *models.Trade)
}

// Executor drives partial and full closure of positions. Every state
// transition runs inside the store's row-locked update: the broker call
// happens first, and any failure aborts the transaction so the record
// stays untouched and is retried on the next monitor tick.
type Executor struct {
	store           TradeStore
	broker          Broker
	notifier        Notifier
	multiplier      func(instrument string) float64
	partialFraction float64
}

// NewExecutor creates a closure executor.
func NewExecutor(store TradeStore, broker Broker, notifier Notifier, cfg *config.Config) *Executor {
	return &Executor{
		store:           store,
		broker:          broker,
		notifier:        notifier,
		multiplier:      cfg.Multiplier,
		partialFraction: cfg.Monitor.PartialCloseFraction,
	}
}

// remainingFraction is the share of the original lot still open after
// the partial close.
func (e *Executor) remainingFraction() float64 {
	return 1 - e.partialFraction
}

// Execute applies a threshold decision to a trade.
func (e *Executor) Execute(ctx context.Context, tradeID string, decision Decision) (*models.Trade, error) {
	switch decision {
	case DecisionTP1:
		return e.executeTP1(ctx, tradeID)
	case DecisionTP2:
		return e.executeTP2(ctx, tradeID)
	case DecisionSL:
		return e.executeSL(ctx, tradeID)
	default:
		return nil, fmt.Errorf("no executable decision: %s", decision)
	}
}

// executeTP1 closes the configured fraction of the position and moves
// the protective stop to breakeven.
func (e *Executor) executeTP1(ctx context.Context, tradeID string) (*models.Trade, error) {
	updated, err := e.store.UpdateWithLock(ctx, tradeID, func(t *models.Trade) (repository.TradeUpdate, error) {
		if t.Status == models.StatusClosed {
			return repository.TradeUpdate{}, ErrTradeClosed
		}
		if t.TP1Hit {
			return repository.TradeUpdate{}, ErrStaleDecision
		}
		if t.OandaTradeID == "" {
			return repository.TradeUpdate{}, ErrMissingBrokerID
		}

		res, err := e.broker.ClosePartialTrade(ctx, t.OandaTradeID)
		if err != nil {
			return repository.TradeUpdate{}, fmt.Errorf("partial close failed: %w", err)
		}
		if !res.Success {
			return repository.TradeUpdate{}, fmt.Errorf("broker rejected partial close of trade %s", t.OandaTradeID)
		}

		// Breakeven move: downside risk on the remainder is gone.
		if err := e.broker.UpdateStopLoss(ctx, t.OandaTradeID, t.EntryPrice); err != nil {
			return repository.TradeUpdate{}, fmt.Errorf("breakeven stop move failed: %w", err)
		}

		pnl := t.RealizedPnL(res.ClosePrice, e.partialFraction, e.multiplier(t.Instrument))
		log.Printf("[Executor] TP1 trade=%s: closed %.0f%% at %.5f, SL moved to breakeven, partial P/L=%.2f",
			t.ID, e.partialFraction*100, res.ClosePrice, pnl)

		return repository.TradeUpdate{
			TP1Hit:        ptr(true),
			PartialClosed: ptr(true),
			CurrentSL:     ptr(t.EntryPrice),
			Status:        ptr(models.StatusPartial),
			ProfitLoss:    ptr(pnl),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	e.publish(updated)
	return updated, nil
}

// executeTP2 closes the remaining position at the final target.
func (e *Executor) executeTP2(ctx context.Context, tradeID string) (*models.Trade, error) {
	updated, err := e.store.UpdateWithLock(ctx, tradeID, func(t *models.Trade) (repository.TradeUpdate, error) {
		if t.Status == models.StatusClosed {
			return repository.TradeUpdate{}, ErrTradeClosed
		}
		if !t.TP1Hit || t.TP2Hit {
			return repository.TradeUpdate{}, ErrStaleDecision
		}
		if t.OandaTradeID == "" {
			return repository.TradeUpdate{}, ErrMissingBrokerID
		}

		res, err := e.broker.CloseTrade(ctx, t.OandaTradeID, "")
		if err != nil {
			return repository.TradeUpdate{}, fmt.Errorf("close failed: %w", err)
		}
		if !res.Success {
			return repository.TradeUpdate{}, fmt.Errorf("broker rejected close of trade %s", t.OandaTradeID)
		}

		remaining := t.RealizedPnL(res.ClosePrice, e.remainingFraction(), e.multiplier(t.Instrument))
		total := t.ProfitLoss + remaining
		now := time.Now().UTC()
		log.Printf("[Executor] TP2 trade=%s: remainder closed at %.5f, total P/L=%.2f", t.ID, res.ClosePrice, total)

		return repository.TradeUpdate{
			TP2Hit:      ptr(true),
			Status:      ptr(models.StatusClosed),
			DateClosed:  &now,
			ClosePrice:  ptr(res.ClosePrice),
			ProfitLoss:  ptr(total),
			IsProfit:    ptr(total > 0),
			IsLoss:      ptr(total < 0),
			CloseReason: ptr(models.CloseReasonTP2),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	e.publish(updated)
	return updated, nil
}

// executeSL closes whatever remains after the protective stop is hit.
// A trade that already banked a partial profit keeps that leg; the loss
// applies only to the remainder.
func (e *Executor) executeSL(ctx context.Context, tradeID string) (*models.Trade, error) {
	updated, err := e.store.UpdateWithLock(ctx, tradeID, func(t *models.Trade) (repository.TradeUpdate, error) {
		if t.Status == models.StatusClosed {
			return repository.TradeUpdate{}, ErrTradeClosed
		}
		if t.SLHit {
			return repository.TradeUpdate{}, ErrStaleDecision
		}
		if t.OandaTradeID == "" {
			return repository.TradeUpdate{}, ErrMissingBrokerID
		}

		res, err := e.broker.CloseTrade(ctx, t.OandaTradeID, "")
		if err != nil {
			return repository.TradeUpdate{}, fmt.Errorf("close failed: %w", err)
		}
		if !res.Success {
			return repository.TradeUpdate{}, fmt.Errorf("broker rejected close of trade %s", t.OandaTradeID)
		}

		fraction := 1.0
		base := 0.0
		if t.PartialClosed {
			fraction = e.remainingFraction()
			base = t.ProfitLoss
		}
		total := base + t.RealizedPnL(res.ClosePrice, fraction, e.multiplier(t.Instrument))
		now := time.Now().UTC()
		log.Printf("[Executor] SL trade=%s: closed at %.5f, total P/L=%.2f", t.ID, res.ClosePrice, total)

		return repository.TradeUpdate{
			SLHit:       ptr(true),
			Status:      ptr(models.StatusClosed),
			DateClosed:  &now,
			ClosePrice:  ptr(res.ClosePrice),
			ProfitLoss:  ptr(total),
			IsProfit:    ptr(total > 0),
			IsLoss:      ptr(total < 0),
			CloseReason: ptr(models.CloseReasonSL),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	e.publish(updated)
	return updated, nil
}

// ManualClose closes whatever fraction of the trade remains, at market.
// The computed result for the remaining size replaces ProfitLoss
// entirely: a manual close supersedes any banked partial leg.
func (e *Executor) ManualClose(ctx context.Context, tradeID string) (*models.Trade, error) {
	updated, err := e.store.UpdateWithLock(ctx, tradeID, func(t *models.Trade) (repository.TradeUpdate, error) {
		if t.Status == models.StatusClosed {
			return repository.TradeUpdate{}, ErrTradeClosed
		}
		if t.OandaTradeID == "" {
			return repository.TradeUpdate{}, ErrMissingBrokerID
		}

		res, err := e.broker.CloseTrade(ctx, t.OandaTradeID, "")
		if err != nil {
			return repository.TradeUpdate{}, fmt.Errorf("close failed: %w", err)
		}
		if !res.Success {
			return repository.TradeUpdate{}, fmt.Errorf("broker rejected close of trade %s", t.OandaTradeID)
		}

		fraction := 1.0
		if t.PartialClosed {
			fraction = e.remainingFraction()
		}
		pnl := t.RealizedPnL(res.ClosePrice, fraction, e.multiplier(t.Instrument))
		now := time.Now().UTC()
		log.Printf("[Executor] manual close trade=%s: closed at %.5f, P/L=%.2f", t.ID, res.ClosePrice, pnl)

		return repository.TradeUpdate{
			Status:      ptr(models.StatusClosed),
			DateClosed:  &now,
			ClosePrice:  ptr(res.ClosePrice),
			ProfitLoss:  ptr(pnl),
			IsProfit:    ptr(pnl > 0),
			IsLoss:      ptr(pnl < 0),
			CloseReason: ptr(models.CloseReasonManual),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	e.publish(updated)
	return updated, nil
}

func (e *Executor) publish(t *models.Trade) {
	if e.notifier != nil && t != nil {
		e.notifier.PublishTrade(t)
	}
}

func ptr[T any](v T) *T {
	return &v
}
