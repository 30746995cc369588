package repository

import (
	"context"
	"errors"
	"time"

	"github.com/ChickenLord4567/neotradwithcart/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrTradeNotFound signals a benign miss: the trade id is absent.
	ErrTradeNotFound = errors.New("trade not found")
)

// TradeUpdate is a partial update of a trade record. Only non-nil
// fields are applied; the merge happens under a row lock so concurrent
// updates to the same trade cannot interleave field-by-field.
type TradeUpdate struct {
	OandaTradeID  *string
	CurrentSL     *float64
	Status        *models.TradeStatus
	PartialClosed *bool
	TP1Hit        *bool
	TP2Hit        *bool
	SLHit         *bool
	ProfitLoss    *float64
	IsProfit      *bool
	IsLoss        *bool
	ClosePrice    *float64
	CloseReason   *models.CloseReason
	DateClosed    *time.Time
}

// Apply merges the set fields into the trade.
func (u *TradeUpdate) Apply(t *models.Trade) {
	if u.OandaTradeID != nil {
		t.OandaTradeID = *u.OandaTradeID
	}
	if u.CurrentSL != nil {
		t.CurrentSL = *u.CurrentSL
	}
	if u.Status != nil {
		t.Status = *u.Status
	}
	if u.PartialClosed != nil {
		t.PartialClosed = *u.PartialClosed
	}
	if u.TP1Hit != nil {
		t.TP1Hit = *u.TP1Hit
	}
	if u.TP2Hit != nil {
		t.TP2Hit = *u.TP2Hit
	}
	if u.SLHit != nil {
		t.SLHit = *u.SLHit
	}
	if u.ProfitLoss != nil {
		t.ProfitLoss = *u.ProfitLoss
	}
	if u.IsProfit != nil {
		t.IsProfit = *u.IsProfit
	}
	if u.IsLoss != nil {
		t.IsLoss = *u.IsLoss
	}
	if u.ClosePrice != nil {
		t.ClosePrice = *u.ClosePrice
	}
	if u.CloseReason != nil {
		t.CloseReason = *u.CloseReason
	}
	if u.DateClosed != nil {
		t.DateClosed = u.DateClosed
	}
}

// TradeRepository owns the canonical trades working set and mirrors
// every accepted state change into the trade_histories audit table
// within the same transaction.
type TradeRepository struct {
	db *gorm.DB
}

// NewTradeRepository creates a new TradeRepository
func NewTradeRepository(db *gorm.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

// Create persists a new trade and its initial history row.
func (r *TradeRepository) Create(ctx context.Context, trade *models.Trade) error {
	if trade.ID == "" {
		trade.ID = uuid.New().String()
	}
	if trade.DateOpened.IsZero() {
		trade.DateOpened = time.Now().UTC()
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(trade).Error; err != nil {
			return err
		}
		return mirrorHistory(tx, trade)
	})
}

// GetByID retrieves a trade by its canonical id.
func (r *TradeRepository) GetByID(ctx context.Context, id string) (*models.Trade, error) {
	var trade models.Trade
	result := r.db.WithContext(ctx).First(&trade, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrTradeNotFound
		}
		return nil, result.Error
	}
	return &trade, nil
}

// ListActive retrieves every trade still eligible for monitoring.
func (r *TradeRepository) ListActive(ctx context.Context) ([]models.Trade, error) {
	var trades []models.Trade
	result := r.db.WithContext(ctx).
		Where("status IN ?", []models.TradeStatus{models.StatusOpen, models.StatusPartial}).
		Order("date_opened ASC").
		Find(&trades)
	return trades, result.Error
}

// ListActiveByUser retrieves a user's open and partially closed trades.
func (r *TradeRepository) ListActiveByUser(ctx context.Context, userID uint) ([]models.Trade, error) {
	var trades []models.Trade
	result := r.db.WithContext(ctx).
		Where("user_id = ? AND status IN ?", userID, []models.TradeStatus{models.StatusOpen, models.StatusPartial}).
		Order("date_opened DESC").
		Find(&trades)
	return trades, result.Error
}

// ListRecentByUser retrieves a user's most recently closed trades.
func (r *TradeRepository) ListRecentByUser(ctx context.Context, userID uint, limit int) ([]models.Trade, error) {
	var trades []models.Trade
	result := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, models.StatusClosed).
		Order("date_closed DESC").
		Limit(limit).
		Find(&trades)
	return trades, result.Error
}

// Update applies a partial update under a row lock.
func (r *TradeRepository) Update(ctx context.Context, id string, upd TradeUpdate) (*models.Trade, error) {
	return r.UpdateWithLock(ctx, id, func(*models.Trade) (TradeUpdate, error) {
		return upd, nil
	})
}

// UpdateWithLock re-reads the trade under SELECT ... FOR UPDATE, lets fn
// decide the partial update based on current state, merges it, and
// mirrors the result into the history table. An error from fn aborts
// the transaction and leaves the record untouched.
func (r *TradeRepository) UpdateWithLock(ctx context.Context, id string, fn func(*models.Trade) (TradeUpdate, error)) (*models.Trade, error) {
	var updated *models.Trade
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var trade models.Trade
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&trade, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTradeNotFound
			}
			return err
		}

		upd, err := fn(&trade)
		if err != nil {
			return err
		}
		upd.Apply(&trade)

		if err := tx.Save(&trade).Error; err != nil {
			return err
		}
		if err := mirrorHistory(tx, &trade); err != nil {
			return err
		}

		updated = &trade
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// mirrorHistory upserts the audit projection keyed by the canonical
// trade id, so both stores share one identifier.
func mirrorHistory(tx *gorm.DB, trade *models.Trade) error {
	h := models.HistoryFromTrade(trade)
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "trade_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"oanda_trade_id", "close_price", "current_sl", "status",
			"partial_closed", "tp1_hit", "tp2_hit", "sl_hit",
			"profit_loss", "is_profit", "is_loss", "close_reason",
			"date_closed", "updated_at",
		}),
	}).Create(h).Error
}
