package repository

import (
	"context"

	"github.com/ChickenLord4567/neotradwithcart/internal/models"
	"gorm.io/gorm"
)

// HistoryRepository reads the durable trade_histories audit projection.
// Writes happen through TradeRepository, which mirrors every accepted
// state change; this repository only queries.
type HistoryRepository struct {
	db *gorm.DB
}

// NewHistoryRepository creates a new HistoryRepository
func NewHistoryRepository(db *gorm.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// GetByTradeID retrieves the audit row for a canonical trade id.
func (r *HistoryRepository) GetByTradeID(ctx context.Context, tradeID string) (*models.TradeHistory, error) {
	var h models.TradeHistory
	result := r.db.WithContext(ctx).First(&h, "trade_id = ?", tradeID)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, ErrTradeNotFound
		}
		return nil, result.Error
	}
	return &h, nil
}

// ListByUser retrieves all audit rows for a user, newest first.
func (r *HistoryRepository) ListByUser(ctx context.Context, userID uint) ([]models.TradeHistory, error) {
	var rows []models.TradeHistory
	result := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("date_opened DESC").
		Find(&rows)
	return rows, result.Error
}

// ListRecentClosed retrieves the latest closed trades for a user.
func (r *HistoryRepository) ListRecentClosed(ctx context.Context, userID uint, limit int) ([]models.TradeHistory, error) {
	var rows []models.TradeHistory
	result := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, models.StatusClosed).
		Order("date_closed DESC").
		Limit(limit).
		Find(&rows)
	return rows, result.Error
}

// AccountStats aggregates realized results over closed trades.
type AccountStats struct {
	TotalProfit float64 `json:"total_profit"`
	TotalLoss   float64 `json:"total_loss"`
	TotalTrades int64   `json:"total_trades"`
	WinRate     float64 `json:"win_rate"`
}

// GetAccountStats aggregates closed-trade results for a user.
func (r *HistoryRepository) GetAccountStats(ctx context.Context, userID uint) (*AccountStats, error) {
	var agg struct {
		TotalProfit float64
		TotalLoss   float64
		TotalTrades int64
		Wins        int64
	}

	err := r.db.WithContext(ctx).Model(&models.TradeHistory{}).
		Select(
			"COALESCE(SUM(CASE WHEN is_profit THEN profit_loss ELSE 0 END), 0) as total_profit, " +
				"COALESCE(ABS(SUM(CASE WHEN is_loss THEN profit_loss ELSE 0 END)), 0) as total_loss, " +
				"COUNT(*) as total_trades, " +
				"COALESCE(SUM(CASE WHEN is_profit THEN 1 ELSE 0 END), 0) as wins").
		Where("user_id = ? AND status = ?", userID, models.StatusClosed).
		Scan(&agg).Error
	if err != nil {
		return nil, err
	}

	stats := &AccountStats{
		TotalProfit: agg.TotalProfit,
		TotalLoss:   agg.TotalLoss,
		TotalTrades: agg.TotalTrades,
	}
	if agg.TotalTrades > 0 {
		stats.WinRate = float64(agg.Wins) / float64(agg.TotalTrades) * 100
	}
	return stats, nil
}
