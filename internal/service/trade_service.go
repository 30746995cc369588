package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ChickenLord4567/neotradwithcart/internal/gateway/oanda"
	"github.com/ChickenLord4567/neotradwithcart/internal/models"
	"github.com/ChickenLord4567/neotradwithcart/internal/repository"
	"github.com/ChickenLord4567/neotradwithcart/internal/worker"
)

var (
	ErrTradeNotOwned  = errors.New("trade does not belong to user")
	ErrInvalidLevels  = errors.New("invalid tp/sl levels for direction")
	ErrTradeNotActive = errors.New("trade is not active")
)

// TradeGateway is the broker-side API the trade service needs.
type TradeGateway interface {
	PlaceTrade(ctx context.Context, req *oanda.PlaceRequest) (*oanda.PlaceResult, error)
	GetAccountBalance(ctx context.Context) (float64, error)
}

// MultiplierFunc resolves an instrument's contract-size multiplier.
type MultiplierFunc func(instrument string) float64

// TradeService handles trade placement, listing and manual closure.
type TradeService struct {
	tradeRepo   *repository.TradeRepository
	historyRepo *repository.HistoryRepository
	gateway     TradeGateway
	prices      worker.QuoteSource
	executor    *worker.Executor
	multiplier  MultiplierFunc
}

// NewTradeService creates a new TradeService
func NewTradeService(
	tradeRepo *repository.TradeRepository,
	historyRepo *repository.HistoryRepository,
	gateway TradeGateway,
	prices worker.QuoteSource,
	executor *worker.Executor,
	multiplier MultiplierFunc,
) *TradeService {
	return &TradeService{
		tradeRepo:   tradeRepo,
		historyRepo: historyRepo,
		gateway:     gateway,
		prices:      prices,
		executor:    executor,
		multiplier:  multiplier,
	}
}

// PlaceTradeRequest represents a new position request
type PlaceTradeRequest struct {
	Instrument string  `json:"instrument" binding:"required"`
	Direction  string  `json:"direction" binding:"required,oneof=buy sell"`
	LotSize    float64 `json:"lot_size" binding:"required,gt=0"`
	TP1        float64 `json:"tp1" binding:"required,gt=0"`
	TP2        float64 `json:"tp2" binding:"required,gt=0"`
	SL         float64 `json:"sl" binding:"required,gt=0"`
}

// validateLevels checks that the protective levels sit on the correct
// side of the market for the requested direction.
func validateLevels(req *PlaceTradeRequest, entry float64) error {
	if req.Direction == string(models.DirectionBuy) {
		if !(req.SL < entry && entry < req.TP1 && req.TP1 < req.TP2) {
			return ErrInvalidLevels
		}
		return nil
	}
	if !(req.TP2 < req.TP1 && req.TP1 < entry && entry < req.SL) {
		return ErrInvalidLevels
	}
	return nil
}

// PlaceTrade opens a market position at the broker and records it for
// monitoring. The entry estimate is the side the order would fill at:
// ask for a buy, bid for a sell.
func (s *TradeService) PlaceTrade(ctx context.Context, userID uint, req *PlaceTradeRequest) (*models.Trade, error) {
	quote, err := s.prices.GetQuote(ctx, req.Instrument)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch quote for %s: %w", req.Instrument, err)
	}

	entry := quote.Ask
	if req.Direction == string(models.DirectionSell) {
		entry = quote.Bid
	}
	if err := validateLevels(req, entry); err != nil {
		return nil, err
	}

	units := req.LotSize * s.multiplier(req.Instrument)
	result, err := s.gateway.PlaceTrade(ctx, &oanda.PlaceRequest{
		Instrument:  req.Instrument,
		Direction:   req.Direction,
		Units:       units,
		StopLoss:    req.SL,
		TakeProfit1: req.TP1,
		TakeProfit2: req.TP2,
	})
	if err != nil {
		return nil, fmt.Errorf("broker rejected order: %w", err)
	}

	entryPrice := result.FillPrice
	if entryPrice == 0 {
		entryPrice = entry
	}

	trade := &models.Trade{
		UserID:       userID,
		OandaTradeID: result.TradeID,
		Instrument:   req.Instrument,
		Direction:    models.TradeDirection(req.Direction),
		EntryPrice:   entryPrice,
		LotSize:      req.LotSize,
		TP1:          req.TP1,
		TP2:          req.TP2,
		SL:           req.SL,
		CurrentSL:    req.SL,
		Status:       models.StatusOpen,
	}

	if err := s.tradeRepo.Create(ctx, trade); err != nil {
		return nil, fmt.Errorf("failed to record trade: %w", err)
	}

	return trade, nil
}

// CloseTrade manually closes the remaining position of a user's trade.
func (s *TradeService) CloseTrade(ctx context.Context, userID uint, tradeID string) (*models.Trade, error) {
	trade, err := s.tradeRepo.GetByID(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if trade.UserID != userID {
		return nil, ErrTradeNotOwned
	}
	if !trade.IsActive() {
		return nil, ErrTradeNotActive
	}

	return s.executor.ManualClose(ctx, tradeID)
}

// GetTrade returns a single trade, enforcing ownership.
func (s *TradeService) GetTrade(ctx context.Context, userID uint, tradeID string) (*models.Trade, error) {
	trade, err := s.tradeRepo.GetByID(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if trade.UserID != userID {
		return nil, ErrTradeNotOwned
	}
	return trade, nil
}

// ListActiveTrades returns the user's open and partially closed trades.
func (s *TradeService) ListActiveTrades(ctx context.Context, userID uint) ([]models.Trade, error) {
	return s.tradeRepo.ListActiveByUser(ctx, userID)
}

// ListClosedTrades returns the user's most recently closed trades.
func (s *TradeService) ListClosedTrades(ctx context.Context, userID uint, limit int) ([]models.Trade, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.tradeRepo.ListRecentByUser(ctx, userID, limit)
}

// GetTradeHistory returns the audit record for a trade.
func (s *TradeService) GetTradeHistory(ctx context.Context, userID uint, tradeID string) (*models.TradeHistory, error) {
	if _, err := s.GetTrade(ctx, userID, tradeID); err != nil {
		return nil, err
	}
	return s.historyRepo.GetByTradeID(ctx, tradeID)
}

// GetAccountStats aggregates realized P/L over the user's history.
func (s *TradeService) GetAccountStats(ctx context.Context, userID uint) (*repository.AccountStats, error) {
	return s.historyRepo.GetAccountStats(ctx, userID)
}

// GetAccountBalance returns the live broker account balance.
func (s *TradeService) GetAccountBalance(ctx context.Context) (float64, error) {
	return s.gateway.GetAccountBalance(ctx)
}
