package models

import (
	"time"
)

// TradeDirection represents the direction of a trade
type TradeDirection string

const (
	DirectionBuy  TradeDirection = "buy"
	DirectionSell TradeDirection = "sell"
)

// TradeStatus represents the lifecycle state of a trade
type TradeStatus string

const (
	StatusOpen    TradeStatus = "open"
	StatusPartial TradeStatus = "partial"
	StatusClosed  TradeStatus = "closed"
)

// CloseReason records which event terminated (or partially closed) a trade
type CloseReason string

const (
	CloseReasonTP1    CloseReason = "tp1"
	CloseReasonTP2    CloseReason = "tp2"
	CloseReasonSL     CloseReason = "sl"
	CloseReasonManual CloseReason = "manual"
)

// Trade is the canonical record of an open or historical position.
// TP1/TP2/SL hold the original target prices and never change; CurrentSL
// is the live protective stop, moved to the entry price after TP1.
type Trade struct {
	ID            string         `gorm:"primaryKey;size:36" json:"id"`
	UserID        uint           `gorm:"index;not null" json:"user_id"`
	OandaTradeID  string         `gorm:"size:30;index" json:"oanda_trade_id"`
	Instrument    string         `gorm:"size:20;not null;index" json:"instrument"`
	Direction     TradeDirection `gorm:"size:4;not null" json:"direction"`
	EntryPrice    float64        `gorm:"type:decimal(20,8);not null" json:"entry_price"`
	ClosePrice    float64        `gorm:"type:decimal(20,8)" json:"close_price"`
	LotSize       float64        `gorm:"type:decimal(20,8);not null" json:"lot_size"`
	TP1           float64        `gorm:"type:decimal(20,8);not null" json:"tp1"`
	TP2           float64        `gorm:"type:decimal(20,8);not null" json:"tp2"`
	SL            float64        `gorm:"type:decimal(20,8);not null" json:"sl"`
	CurrentSL     float64        `gorm:"type:decimal(20,8);not null" json:"current_sl"`
	Status        TradeStatus    `gorm:"size:10;not null;default:'open';index" json:"status"`
	PartialClosed bool           `gorm:"default:false" json:"partial_closed"`
	TP1Hit        bool           `gorm:"default:false" json:"tp1_hit"`
	TP2Hit        bool           `gorm:"default:false" json:"tp2_hit"`
	SLHit         bool           `gorm:"default:false" json:"sl_hit"`
	ProfitLoss    float64        `gorm:"type:decimal(20,8)" json:"profit_loss"`
	IsProfit      bool           `gorm:"default:false" json:"is_profit"`
	IsLoss        bool           `gorm:"default:false" json:"is_loss"`
	CloseReason   CloseReason    `gorm:"size:10" json:"close_reason,omitempty"`
	DateOpened    time.Time      `gorm:"index" json:"date_opened"`
	DateClosed    *time.Time     `gorm:"index" json:"date_closed,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// TableName specifies the table name for Trade model
func (Trade) TableName() string {
	return "trades"
}

// IsActive reports whether the trade is still monitored (open or partial).
func (t *Trade) IsActive() bool {
	return t.Status == StatusOpen || t.Status == StatusPartial
}

// RealizedPnL computes the monetary result of closing the given fraction
// of the original position at closePrice. The multiplier is the
// per-instrument contract size (e.g. 100 for XAUUSD, 100000 for forex).
func (t *Trade) RealizedPnL(closePrice, fraction, multiplier float64) float64 {
	priceDiff := closePrice - t.EntryPrice
	if t.Direction == DirectionSell {
		priceDiff = t.EntryPrice - closePrice
	}
	return priceDiff * t.LotSize * fraction * multiplier
}
