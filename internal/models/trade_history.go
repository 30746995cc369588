package models

import (
	"time"
)

// TradeHistory is the durable audit projection of a trade. Rows are
// keyed by the canonical trade UUID so lifecycle updates always land on
// the right record; the table keeps its own surrogate primary key.
type TradeHistory struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	TradeID       string         `gorm:"size:36;uniqueIndex;not null" json:"trade_id"`
	UserID        uint           `gorm:"index;not null" json:"user_id"`
	OandaTradeID  string         `gorm:"size:30" json:"oanda_trade_id"`
	Instrument    string         `gorm:"size:20;not null" json:"instrument"`
	Direction     TradeDirection `gorm:"size:4;not null" json:"direction"`
	EntryPrice    float64        `gorm:"type:decimal(20,8);not null" json:"entry_price"`
	ClosePrice    float64        `gorm:"type:decimal(20,8)" json:"close_price"`
	LotSize       float64        `gorm:"type:decimal(20,8);not null" json:"lot_size"`
	TP1           float64        `gorm:"type:decimal(20,8)" json:"tp1"`
	TP2           float64        `gorm:"type:decimal(20,8)" json:"tp2"`
	SL            float64        `gorm:"type:decimal(20,8)" json:"sl"`
	CurrentSL     float64        `gorm:"type:decimal(20,8)" json:"current_sl"`
	Status        TradeStatus    `gorm:"size:10;not null;index" json:"status"`
	PartialClosed bool           `gorm:"default:false" json:"partial_closed"`
	TP1Hit        bool           `gorm:"default:false" json:"tp1_hit"`
	TP2Hit        bool           `gorm:"default:false" json:"tp2_hit"`
	SLHit         bool           `gorm:"default:false" json:"sl_hit"`
	ProfitLoss    float64        `gorm:"type:decimal(20,8)" json:"profit_loss"`
	IsProfit      bool           `gorm:"default:false" json:"is_profit"`
	IsLoss        bool           `gorm:"default:false" json:"is_loss"`
	CloseReason   CloseReason    `gorm:"size:10" json:"close_reason,omitempty"`
	DateOpened    time.Time      `json:"date_opened"`
	DateClosed    *time.Time     `gorm:"index" json:"date_closed,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// TableName specifies the table name for TradeHistory model
func (TradeHistory) TableName() string {
	return "trade_histories"
}

// HistoryFromTrade builds the audit row mirroring the current state of a trade.
func HistoryFromTrade(t *Trade) *TradeHistory {
	return &TradeHistory{
		TradeID:       t.ID,
		UserID:        t.UserID,
		OandaTradeID:  t.OandaTradeID,
		Instrument:    t.Instrument,
		Direction:     t.Direction,
		EntryPrice:    t.EntryPrice,
		ClosePrice:    t.ClosePrice,
		LotSize:       t.LotSize,
		TP1:           t.TP1,
		TP2:           t.TP2,
		SL:            t.SL,
		CurrentSL:     t.CurrentSL,
		Status:        t.Status,
		PartialClosed: t.PartialClosed,
		TP1Hit:        t.TP1Hit,
		TP2Hit:        t.TP2Hit,
		SLHit:         t.SLHit,
		ProfitLoss:    t.ProfitLoss,
		IsProfit:      t.IsProfit,
		IsLoss:        t.IsLoss,
		CloseReason:   t.CloseReason,
		DateOpened:    t.DateOpened,
		DateClosed:    t.DateClosed,
	}
}
