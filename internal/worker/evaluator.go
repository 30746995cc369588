package worker

import (
	"github.com/ChickenLord4567/neotradwithcart/internal/gateway/oanda"
	"github.com/ChickenLord4567/neotradwithcart/internal/models"
)

// Decision is the outcome of evaluating a trade against a price.
type Decision int

const (
	DecisionNone Decision = iota
	DecisionTP1
	DecisionTP2
	DecisionSL
)

func (d Decision) String() string {
	switch d {
	case DecisionTP1:
		return "tp1"
	case DecisionTP2:
		return "tp2"
	case DecisionSL:
		return "sl"
	default:
		return "none"
	}
}

// Evaluate decides which threshold, if any, the current price crosses
// for a trade. It is pure: no I/O, no side effects.
//
// The comparison uses the side the position would realize on exit: the
// bid for a buy, the ask for a sell. Precedence when several thresholds
// qualify at once: TP1 (if not yet hit), then TP2 (only after TP1),
// then SL. TP2 is unreachable while TP1 is unhit because the partial
// close always precedes the final target.
func Evaluate(t *models.Trade, q *oanda.Quote) Decision {
	if t == nil || q == nil || !t.IsActive() {
		return DecisionNone
	}

	price := q.Bid
	if t.Direction == models.DirectionSell {
		price = q.Ask
	}

	if t.Direction == models.DirectionBuy {
		switch {
		case !t.TP1Hit && price >= t.TP1:
			return DecisionTP1
		case t.TP1Hit && !t.TP2Hit && price >= t.TP2:
			return DecisionTP2
		case price <= t.CurrentSL:
			return DecisionSL
		}
		return DecisionNone
	}

	switch {
	case !t.TP1Hit && price <= t.TP1:
		return DecisionTP1
	case t.TP1Hit && !t.TP2Hit && price <= t.TP2:
		return DecisionTP2
	case price >= t.CurrentSL:
		return DecisionSL
	}
	return DecisionNone
}
