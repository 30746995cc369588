package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChickenLord4567/neotradwithcart/internal/gateway/oanda"
)

type fakeGateway struct {
	quote *oanda.Quote
	err   error
	calls int
}

func (g *fakeGateway) GetCurrentPrice(ctx context.Context, instrument string) (*oanda.Quote, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	return g.quote, nil
}

func TestGetQuoteFallsBackToGateway(t *testing.T) {
	gw := &fakeGateway{quote: &oanda.Quote{Instrument: "XAUUSD", Bid: 1899.5, Ask: 1900.1}}
	svc := NewPriceService(gw, nil)

	quote, err := svc.GetQuote(context.Background(), "XAUUSD")
	require.NoError(t, err)
	assert.Equal(t, 1899.5, quote.Bid)
	assert.Equal(t, 1900.1, quote.Ask)
	assert.Equal(t, 1, gw.calls)
}

func TestGetQuoteServedFromMemoryWithinTTL(t *testing.T) {
	gw := &fakeGateway{quote: &oanda.Quote{Instrument: "XAUUSD", Bid: 1899.5, Ask: 1900.1}}
	svc := NewPriceService(gw, nil)

	_, err := svc.GetQuote(context.Background(), "XAUUSD")
	require.NoError(t, err)

	// A second request within the TTL must not hit the broker again.
	quote, err := svc.GetQuote(context.Background(), "XAUUSD")
	require.NoError(t, err)
	assert.Equal(t, 1899.5, quote.Bid)
	assert.Equal(t, 1, gw.calls)
}

func TestGetQuoteDistinctInstrumentsCachedSeparately(t *testing.T) {
	gw := &fakeGateway{quote: &oanda.Quote{Instrument: "XAUUSD", Bid: 1899.5, Ask: 1900.1}}
	svc := NewPriceService(gw, nil)

	_, err := svc.GetQuote(context.Background(), "XAUUSD")
	require.NoError(t, err)
	_, err = svc.GetQuote(context.Background(), "EURUSD")
	require.NoError(t, err)
	assert.Equal(t, 2, gw.calls)
}

func TestGetQuoteGatewayError(t *testing.T) {
	gw := &fakeGateway{err: errors.New("pricing down")}
	svc := NewPriceService(gw, nil)

	_, err := svc.GetQuote(context.Background(), "XAUUSD")
	assert.Error(t, err)
}
