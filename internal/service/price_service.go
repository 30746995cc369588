package service

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ChickenLord4567/neotradwithcart/internal/gateway/oanda"
)

// quoteTTL bounds how long a cached quote is served before the broker
// is consulted again. Matches the monitor sweep interval.
const quoteTTL = 5 * time.Second

// PriceGateway is the broker-side price API the service falls back to.
type PriceGateway interface {
	GetCurrentPrice(ctx context.Context, instrument string) (*oanda.Quote, error)
}

// PriceService serves two-sided quotes with a memory cache in front of
// Redis in front of the broker REST API. A quote fetched for one trade
// is reused for every other trade on the same instrument within the TTL.
type PriceService struct {
	gateway PriceGateway
	redis   *redis.Client

	mu     sync.RWMutex
	quotes map[string]cachedQuote
}

type cachedQuote struct {
	quote   oanda.Quote
	fetched time.Time
}

// NewPriceService creates a new PriceService. The redis client may be
// nil; caching then degrades to memory only.
func NewPriceService(gateway PriceGateway, redisClient *redis.Client) *PriceService {
	return &PriceService{
		gateway: gateway,
		redis:   redisClient,
		quotes:  make(map[string]cachedQuote),
	}
}

// GetQuote returns the current bid/ask for an instrument.
func (s *PriceService) GetQuote(ctx context.Context, instrument string) (*oanda.Quote, error) {
	// Memory cache first.
	s.mu.RLock()
	cached, ok := s.quotes[instrument]
	s.mu.RUnlock()
	if ok && time.Since(cached.fetched) < quoteTTL {
		q := cached.quote
		return &q, nil
	}

	// Then Redis, which survives process restarts and is shared across
	// instances.
	if q, err := s.fromRedis(ctx, instrument); err == nil {
		s.storeMemory(instrument, q)
		return q, nil
	}

	// Fall back to the broker.
	q, err := s.gateway.GetCurrentPrice(ctx, instrument)
	if err != nil {
		return nil, err
	}

	s.storeMemory(instrument, q)
	s.storeRedis(ctx, instrument, q)
	return q, nil
}

func (s *PriceService) storeMemory(instrument string, q *oanda.Quote) {
	s.mu.Lock()
	s.quotes[instrument] = cachedQuote{quote: *q, fetched: time.Now()}
	s.mu.Unlock()
}

func (s *PriceService) fromRedis(ctx context.Context, instrument string) (*oanda.Quote, error) {
	if s.redis == nil {
		return nil, redis.Nil
	}

	key := quoteKey(instrument)
	fields, err := s.redis.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, redis.Nil
	}

	bid, err := strconv.ParseFloat(fields["bid"], 64)
	if err != nil {
		return nil, err
	}
	ask, err := strconv.ParseFloat(fields["ask"], 64)
	if err != nil {
		return nil, err
	}

	return &oanda.Quote{
		Instrument: instrument,
		Bid:        bid,
		Ask:        ask,
		Time:       time.Now(),
	}, nil
}

func (s *PriceService) storeRedis(ctx context.Context, instrument string, q *oanda.Quote) {
	if s.redis == nil {
		return
	}

	key := quoteKey(instrument)
	s.redis.HSet(ctx, key, map[string]interface{}{
		"bid":       q.Bid,
		"ask":       q.Ask,
		"timestamp": q.Time.UnixMilli(),
	})
	s.redis.Expire(ctx, key, quoteTTL)
}

func quoteKey(instrument string) string {
	return fmt.Sprintf("quote:%s", instrument)
}
