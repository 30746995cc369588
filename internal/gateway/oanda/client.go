package oanda

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/ChickenLord4567/neotradwithcart/internal/config"
)

var (
	// ErrNotConfigured is returned when API credentials are missing.
	ErrNotConfigured = errors.New("oanda credentials not configured")
	// ErrNoPrice is returned when the pricing endpoint yields no data.
	ErrNoPrice = errors.New("no price data received")
	// ErrNoTradeID is returned when an order fill carries no trade id.
	ErrNoTradeID = errors.New("no trade id received from oanda")
)

// APIError represents a non-2xx response from the OANDA API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("oanda api error: %d - %s", e.StatusCode, e.Body)
}

// Quote is the current best bid/ask for an instrument.
type Quote struct {
	Instrument string    `json:"instrument"`
	Bid        float64   `json:"bid"`
	Ask        float64   `json:"ask"`
	Time       time.Time `json:"time"`
}

// PlaceRequest describes a market order with protective levels.
type PlaceRequest struct {
	Instrument  string
	Direction   string // "buy" or "sell"
	Units       float64
	StopLoss    float64
	TakeProfit1 float64
	TakeProfit2 float64
}

// PlaceResult is the broker's answer to a filled market order.
type PlaceResult struct {
	TradeID   string
	FillPrice float64
}

// CloseResult is the broker's answer to a (full or sized) trade close.
type CloseResult struct {
	Success     bool
	ClosePrice  float64
	ActualUnits float64
}

// PartialCloseResult is the broker's answer to a fractional close.
type PartialCloseResult struct {
	Success        bool
	ClosePrice     float64
	RemainingUnits float64
}

// Client is an OANDA v3 REST client. All requests carry a bounded
// timeout so a stalled broker call cannot stall a monitor tick.
type Client struct {
	accountID       string
	apiKey          string
	baseURL         string
	partialFraction float64
	names           func(instrument string) string
	httpClient      *http.Client
}

// NewClient creates an OANDA gateway client from configuration.
func NewClient(cfg *config.Config) *Client {
	return &Client{
		accountID:       cfg.Oanda.AccountID,
		apiKey:          cfg.Oanda.APIKey,
		baseURL:         cfg.Oanda.BaseURL,
		partialFraction: cfg.Monitor.PartialCloseFraction,
		names:           cfg.OandaName,
		httpClient:      &http.Client{Timeout: cfg.Oanda.Timeout()},
	}
}

func (c *Client) request(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	if c.apiKey == "" || c.accountID == "" {
		return ErrNotConfigured
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("oanda request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("oanda response decode failed: %w", err)
		}
	}
	return nil
}

// GetCurrentPrice fetches the closeout bid/ask for an instrument.
func (c *Client) GetCurrentPrice(ctx context.Context, instrument string) (*Quote, error) {
	var out struct {
		Prices []struct {
			CloseoutBid string    `json:"closeoutBid"`
			CloseoutAsk string    `json:"closeoutAsk"`
			Time        time.Time `json:"time"`
		} `json:"prices"`
	}

	path := fmt.Sprintf("/accounts/%s/pricing?instruments=%s", c.accountID, c.names(instrument))
	if err := c.request(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	if len(out.Prices) == 0 {
		return nil, ErrNoPrice
	}

	p := out.Prices[0]
	bid, err := strconv.ParseFloat(p.CloseoutBid, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid bid %q: %w", p.CloseoutBid, err)
	}
	ask, err := strconv.ParseFloat(p.CloseoutAsk, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid ask %q: %w", p.CloseoutAsk, err)
	}

	return &Quote{Instrument: instrument, Bid: bid, Ask: ask, Time: p.Time}, nil
}

// GetAccountBalance fetches the current account balance.
func (c *Client) GetAccountBalance(ctx context.Context) (float64, error) {
	var out struct {
		Account struct {
			Balance string `json:"balance"`
		} `json:"account"`
	}
	if err := c.request(ctx, http.MethodGet, "/accounts/"+c.accountID, nil, &out); err != nil {
		return 0, err
	}
	return strconv.ParseFloat(out.Account.Balance, 64)
}

// PlaceTrade places a market order with a stop loss attached on fill.
// Take-profit levels are managed by the monitor, not the broker.
func (c *Client) PlaceTrade(ctx context.Context, req *PlaceRequest) (*PlaceResult, error) {
	units := math.Abs(req.Units)
	if req.Direction == "sell" {
		units = -units
	}

	body := map[string]interface{}{
		"order": map[string]interface{}{
			"type":       "MARKET",
			"instrument": c.names(req.Instrument),
			"units":      strconv.FormatFloat(units, 'f', -1, 64),
			"stopLossOnFill": map[string]string{
				"price": strconv.FormatFloat(req.StopLoss, 'f', -1, 64),
			},
		},
	}

	var out struct {
		OrderFillTransaction struct {
			Price       string `json:"price"`
			TradeOpened struct {
				TradeID string `json:"tradeID"`
			} `json:"tradeOpened"`
		} `json:"orderFillTransaction"`
		OrderCreateTransaction struct {
			ID    string `json:"id"`
			Price string `json:"price"`
		} `json:"orderCreateTransaction"`
	}

	path := fmt.Sprintf("/accounts/%s/orders", c.accountID)
	if err := c.request(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}

	tradeID := out.OrderFillTransaction.TradeOpened.TradeID
	rawPrice := out.OrderFillTransaction.Price
	if tradeID == "" {
		tradeID = out.OrderCreateTransaction.ID
		rawPrice = out.OrderCreateTransaction.Price
	}
	if tradeID == "" {
		return nil, ErrNoTradeID
	}

	fillPrice, _ := strconv.ParseFloat(rawPrice, 64)
	return &PlaceResult{TradeID: tradeID, FillPrice: fillPrice}, nil
}

// CloseTrade closes a trade at market. An empty units string closes
// whatever remains ("ALL").
func (c *Client) CloseTrade(ctx context.Context, tradeID string, units string) (*CloseResult, error) {
	if units == "" {
		units = "ALL"
	}

	var out struct {
		OrderFillTransaction struct {
			Price string `json:"price"`
			Units string `json:"units"`
		} `json:"orderFillTransaction"`
	}

	path := fmt.Sprintf("/accounts/%s/trades/%s/close", c.accountID, tradeID)
	if err := c.request(ctx, http.MethodPut, path, map[string]string{"units": units}, &out); err != nil {
		return nil, err
	}

	closePrice, _ := strconv.ParseFloat(out.OrderFillTransaction.Price, 64)
	actualUnits, _ := strconv.ParseFloat(out.OrderFillTransaction.Units, 64)

	return &CloseResult{Success: true, ClosePrice: closePrice, ActualUnits: math.Abs(actualUnits)}, nil
}

// GetTradeDetails fetches the remaining size of an open broker trade.
func (c *Client) GetTradeDetails(ctx context.Context, tradeID string) (currentUnits, unrealizedPL float64, err error) {
	var out struct {
		Trade struct {
			CurrentUnits string `json:"currentUnits"`
			UnrealizedPL string `json:"unrealizedPL"`
		} `json:"trade"`
	}

	path := fmt.Sprintf("/accounts/%s/trades/%s", c.accountID, tradeID)
	if err := c.request(ctx, http.MethodGet, path, nil, &out); err != nil {
		return 0, 0, err
	}

	currentUnits, err = strconv.ParseFloat(out.Trade.CurrentUnits, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid currentUnits %q: %w", out.Trade.CurrentUnits, err)
	}
	unrealizedPL, _ = strconv.ParseFloat(out.Trade.UnrealizedPL, 64)
	return math.Abs(currentUnits), unrealizedPL, nil
}

// ClosePartialTrade closes the configured fraction of the trade's
// current remaining size.
func (c *Client) ClosePartialTrade(ctx context.Context, tradeID string) (*PartialCloseResult, error) {
	currentUnits, _, err := c.GetTradeDetails(ctx, tradeID)
	if err != nil {
		return nil, err
	}

	unitsToClose := math.Floor(currentUnits * c.partialFraction)
	if unitsToClose < 1 {
		unitsToClose = currentUnits
	}

	res, err := c.CloseTrade(ctx, tradeID, strconv.FormatFloat(unitsToClose, 'f', -1, 64))
	if err != nil {
		return nil, err
	}

	return &PartialCloseResult{
		Success:        res.Success,
		ClosePrice:     res.ClosePrice,
		RemainingUnits: currentUnits - unitsToClose,
	}, nil
}

// UpdateStopLoss moves the broker-side protective stop of a trade.
func (c *Client) UpdateStopLoss(ctx context.Context, tradeID string, newPrice float64) error {
	body := map[string]interface{}{
		"stopLoss": map[string]string{
			"price": strconv.FormatFloat(newPrice, 'f', -1, 64),
		},
	}
	path := fmt.Sprintf("/accounts/%s/trades/%s/orders", c.accountID, tradeID)
	return c.request(ctx, http.MethodPut, path, body, nil)
}
