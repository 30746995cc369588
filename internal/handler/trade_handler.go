package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ChickenLord4567/neotradwithcart/internal/gateway/oanda"
	"github.com/ChickenLord4567/neotradwithcart/internal/middleware"
	"github.com/ChickenLord4567/neotradwithcart/internal/repository"
	"github.com/ChickenLord4567/neotradwithcart/internal/service"
	"github.com/ChickenLord4567/neotradwithcart/internal/worker"
	"github.com/ChickenLord4567/neotradwithcart/pkg/response"
)

// TradeHandler handles trade API requests
type TradeHandler struct {
	tradeService *service.TradeService
}

// NewTradeHandler creates a new TradeHandler
func NewTradeHandler(tradeService *service.TradeService) *TradeHandler {
	return &TradeHandler{
		tradeService: tradeService,
	}
}

// PlaceTrade opens a new position
// POST /api/v1/trades
func (h *TradeHandler) PlaceTrade(c *gin.Context) {
	var req service.PlaceTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	userID := middleware.GetUserID(c)
	trade, err := h.tradeService.PlaceTrade(c.Request.Context(), userID, &req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidLevels) {
			response.BadRequest(c, "tp/sl levels are on the wrong side of the market")
			return
		}
		var apiErr *oanda.APIError
		if errors.As(err, &apiErr) {
			response.BadGateway(c, "broker rejected the order")
			return
		}
		response.InternalError(c, "failed to place trade")
		return
	}

	response.Created(c, trade)
}

// ListActive returns the user's open and partially closed trades
// GET /api/v1/trades/active
func (h *TradeHandler) ListActive(c *gin.Context) {
	userID := middleware.GetUserID(c)
	trades, err := h.tradeService.ListActiveTrades(c.Request.Context(), userID)
	if err != nil {
		response.InternalError(c, "failed to list active trades")
		return
	}
	response.Success(c, trades)
}

// ListClosed returns the user's recently closed trades
// GET /api/v1/trades/closed?limit=50
func (h *TradeHandler) ListClosed(c *gin.Context) {
	userID := middleware.GetUserID(c)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	trades, err := h.tradeService.ListClosedTrades(c.Request.Context(), userID, limit)
	if err != nil {
		response.InternalError(c, "failed to list closed trades")
		return
	}
	response.Success(c, trades)
}

// GetTrade returns a single trade
// GET /api/v1/trades/:id
func (h *TradeHandler) GetTrade(c *gin.Context) {
	userID := middleware.GetUserID(c)
	trade, err := h.tradeService.GetTrade(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		h.tradeError(c, err)
		return
	}
	response.Success(c, trade)
}

// GetTradeHistory returns the audit record for a trade
// GET /api/v1/trades/:id/history
func (h *TradeHandler) GetTradeHistory(c *gin.Context) {
	userID := middleware.GetUserID(c)
	history, err := h.tradeService.GetTradeHistory(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		h.tradeError(c, err)
		return
	}
	response.Success(c, history)
}

// CloseTrade manually closes the remaining position
// POST /api/v1/trades/:id/close
func (h *TradeHandler) CloseTrade(c *gin.Context) {
	userID := middleware.GetUserID(c)
	trade, err := h.tradeService.CloseTrade(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, worker.ErrTradeClosed), errors.Is(err, service.ErrTradeNotActive):
			response.Conflict(c, "trade is already closed")
		case errors.Is(err, worker.ErrMissingBrokerID):
			response.Conflict(c, "trade has no broker trade id")
		default:
			h.tradeError(c, err)
		}
		return
	}
	response.Success(c, trade)
}

func (h *TradeHandler) tradeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrTradeNotFound):
		response.NotFound(c, "trade not found")
	case errors.Is(err, service.ErrTradeNotOwned):
		response.NotFound(c, "trade not found")
	default:
		var apiErr *oanda.APIError
		if errors.As(err, &apiErr) {
			response.BadGateway(c, "broker request failed")
			return
		}
		response.InternalError(c, "trade operation failed")
	}
}

// RegisterRoutes registers trade routes
func (h *TradeHandler) RegisterRoutes(rg *gin.RouterGroup, authMiddleware gin.HandlerFunc) {
	trades := rg.Group("/trades")
	trades.Use(authMiddleware)
	{
		trades.POST("", h.PlaceTrade)
		trades.GET("/active", h.ListActive)
		trades.GET("/closed", h.ListClosed)
		trades.GET("/:id", h.GetTrade)
		trades.GET("/:id/history", h.GetTradeHistory)
		trades.POST("/:id/close", h.CloseTrade)
	}
}
