package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/ChickenLord4567/neotradwithcart/internal/middleware"
	"github.com/ChickenLord4567/neotradwithcart/internal/service"
	"github.com/ChickenLord4567/neotradwithcart/pkg/response"
)

// AccountHandler handles account API requests
type AccountHandler struct {
	tradeService *service.TradeService
}

// NewAccountHandler creates a new AccountHandler
func NewAccountHandler(tradeService *service.TradeService) *AccountHandler {
	return &AccountHandler{
		tradeService: tradeService,
	}
}

// GetBalance returns the live broker account balance
// GET /api/v1/account/balance
func (h *AccountHandler) GetBalance(c *gin.Context) {
	balance, err := h.tradeService.GetAccountBalance(c.Request.Context())
	if err != nil {
		response.BadGateway(c, "failed to fetch account balance")
		return
	}
	response.Success(c, gin.H{"balance": balance})
}

// GetStats returns realized P/L aggregates over closed trades
// GET /api/v1/account/stats
func (h *AccountHandler) GetStats(c *gin.Context) {
	userID := middleware.GetUserID(c)
	stats, err := h.tradeService.GetAccountStats(c.Request.Context(), userID)
	if err != nil {
		response.InternalError(c, "failed to compute account stats")
		return
	}
	response.Success(c, stats)
}

// RegisterRoutes registers account routes
func (h *AccountHandler) RegisterRoutes(rg *gin.RouterGroup, authMiddleware gin.HandlerFunc) {
	account := rg.Group("/account")
	account.Use(authMiddleware)
	{
		account.GET("/balance", h.GetBalance)
		account.GET("/stats", h.GetStats)
	}
}
