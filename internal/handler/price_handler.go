package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/ChickenLord4567/neotradwithcart/internal/service"
	"github.com/ChickenLord4567/neotradwithcart/pkg/response"
)

// PriceHandler handles price API requests
type PriceHandler struct {
	priceService *service.PriceService
}

// NewPriceHandler creates a new PriceHandler
func NewPriceHandler(priceService *service.PriceService) *PriceHandler {
	return &PriceHandler{
		priceService: priceService,
	}
}

// GetQuote returns the current bid/ask for an instrument
// GET /api/v1/prices/:instrument
func (h *PriceHandler) GetQuote(c *gin.Context) {
	instrument := c.Param("instrument")
	quote, err := h.priceService.GetQuote(c.Request.Context(), instrument)
	if err != nil {
		response.BadGateway(c, "price unavailable for "+instrument)
		return
	}
	response.Success(c, quote)
}

// RegisterRoutes registers price routes
func (h *PriceHandler) RegisterRoutes(rg *gin.RouterGroup) {
	prices := rg.Group("/prices")
	{
		prices.GET("/:instrument", h.GetQuote)
	}
}
