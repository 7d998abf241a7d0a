package handler

import (
	"net/http"

	"github.com/GoPolymarket/polysignal/internal/market"
	"github.com/GoPolymarket/polysignal/internal/model"
	"github.com/GoPolymarket/polysignal/internal/pkg/apperrors"
	"github.com/gin-gonic/gin"
)

type MarketHandler struct {
	store *market.HistoryStore
}

func NewMarketHandler(store *market.HistoryStore) *MarketHandler {
	return &MarketHandler{store: store}
}

// AppendPrices handles POST /v1/markets/:id/prices.
func (h *MarketHandler) AppendPrices(c *gin.Context) {
	var in model.PricePointsInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}
	id := c.Param("id")
	if err := h.store.Append(id, in.Prices...); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"market_id": id, "points": len(h.store.Series(id))})
}

// Prices handles GET /v1/markets/:id/prices.
func (h *MarketHandler) Prices(c *gin.Context) {
	id := c.Param("id")
	series := h.store.Series(id)
	if series == nil {
		c.Error(apperrors.NewNotFound("no price history for market " + id))
		return
	}
	updated, _ := h.store.LastUpdated(id)
	c.JSON(http.StatusOK, gin.H{
		"market_id":    id,
		"prices":       series,
		"updated_at":   updated,
		"history_size": len(series),
	})
}
