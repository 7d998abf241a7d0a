package handler

import (
	"net/http"

	"github.com/GoPolymarket/polysignal/internal/model"
	"github.com/GoPolymarket/polysignal/internal/pkg/apperrors"
	"github.com/GoPolymarket/polysignal/internal/service"
	"github.com/gin-gonic/gin"
)

type SignalHandler struct {
	pipeline *service.Pipeline
}

func NewSignalHandler(p *service.Pipeline) *SignalHandler {
	return &SignalHandler{pipeline: p}
}

// Score handles POST /v1/signals.
func (h *SignalHandler) Score(c *gin.Context) {
	var req model.ScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}
	signals, err := h.pipeline.Score(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"signals": signals, "count": len(signals)})
}

// Cached handles GET /v1/signals.
func (h *SignalHandler) Cached(c *gin.Context) {
	signals, updatedAt, ok := h.pipeline.Cache().Get()
	if !ok {
		c.Error(apperrors.NewNotFound("no fresh signals cached; POST /v1/signals first"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"signals": signals, "count": len(signals), "updated_at": updatedAt})
}

// Run handles POST /v1/pipeline/run.
func (h *SignalHandler) Run(c *gin.Context) {
	var req model.ScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}
	summary, err := h.pipeline.Run(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, summary)
}
