package handler

import (
	"net/http"

	"github.com/GoPolymarket/polysignal/internal/middleware"
	"github.com/GoPolymarket/polysignal/internal/model"
	"github.com/GoPolymarket/polysignal/internal/pkg/apperrors"
	"github.com/GoPolymarket/polysignal/internal/service"
	"github.com/gin-gonic/gin"
)

type GovernanceHandler struct {
	pipeline *service.Pipeline
}

func NewGovernanceHandler(p *service.Pipeline) *GovernanceHandler {
	return &GovernanceHandler{pipeline: p}
}

// Evaluate handles POST /v1/governance/evaluate. Blocked and kill-switched decisions are
// still 200: they are results, not failures.
func (h *GovernanceHandler) Evaluate(c *gin.Context) {
	var sig model.RiskScoredSignal
	if err := c.ShouldBindJSON(&sig); err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}
	result, err := h.pipeline.Evaluate(c.Request.Context(), sig)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// RecordExecution handles POST /v1/governance/executions.
func (h *GovernanceHandler) RecordExecution(c *gin.Context) {
	var in model.ExecutionInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}
	if err := h.pipeline.RecordExecution(c.Request.Context(), in); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"evaluation_id": in.EvaluationID,
		"wallet_state":  h.pipeline.Engine().Snapshot(),
	})
}

func (h *GovernanceHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.pipeline.Engine().Stats())
}

func (h *GovernanceHandler) State(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"wallet_state":       h.pipeline.Engine().Snapshot(),
		"pending_executions": h.pipeline.PendingCount(),
	})
}

// ActivateKillSwitch handles POST /v1/kill-switch.
func (h *GovernanceHandler) ActivateKillSwitch(c *gin.Context) {
	var in model.KillSwitchInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}
	entry, err := h.pipeline.ActivateKillSwitch(c.Request.Context(), in.Reason)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// ResetKillSwitch handles DELETE /v1/kill-switch. The operator header is recorded as
// the authorising party.
func (h *GovernanceHandler) ResetKillSwitch(c *gin.Context) {
	operator := c.GetHeader(middleware.HeaderOperator)
	if operator == "" {
		c.Error(apperrors.Preconditionf("%s header is required to reset the kill switch", middleware.HeaderOperator))
		return
	}
	entry, err := h.pipeline.ResetKillSwitch(c.Request.Context(), operator)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, entry)
}
