package service

import (
	"context"
	"time"

	"github.com/GoPolymarket/polysignal/internal/model"
	"github.com/GoPolymarket/polysignal/internal/pkg/apperrors"
	"github.com/google/uuid"
)

const (
	ExecutionFilled   = "filled"
	ExecutionRejected = "rejected"
)

// Executor submits an approved order to a venue. Venue transport lives outside this module.
type Executor interface {
	Execute(ctx context.Context, order model.OrderRequest) (model.ExecutionReport, error)
}

// DryRunExecutor fills every order at its derived cost without touching a venue.
type DryRunExecutor struct {
	now func() time.Time
}

func NewDryRunExecutor() *DryRunExecutor {
	return &DryRunExecutor{now: time.Now}
}

func (d *DryRunExecutor) Execute(ctx context.Context, order model.OrderRequest) (model.ExecutionReport, error) {
	if err := ctx.Err(); err != nil {
		return model.ExecutionReport{}, err
	}
	if order.Count <= 0 || order.PriceCents <= 0 {
		return model.ExecutionReport{}, apperrors.Preconditionf("order for %s has no size or price", order.Ticker)
	}
	return model.ExecutionReport{
		OrderID:   "dry-" + uuid.NewString(),
		Status:    ExecutionFilled,
		CostCents: order.TotalCostCents,
		FilledAt:  d.now(),
	}, nil
}
