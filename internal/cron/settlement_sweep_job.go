package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/prepmarket-backend/internal/settlement"
	"github.com/angelmondragon/prepmarket-backend/pkg/logger"
)

type sweeper interface {
	Sweep(ctx context.Context) (*settlement.SweepSummary, error)
}

// NewSettlementSweepJob settles every vendor and rider with eligible
// earnings so nobody has to trigger settlement by hand.
func NewSettlementSweepJob(logg *logger.Logger, svc sweeper) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if svc == nil {
		return nil, fmt.Errorf("settlement service required")
	}
	return &settlementSweepJob{logg: logg, svc: svc}, nil
}

type settlementSweepJob struct {
	logg *logger.Logger
	svc  sweeper
}

func (j *settlementSweepJob) Name() string { return "settlement-sweep" }

func (j *settlementSweepJob) Run(ctx context.Context) error {
	summary, err := j.svc.Sweep(ctx)
	if summary != nil {
		logCtx := j.logg.WithFields(ctx, map[string]any{
			"actors":       summary.Actors,
			"batches":      summary.Batches,
			"amount_cents": summary.AmountCents,
		})
		j.logg.Info(logCtx, "settlement sweep complete")
	}
	return err
}
