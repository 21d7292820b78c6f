package cron

import (
	"context"
	"fmt"

	"github.com/agrilink/agrilink-backend/pkg/logger"
)

// slaSweeper is the surface both SLA jobs need: a service method that scans
// for rows past their deadline and flips them, returning the affected count.
type slaSweeper func(ctx context.Context) (int64, error)

// NewLateDeliveryJob builds the job that marks locked units whose farmer
// missed the delivery deadline. Marking releases the lock refund path on the
// next admin cancel.
func NewLateDeliveryJob(logg *logger.Logger, sweep slaSweeper) (Job, error) {
	return newSLAJob("late-deliveries", "late deliveries marked", logg, sweep)
}

// NewOverduePickupJob builds the job that flags purchases the buyer has not
// picked up within the pickup window.
func NewOverduePickupJob(logg *logger.Logger, sweep slaSweeper) (Job, error) {
	return newSLAJob("overdue-pickups", "overdue pickups flagged", logg, sweep)
}

func newSLAJob(name, completedMsg string, logg *logger.Logger, sweep slaSweeper) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if sweep == nil {
		return nil, fmt.Errorf("sweep func required")
	}
	return &slaJob{name: name, completedMsg: completedMsg, logg: logg, sweep: sweep}, nil
}

type slaJob struct {
	name         string
	completedMsg string
	logg         *logger.Logger
	sweep        slaSweeper
}

func (j *slaJob) Name() string { return j.name }

func (j *slaJob) Run(ctx context.Context) error {
	affected, err := j.sweep(ctx)
	if err != nil {
		return fmt.Errorf("%s sweep: %w", j.name, err)
	}
	j.logg.Info(j.logg.WithField(ctx, "rows_affected", affected), j.completedMsg)
	return nil
}
