package workflow

import (
	"context"
	"time"

	"github.com/reportdesk/reportdesk/internal/models"
	log "github.com/sirupsen/logrus"
)

// retrierInterval paces outbox sweeps.
const retrierInterval = 30 * time.Second

// retrierBatch caps how many due rows a single sweep claims.
const retrierBatch = 50

// StartRetrier runs the outbox sweep loop until ctx is cancelled. Each sweep
// re-attempts pending dispatches whose next try is due.
func (d *Dispatcher) StartRetrier(ctx context.Context) {
	ticker := time.NewTicker(retrierInterval)
	defer ticker.Stop()

	log.Info("workflow retrier started")
	for {
		select {
		case <-ctx.Done():
			log.Info("workflow retrier stopped")
			return
		case <-ticker.C:
			d.sweep(ctx)
		}
	}
}

// sweep delivers every due pending dispatch once.
func (d *Dispatcher) sweep(ctx context.Context) {
	var due []models.Dispatch
	errFind := d.db.WithContext(ctx).
		Where("status = ? AND next_try_at <= ?", models.DispatchStatusPending, time.Now().UTC()).
		Order("next_try_at ASC").
		Limit(retrierBatch).
		Find(&due).Error
	if errFind != nil {
		log.WithError(errFind).Error("workflow retrier query failed")
		return
	}
	if len(due) == 0 {
		return
	}

	log.WithField("count", len(due)).Debug("workflow retrier sweeping")
	for i := range due {
		if ctx.Err() != nil {
			return
		}
		if errSend := d.attempt(ctx, &due[i]); errSend != nil {
			log.WithError(errSend).WithField("report_id", due[i].ReportID).
				Debug("workflow retry failed")
		}
	}
}
