package core

// scheduler.go runs the periodic recalculation sweep.
//
// Recalculation after an edit is single-pass by default, so a chain such as
// C1 -> B1 -> A1 leaves C1 stale after A1 changes. The sweep re-evaluates
// every formula of every sheet on an interval, which heals such chains.
// Failures are logged and do not stop the scheduler.

import (
	"context"
	"log/slog"
	"time"

	"github.com/JonMunkholm/sheets/internal/logging"
)

// SweepStats summarizes one sweep.
type SweepStats struct {
	Sheets  int
	Updated int
	Failed  int
}

// StartSweepScheduler recalculates every sheet each interval until ctx is
// cancelled. A non-positive interval disables the sweep.
func (s *Service) StartSweepScheduler(ctx context.Context, interval time.Duration) {
	log := slog.Default().With("job", "sweep")
	if interval <= 0 {
		log.Info("sweep scheduler disabled")
		return
	}
	ctx = logging.NewContext(ctx, log)
	log.Info("sweep scheduler started", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("sweep scheduler stopped")
			return
		case <-ticker.C:
			start := time.Now()
			stats, err := s.Sweep(ctx)
			if err != nil {
				log.Error("sweep failed", "error", err)
				continue
			}
			log.Info("sweep completed",
				"sheets", stats.Sheets,
				"cells_updated", stats.Updated,
				"cells_failed", stats.Failed,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		}
	}
}

// Sweep recalculates every sheet of every spreadsheet once. A sheet that
// fails is logged and skipped.
func (s *Service) Sweep(ctx context.Context) (SweepStats, error) {
	var stats SweepStats
	log := logging.FromContext(ctx)

	spreadsheets, err := s.store.ListSpreadsheets(ctx)
	if err != nil {
		return stats, err
	}
	for _, ss := range spreadsheets {
		sheets, err := s.store.ListSheets(ctx, ss.ID)
		if err != nil {
			log.Error("list sheets failed", "spreadsheet_id", ss.ID, "error", err)
			continue
		}
		for _, sheet := range sheets {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			res, err := s.RecalculateSheet(ctx, sheet.ID)
			if err != nil {
				log.Error("recalculate failed", "sheet_id", sheet.ID, "error", err)
				continue
			}
			stats.Sheets++
			stats.Updated += len(res.Updated)
			stats.Failed += res.Failed
		}
	}
	return stats, nil
}
