package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantfolio/riskengine/internal/marketdata"
)

// HistoryMaintenanceJob checkpoints the history database WAL and runs an
// integrity check.
type HistoryMaintenanceJob struct {
	log zerolog.Logger
	db  *marketdata.DB
}

// NewHistoryMaintenanceJob creates a new HistoryMaintenanceJob
func NewHistoryMaintenanceJob(db *marketdata.DB, log zerolog.Logger) *HistoryMaintenanceJob {
	return &HistoryMaintenanceJob{
		log: log.With().Str("component", "history_maintenance").Logger(),
		db:  db,
	}
}

// Name returns the job name
func (j *HistoryMaintenanceJob) Name() string {
	return "history_maintenance"
}

// Run executes the maintenance job
func (j *HistoryMaintenanceJob) Run() error {
	if j.db == nil {
		return nil
	}

	if err := j.db.WALCheckpoint("TRUNCATE"); err != nil {
		j.log.Warn().Err(err).Msg("Failed to checkpoint history database WAL")
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := j.db.HealthCheck(ctx); err != nil {
		j.log.Error().Err(err).Msg("History database health check failed")
		return err
	}

	j.log.Info().Msg("History database maintenance completed")
	return nil
}
