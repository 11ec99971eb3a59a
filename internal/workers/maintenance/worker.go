// Package maintenance runs the periodic housekeeping jobs of the ledger.
package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/helgykoin/hkn_ledger/internal/domain/services/reconciliation"
)

// BoosterStore removes boosters that no longer affect any reward
type BoosterStore interface {
	DeleteBoostersExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Reconciler sweeps all accounts
type Reconciler interface {
	CheckAll(ctx context.Context) (*reconciliation.Report, error)
}

// Config holds the job schedules in standard five-field cron syntax.
type Config struct {
	BoosterCleanupSchedule string
	BoosterRetention       time.Duration
	ReconciliationSchedule string
	JobTimeout             time.Duration
}

type Worker struct {
	boosters   BoosterStore
	reconciler Reconciler
	cfg        Config
	now        func() time.Time
	cron       *cron.Cron
	logger     *zap.Logger
}

func NewWorker(boosters BoosterStore, reconciler Reconciler, cfg Config, now func() time.Time, logger *zap.Logger) *Worker {
	if cfg.BoosterCleanupSchedule == "" {
		cfg.BoosterCleanupSchedule = "0 * * * *"
	}
	if cfg.ReconciliationSchedule == "" {
		cfg.ReconciliationSchedule = "0 3 * * *"
	}
	if cfg.BoosterRetention <= 0 {
		cfg.BoosterRetention = 30 * 24 * time.Hour
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 5 * time.Minute
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		boosters:   boosters,
		reconciler: reconciler,
		cfg:        cfg,
		now:        now,
		cron:       cron.New(),
		logger:     logger,
	}
}

func (w *Worker) Start() error {
	_, err := w.cron.AddFunc(w.cfg.BoosterCleanupSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), w.cfg.JobTimeout)
		defer cancel()

		if _, err := w.CleanupBoosters(ctx); err != nil {
			w.logger.Error("Failed to cleanup expired boosters", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}

	if w.reconciler != nil {
		_, err = w.cron.AddFunc(w.cfg.ReconciliationSchedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), w.cfg.JobTimeout)
			defer cancel()

			if _, err := w.Reconcile(ctx); err != nil {
				w.logger.Error("Reconciliation sweep failed", zap.Error(err))
			}
		})
		if err != nil {
			return err
		}
	}

	w.cron.Start()
	w.logger.Info("Maintenance worker started",
		zap.String("booster_cleanup", w.cfg.BoosterCleanupSchedule),
		zap.String("reconciliation", w.cfg.ReconciliationSchedule))
	return nil
}

// Stop stops scheduling and waits for running jobs to finish.
func (w *Worker) Stop() {
	<-w.cron.Stop().Done()
	w.logger.Info("Maintenance worker stopped")
}

// CleanupBoosters deletes boosters that expired more than the retention ago.
func (w *Worker) CleanupBoosters(ctx context.Context) (int64, error) {
	cutoff := w.now().UTC().Add(-w.cfg.BoosterRetention)
	n, err := w.boosters.DeleteBoostersExpiredBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		w.logger.Info("Expired boosters removed", zap.Int64("count", n), zap.Time("cutoff", cutoff))
	}
	return n, nil
}

// Reconcile runs one reconciliation sweep and warns on mismatches.
func (w *Worker) Reconcile(ctx context.Context) (*reconciliation.Report, error) {
	report, err := w.reconciler.CheckAll(ctx)
	if err != nil {
		return nil, err
	}
	if len(report.Mismatches) > 0 {
		w.logger.Warn("Reconciliation found mismatched accounts",
			zap.Int("mismatches", len(report.Mismatches)),
			zap.Int("checked", report.Checked))
	}
	return report, nil
}
