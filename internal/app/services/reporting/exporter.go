package reporting

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ledgerworks/payment_layer/pkg/logger"
)

// Exporter periodically writes a full CSV export to a date-partitioned
// directory. It satisfies the system lifecycle interface.
type Exporter struct {
	reports  *Service
	dir      string
	schedule string
	log      *logger.Logger
	cron     *cron.Cron
}

// NewExporter builds a scheduled exporter. schedule is a cron expression;
// an empty schedule disables the job while keeping WriteSnapshot usable.
func NewExporter(reports *Service, dir, schedule string, log *logger.Logger) *Exporter {
	if log == nil {
		log = logger.NewDefault("exporter")
	}
	return &Exporter{
		reports:  reports,
		dir:      dir,
		schedule: schedule,
		log:      log,
	}
}

// Name implements the system service interface.
func (e *Exporter) Name() string { return "csv-exporter" }

// Start schedules the export job.
func (e *Exporter) Start(context.Context) error {
	if e.schedule == "" {
		return nil
	}
	e.cron = cron.New()
	_, err := e.cron.AddFunc(e.schedule, func() {
		if _, err := e.WriteSnapshot(context.Background()); err != nil {
			e.log.Errorf("scheduled export failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule export: %w", err)
	}
	e.cron.Start()
	e.log.WithField("schedule", e.schedule).WithField("dir", e.dir).
		Info("csv exporter started")
	return nil
}

// Stop halts the export job and waits for a running export to finish.
func (e *Exporter) Stop(ctx context.Context) error {
	if e.cron == nil {
		return nil
	}
	select {
	case <-e.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WriteSnapshot writes a full export into <dir>/<yyyy-mm-dd>/ and returns
// the file path.
func (e *Exporter) WriteSnapshot(ctx context.Context) (string, error) {
	now := time.Now().UTC()
	dateDir := filepath.Join(e.dir, now.Format("2006-01-02"))
	if err := os.MkdirAll(dateDir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}

	path := filepath.Join(dateDir, fmt.Sprintf("all_payments_%s.csv", now.Format("20060102_150405")))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create export file: %w", err)
	}
	defer f.Close()

	if err := e.reports.ExportAll(ctx, "", f); err != nil {
		return "", fmt.Errorf("write export: %w", err)
	}
	e.log.WithField("path", path).Info("payments exported")
	return path, nil
}
