package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mohammednour-ai/MatEx-sub001/internal/domain"
)

// ArchiveJob moves settled auctions and old audit entries to cold storage.
type ArchiveJob struct {
	archiver           domain.Archiver
	retentionDays      int
	auditRetentionDays int
	now                func() time.Time
	logger             *slog.Logger
}

// NewArchiveJob creates an ArchiveJob. Auctions processed more than
// retentionDays ago are archived; audit entries older than
// auditRetentionDays are archived and trimmed.
func NewArchiveJob(archiver domain.Archiver, retentionDays, auditRetentionDays int, logger *slog.Logger) *ArchiveJob {
	return &ArchiveJob{
		archiver:           archiver,
		retentionDays:      retentionDays,
		auditRetentionDays: auditRetentionDays,
		now:                func() time.Time { return time.Now().UTC() },
		logger:             logger.With(slog.String("component", "archive")),
	}
}

// WithClock overrides the time the cutoffs are computed from.
func (a *ArchiveJob) WithClock(now func() time.Time) *ArchiveJob {
	a.now = now
	return a
}

func days(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }

// Run executes a single archive run.
func (a *ArchiveJob) Run(ctx context.Context) error {
	now := a.now()
	cutoff := now.Add(-days(a.retentionDays))
	a.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	auctions, err := a.archiver.ArchiveAuctions(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving auctions before %v: %w", cutoff, err)
	}

	var audit int64
	if a.auditRetentionDays > 0 {
		auditCutoff := now.Add(-days(a.auditRetentionDays))
		audit, err = a.archiver.ArchiveAudit(ctx, auditCutoff)
		if err != nil {
			return fmt.Errorf("archiving audit log before %v: %w", auditCutoff, err)
		}
	}

	a.logger.InfoContext(ctx, "archive run complete",
		slog.Int64("auctions_archived", auctions),
		slog.Int64("audit_archived", audit),
	)
	return nil
}
