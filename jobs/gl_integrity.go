package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
)

// IntegrityChecker scans the ledger for discrepancies.
type IntegrityChecker interface {
	CheckIntegrity(ctx context.Context) (accounting.IntegrityReport, error)
}

// ErrIntegrityIssues marks a scan that found discrepancies.
var ErrIntegrityIssues = errors.New("ledger integrity: discrepancies found")

// LedgerIntegrityJob verifies that every entry balances and that account balances
// agree with their ledger rows.
type LedgerIntegrityJob struct {
	Checker IntegrityChecker
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewLedgerIntegrityJob constructs the job handler.
func NewLedgerIntegrityJob(checker IntegrityChecker, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerIntegrityJob {
	return &LedgerIntegrityJob{Checker: checker, Logger: logger, Metrics: metrics}
}

// Handle runs one scan. Discrepancies are logged individually; the task fails
// without retry when the payload asks for it.
func (j *LedgerIntegrityJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Checker == nil {
		return errors.New("ledger integrity: dependencies not configured")
	}
	var payload LedgerIntegrityPayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracker := j.Metrics.Track(TaskLedgerIntegrity)
	report, err := j.Checker.CheckIntegrity(ctx)
	if err != nil {
		logger.Error("ledger integrity scan failed", slog.Any("error", err))
		return tracker.End(err)
	}
	j.Metrics.SetIntegrityIssues(len(report.Issues))
	for _, issue := range report.Issues {
		logger.Error("ledger integrity issue",
			slog.String("kind", issue.Kind),
			slog.Int64("account_id", issue.AccountID),
			slog.Int64("entry_id", issue.EntryID),
			slog.String("detail", issue.Detail),
		)
	}
	logger.Info("ledger integrity scan completed",
		slog.Int("accounts_checked", report.AccountsChecked),
		slog.Int("entries_checked", report.EntriesChecked),
		slog.Int("issues", len(report.Issues)),
	)
	if !report.OK() && payload.FailOnIssues {
		return tracker.End(fmt.Errorf("%w: %d issue(s): %w", ErrIntegrityIssues, len(report.Issues), asynq.SkipRetry))
	}
	return tracker.End(nil)
}
