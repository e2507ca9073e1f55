package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAgingRefresh recomputes document statuses and aging buckets.
	TaskAgingRefresh = "aging:refresh"
	// TaskLedgerIntegrity scans the general ledger for balance discrepancies.
	TaskLedgerIntegrity = "ledger:integrity"
)

// AgingRefreshPayload records who asked for a refresh.
type AgingRefreshPayload struct {
	RequestedBy string    `json:"requested_by"`
	RequestedAt time.Time `json:"requested_at"`
}

// LedgerIntegrityPayload configures an integrity scan.
type LedgerIntegrityPayload struct {
	// FailOnIssues makes the task fail when discrepancies are found so they surface
	// in the asynq dashboard as well as the logs.
	FailOnIssues bool `json:"fail_on_issues"`
}

// NewAgingRefreshTask builds an aging refresh task.
func NewAgingRefreshTask(requestedBy string) (*asynq.Task, error) {
	if requestedBy == "" {
		requestedBy = "scheduler"
	}
	body, err := json.Marshal(AgingRefreshPayload{RequestedBy: requestedBy, RequestedAt: time.Now().UTC()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAgingRefresh, body, asynq.Queue(QueueDefault), asynq.Timeout(5*time.Minute)), nil
}

// NewLedgerIntegrityTask builds a ledger integrity task.
func NewLedgerIntegrityTask(failOnIssues bool) (*asynq.Task, error) {
	body, err := json.Marshal(LedgerIntegrityPayload{FailOnIssues: failOnIssues})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, body, asynq.Queue(QueueDefault), asynq.Timeout(15*time.Minute)), nil
}
