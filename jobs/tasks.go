package jobs

import "github.com/hibiken/asynq"

const (
	// QueueDefault is the queue all maintenance jobs run on.
	QueueDefault = "default"
	// TaskExpireSweep deactivates role assignments whose expiry has elapsed.
	TaskExpireSweep = "rbac:expire_sweep"
	// TaskAuditPrune deletes audit records older than the retention horizon.
	TaskAuditPrune = "audit:prune"
)

// NewExpireSweepTask constructs the sweep task. The job is idempotent, so it
// carries no payload.
func NewExpireSweepTask() *asynq.Task {
	return asynq.NewTask(TaskExpireSweep, nil)
}

// NewAuditPruneTask constructs the prune task.
func NewAuditPruneTask() *asynq.Task {
	return asynq.NewTask(TaskAuditPrune, nil)
}
