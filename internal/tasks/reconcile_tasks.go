package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"arogya_erp_echo/internal/models"
)

// ReconcileStalePaymentsArgs configures one sweep over payments stuck in
// the initiated state.
type ReconcileStalePaymentsArgs struct {
	StaleAfterMinutes int `json:"stale_after_minutes"`
	ExpireAfterHours  int `json:"expire_after_hours"`
}

// ReconcileStalePaymentsTaskDef encapsulates the stale-payment sweep. It
// covers the case where both the client verify call and the webhook were
// lost: the gateway is asked directly and any capture found funnels into
// the normal idempotent transition.
type ReconcileStalePaymentsTaskDef struct{}

// TaskID returns the unique identifier for this task
func (t *ReconcileStalePaymentsTaskDef) TaskID() string {
	return "reconcile_stale_payments"
}

// CreateTask builds a recurring ScheduledTask record for this task
func (t *ReconcileStalePaymentsTaskDef) CreateTask(args ReconcileStalePaymentsArgs, due time.Time, recurringInterval *string) (*models.ScheduledTask, error) {
	return BuildScheduledTask(t.TaskID(), args, due, recurringInterval, models.ScheduledTaskTypeRecurring, 1)
}

// HandleExecution runs one sweep
func (t *ReconcileStalePaymentsTaskDef) HandleExecution(ctx context.Context, deps *Deps, task models.ScheduledTask) (map[string]interface{}, error) {
	var args ReconcileStalePaymentsArgs
	if err := decodeArgs(task.Arguments, &args); err != nil {
		return nil, err
	}
	if args.StaleAfterMinutes <= 0 {
		args.StaleAfterMinutes = 30
	}
	if args.ExpireAfterHours <= 0 {
		args.ExpireAfterHours = 24
	}

	result, err := deps.Recon.ReconcileStalePayments(ctx,
		time.Duration(args.StaleAfterMinutes)*time.Minute,
		time.Duration(args.ExpireAfterHours)*time.Hour)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"status":   "success",
		"checked":  result.Checked,
		"captured": result.Captured,
		"expired":  result.Expired,
	}, nil
}

// ReconcileStalePaymentsTask is the singleton instance
var ReconcileStalePaymentsTask = &ReconcileStalePaymentsTaskDef{}

// decodeArgs round-trips the stored argument map into a typed struct.
func decodeArgs(args map[string]interface{}, dest interface{}) error {
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("failed to marshal args: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal args: %w", err)
	}
	return nil
}
