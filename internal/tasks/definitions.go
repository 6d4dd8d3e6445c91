package tasks

// DefineTasks registers all available tasks
func DefineTasks() {
	// Register reconciliation tasks
	RegisterHandler(ReconcileStalePaymentsTask.TaskID(), ReconcileStalePaymentsTask.HandleExecution)

	// Register notification tasks
	RegisterHandler(SendPaymentReceiptTask.TaskID(), SendPaymentReceiptTask.HandleExecution)
}
