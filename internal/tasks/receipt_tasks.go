package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"arogya_erp_echo/internal/models"
)

// SendPaymentReceiptArgs identifies the captured payment to send a receipt
// for.
type SendPaymentReceiptArgs struct {
	PaymentID uint `json:"payment_id"`
}

// SendPaymentReceiptTaskDef emails a receipt after a payment capture.
// Delivery is best-effort and decoupled from the capture transaction.
type SendPaymentReceiptTaskDef struct{}

// TaskID returns the unique identifier for this task
func (t *SendPaymentReceiptTaskDef) TaskID() string {
	return "send_payment_receipt"
}

// CreateTask builds a one-time ScheduledTask record for this task
func (t *SendPaymentReceiptTaskDef) CreateTask(args SendPaymentReceiptArgs) (*models.ScheduledTask, error) {
	return BuildScheduledTask(t.TaskID(), args, time.Now(), nil, models.ScheduledTaskTypeOneTime, 3)
}

// Enqueue persists a receipt task for a captured payment.
func (t *SendPaymentReceiptTaskDef) Enqueue(db *gorm.DB, paymentID uint) error {
	task, err := t.CreateTask(SendPaymentReceiptArgs{PaymentID: paymentID})
	if err != nil {
		return err
	}
	return db.Create(task).Error
}

// HandleExecution loads the payment with its invoice and patient and sends
// the receipt.
func (t *SendPaymentReceiptTaskDef) HandleExecution(ctx context.Context, deps *Deps, task models.ScheduledTask) (map[string]interface{}, error) {
	var args SendPaymentReceiptArgs
	if err := decodeArgs(task.Arguments, &args); err != nil {
		return nil, err
	}
	if args.PaymentID == 0 {
		return nil, fmt.Errorf("payment_id not provided")
	}

	var payment models.Payment
	err := deps.DB.WithContext(ctx).Preload("Invoice").Preload("Invoice.Patient").First(&payment, args.PaymentID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("payment %d not found", args.PaymentID)
		}
		return nil, err
	}

	if payment.GatewayStatus != models.PaymentStatusCaptured && payment.GatewayStatus != models.PaymentStatusRefunded {
		return map[string]interface{}{"status": "skipped", "message": "payment is not captured"}, nil
	}

	patient := payment.Invoice.Patient
	if patient.Email == "" {
		return map[string]interface{}{"status": "skipped", "message": "patient has no email"}, nil
	}

	err = deps.Email.SendPaymentReceipt(patient.Email, patient.Name, payment.Invoice.Number, &payment, payment.Invoice.Balance)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{"status": "success", "recipient": patient.Email}, nil
}

// SendPaymentReceiptTask is the singleton instance
var SendPaymentReceiptTask = &SendPaymentReceiptTaskDef{}
