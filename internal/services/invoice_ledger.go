package services

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"arogya_erp_echo/internal/models"
)

// InvoiceLedger owns invoice state transitions and the paid/balance
// invariant. Every mutation recomputes paid from the full payment set
// inside a single transaction holding a row lock on the invoice, so
// concurrent payments cannot lose updates.
type InvoiceLedger struct {
	db          *gorm.DB
	commissions *CommissionEngine
}

func NewInvoiceLedger(db *gorm.DB, commissions *CommissionEngine) *InvoiceLedger {
	return &InvoiceLedger{db: db, commissions: commissions}
}

// CreateInvoiceInput carries the caller-supplied invoice fields. Discount
// and tax are externally supplied numbers, zero when absent.
type CreateInvoiceInput struct {
	PatientID   uint
	EncounterID *uint
	Items       []models.InvoiceItem
	Discount    float64
	Tax         float64
	Final       bool
}

// CreateInvoice computes totals once and persists the invoice. Totals are
// immutable afterwards; only payment/refund application mutates the row.
func (l *InvoiceLedger) CreateInvoice(ctx context.Context, in CreateInvoiceInput) (*models.Invoice, error) {
	if len(in.Items) == 0 {
		return nil, &ValidationError{Msg: "invoice must have at least one item"}
	}

	subtotal := 0.0
	for _, item := range in.Items {
		if item.Amount < 0 || math.IsNaN(item.Amount) || math.IsInf(item.Amount, 0) {
			return nil, &ValidationError{Msg: "item amount must be a non-negative number"}
		}
		subtotal += item.Amount
	}
	if in.Discount < 0 || in.Tax < 0 {
		return nil, &ValidationError{Msg: "discount and tax must be non-negative"}
	}

	total := round2(subtotal - in.Discount + in.Tax)
	if total < 0 {
		return nil, &ValidationError{Msg: "discount exceeds invoice value"}
	}

	var patient models.Patient
	if err := l.db.WithContext(ctx).First(&patient, in.PatientID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Resource: "patient", ID: in.PatientID}
		}
		return nil, err
	}

	items, err := json.Marshal(in.Items)
	if err != nil {
		return nil, &ValidationError{Msg: "invalid invoice items"}
	}

	status := models.InvoiceStatusDraft
	if in.Final {
		status = models.InvoiceStatusFinal
	}

	invoice := models.Invoice{
		Number:      "INV-" + strings.ToUpper(uuid.New().String()[:8]),
		PatientID:   in.PatientID,
		EncounterID: in.EncounterID,
		Items:       items,
		Subtotal:    round2(subtotal),
		Discount:    in.Discount,
		Tax:         in.Tax,
		Total:       total,
		Paid:        0,
		Balance:     total,
		Status:      status,
	}
	if err := l.db.WithContext(ctx).Create(&invoice).Error; err != nil {
		return nil, err
	}
	return &invoice, nil
}

// GetInvoice loads an invoice with its patient and payments.
func (l *InvoiceLedger) GetInvoice(ctx context.Context, id uint) (*models.Invoice, error) {
	var invoice models.Invoice
	err := l.db.WithContext(ctx).Preload("Patient").Preload("Payments").First(&invoice, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Resource: "invoice", ID: id}
		}
		return nil, err
	}
	return &invoice, nil
}

// Finalize moves a draft invoice to final. Payments on drafts are legal;
// finalization only closes the line items for editing by the wider system.
func (l *InvoiceLedger) Finalize(ctx context.Context, id uint) (*models.Invoice, error) {
	var invoice models.Invoice
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockForUpdate(tx).First(&invoice, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &NotFoundError{Resource: "invoice", ID: id}
			}
			return err
		}
		if invoice.Status != models.InvoiceStatusDraft {
			return &InvalidStateError{Msg: "only draft invoices can be finalized"}
		}
		invoice.Status = models.InvoiceStatusFinal
		return tx.Model(&invoice).Update("status", models.InvoiceStatusFinal).Error
	})
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

// ApplyPayment records an offline payment (cash, card, ...) as captured
// from creation; there is no asynchronous confirmation to reconcile.
func (l *InvoiceLedger) ApplyPayment(ctx context.Context, invoiceID uint, amount float64, mode, transactionRef string) (*models.Payment, error) {
	if amount <= 0 {
		return nil, &ValidationError{Msg: "payment amount must be positive"}
	}

	var payment models.Payment
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var invoice models.Invoice
		if err := lockForUpdate(tx).First(&invoice, invoiceID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &NotFoundError{Resource: "invoice", ID: invoiceID}
			}
			return err
		}
		if amount > invoice.Balance {
			return &ValidationError{Msg: "payment amount exceeds invoice balance"}
		}

		now := time.Now()
		payment = models.Payment{
			InvoiceID:      invoiceID,
			Amount:         round2(amount),
			Mode:           mode,
			GatewayStatus:  models.PaymentStatusCaptured,
			TransactionRef: transactionRef,
			PaidAt:         &now,
		}
		if err := tx.Create(&payment).Error; err != nil {
			return err
		}

		_, err := l.RecomputeBalance(tx, invoiceID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// ApplyRefund reverses up to the net captured amount of a single payment.
// Used directly for offline payments; gateway refunds reach applyRefundTx
// through the reconciliation service.
func (l *InvoiceLedger) ApplyRefund(ctx context.Context, paymentID uint, amount float64) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var payment models.Payment
		if err := tx.First(&payment, paymentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &NotFoundError{Resource: "payment", ID: paymentID}
			}
			return err
		}
		return l.applyRefundTx(tx, &payment, amount, "")
	})
}

// applyRefundTx performs the refund transition inside the caller's
// transaction. The status-guarded update makes a concurrent duplicate
// refund a detectable no-op instead of a double reversal.
func (l *InvoiceLedger) applyRefundTx(tx *gorm.DB, payment *models.Payment, amount float64, refundID string) error {
	switch payment.GatewayStatus {
	case models.PaymentStatusCaptured, models.PaymentStatusRefundPending:
	default:
		return &InvalidStateError{Msg: "only captured payments can be refunded"}
	}
	if amount <= 0 || round2(amount) > payment.NetCaptured() {
		return &InvalidStateError{Msg: "refund amount exceeds captured amount"}
	}

	now := time.Now()
	res := tx.Model(&models.Payment{}).
		Where("id = ? AND gateway_status IN ?", payment.ID,
			[]models.PaymentStatus{models.PaymentStatusCaptured, models.PaymentStatusRefundPending}).
		Updates(map[string]interface{}{
			"gateway_status": models.PaymentStatusRefunded,
			"refund_id":      refundID,
			"refund_amount":  round2(amount),
			"refunded_at":    &now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &InvalidStateError{Msg: "payment is no longer refundable"}
	}

	payment.GatewayStatus = models.PaymentStatusRefunded
	payment.RefundID = refundID
	payment.RefundAmount = round2(amount)
	payment.RefundedAt = &now

	_, err := l.RecomputeBalance(tx, payment.InvoiceID)
	return err
}

type ledgerSums struct {
	Captured float64
	Refunded float64
}

// RecomputeBalance derives paid/balance/status from the full payment set,
// never from a cached delta, and fires the commission trigger when the
// invoice reaches settlement. Must run inside the transaction that mutated
// the payment rows.
func (l *InvoiceLedger) RecomputeBalance(tx *gorm.DB, invoiceID uint) (*models.Invoice, error) {
	var invoice models.Invoice
	if err := lockForUpdate(tx).First(&invoice, invoiceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Resource: "invoice", ID: invoiceID}
		}
		return nil, err
	}

	// refund_pending still holds the captured money until the gateway
	// acknowledges the refund
	var sums ledgerSums
	err := tx.Model(&models.Payment{}).
		Select("COALESCE(SUM(CASE WHEN gateway_status IN ? THEN amount ELSE 0 END), 0) AS captured, "+
			"COALESCE(SUM(CASE WHEN gateway_status = ? THEN refund_amount ELSE 0 END), 0) AS refunded",
			[]models.PaymentStatus{models.PaymentStatusCaptured, models.PaymentStatusRefundPending, models.PaymentStatusRefunded},
			models.PaymentStatusRefunded).
		Where("invoice_id = ?", invoiceID).
		Scan(&sums).Error
	if err != nil {
		return nil, err
	}

	paid := round2(sums.Captured - sums.Refunded)
	balance := round2(invoice.Total - paid)

	status := invoice.Status
	switch {
	case balance <= 0 && invoice.Total > 0:
		status = models.InvoiceStatusPaid
	case paid > 0:
		status = models.InvoiceStatusPartial
	case status == models.InvoiceStatusPaid || status == models.InvoiceStatusPartial:
		// a full reversal demotes to partial, never back to draft
		status = models.InvoiceStatusPartial
	}

	invoice.Paid = paid
	invoice.Balance = balance
	invoice.Status = status
	err = tx.Model(&models.Invoice{}).Where("id = ?", invoiceID).
		Updates(map[string]interface{}{"paid": paid, "balance": balance, "status": status}).Error
	if err != nil {
		return nil, err
	}

	if l.commissions != nil && invoice.Settled() {
		if err := l.commissions.TriggerOnSettlement(tx, &invoice); err != nil {
			return nil, err
		}
	}
	return &invoice, nil
}

// lockForUpdate takes a row lock on postgres. The in-memory SQLite used by
// tests has a single writer, so the enclosing transaction is the guard
// there and FOR UPDATE would be rejected.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
