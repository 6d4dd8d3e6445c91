package services

import (
	"context"
	"errors"
	"testing"

	"arogya_erp_echo/internal/models"
)

func newTestLedger(t *testing.T) (*InvoiceLedger, *models.Patient) {
	t.Helper()
	db := newTestDB(t)
	ledger := NewInvoiceLedger(db, NewCommissionEngine(nil))
	patient := createTestPatient(t, db, nil)
	return ledger, patient
}

func TestCreateInvoiceTotals(t *testing.T) {
	ledger, patient := newTestLedger(t)

	invoice, err := ledger.CreateInvoice(context.Background(), CreateInvoiceInput{
		PatientID: patient.ID,
		Items: []models.InvoiceItem{
			{Description: "Consultation", Amount: 500},
			{Description: "X-Ray", Amount: 1200},
		},
		Discount: 200,
		Tax:      90,
	})
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}

	if invoice.Subtotal != 1700 {
		t.Errorf("Subtotal = %v; want 1700", invoice.Subtotal)
	}
	if invoice.Total != 1590 {
		t.Errorf("Total = %v; want 1590", invoice.Total)
	}
	if invoice.Paid != 0 || invoice.Balance != 1590 {
		t.Errorf("Paid/Balance = %v/%v; want 0/1590", invoice.Paid, invoice.Balance)
	}
	if invoice.Status != models.InvoiceStatusDraft {
		t.Errorf("Status = %v; want draft", invoice.Status)
	}
	if invoice.Number == "" {
		t.Error("Number is empty")
	}
}

func TestCreateInvoiceValidation(t *testing.T) {
	ledger, patient := newTestLedger(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		input CreateInvoiceInput
	}{
		{
			name:  "no items",
			input: CreateInvoiceInput{PatientID: patient.ID},
		},
		{
			name: "negative item amount",
			input: CreateInvoiceInput{
				PatientID: patient.ID,
				Items:     []models.InvoiceItem{{Description: "Adjustment", Amount: -50}},
			},
		},
		{
			name: "negative discount",
			input: CreateInvoiceInput{
				PatientID: patient.ID,
				Items:     []models.InvoiceItem{{Description: "Consultation", Amount: 500}},
				Discount:  -1,
			},
		},
		{
			name: "discount exceeds invoice value",
			input: CreateInvoiceInput{
				PatientID: patient.ID,
				Items:     []models.InvoiceItem{{Description: "Consultation", Amount: 500}},
				Discount:  600,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ledger.CreateInvoice(ctx, tt.input)
			var validationErr *ValidationError
			if !errors.As(err, &validationErr) {
				t.Errorf("CreateInvoice() error = %v; want ValidationError", err)
			}
		})
	}

	t.Run("unknown patient", func(t *testing.T) {
		_, err := ledger.CreateInvoice(ctx, CreateInvoiceInput{
			PatientID: 9999,
			Items:     []models.InvoiceItem{{Description: "Consultation", Amount: 500}},
		})
		var notFoundErr *NotFoundError
		if !errors.As(err, &notFoundErr) {
			t.Errorf("CreateInvoice() error = %v; want NotFoundError", err)
		}
	})
}

func TestFinalize(t *testing.T) {
	ledger, patient := newTestLedger(t)
	ctx := context.Background()

	invoice := createTestInvoice(t, ledger, patient.ID, 500)

	finalized, err := ledger.Finalize(ctx, invoice.ID)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if finalized.Status != models.InvoiceStatusFinal {
		t.Errorf("Status = %v; want final", finalized.Status)
	}

	if _, err := ledger.Finalize(ctx, invoice.ID); err == nil {
		t.Error("second Finalize succeeded; want InvalidStateError")
	}
}

func TestApplyPaymentLifecycle(t *testing.T) {
	ledger, patient := newTestLedger(t)
	ctx := context.Background()

	invoice := createTestInvoice(t, ledger, patient.ID, 1000)

	// partial payment
	payment, err := ledger.ApplyPayment(ctx, invoice.ID, 400, models.PaymentModeCash, "RCPT-1")
	if err != nil {
		t.Fatalf("ApplyPayment: %v", err)
	}
	if payment.GatewayStatus != models.PaymentStatusCaptured {
		t.Errorf("payment status = %v; want captured", payment.GatewayStatus)
	}

	got := reloadInvoice(t, ledger.db, invoice.ID)
	if got.Paid != 400 || got.Balance != 600 {
		t.Errorf("Paid/Balance = %v/%v; want 400/600", got.Paid, got.Balance)
	}
	if got.Status != models.InvoiceStatusPartial {
		t.Errorf("Status = %v; want partial", got.Status)
	}

	// settling payment
	if _, err := ledger.ApplyPayment(ctx, invoice.ID, 600, models.PaymentModeUPI, "RCPT-2"); err != nil {
		t.Fatalf("ApplyPayment: %v", err)
	}

	got = reloadInvoice(t, ledger.db, invoice.ID)
	if got.Paid != 1000 || got.Balance != 0 {
		t.Errorf("Paid/Balance = %v/%v; want 1000/0", got.Paid, got.Balance)
	}
	if got.Status != models.InvoiceStatusPaid {
		t.Errorf("Status = %v; want paid", got.Status)
	}
}

func TestApplyPaymentRejectsOverpayment(t *testing.T) {
	ledger, patient := newTestLedger(t)
	ctx := context.Background()

	invoice := createTestInvoice(t, ledger, patient.ID, 1000)

	if _, err := ledger.ApplyPayment(ctx, invoice.ID, 1001, models.PaymentModeCash, ""); err == nil {
		t.Fatal("overpayment accepted; want ValidationError")
	}
	if _, err := ledger.ApplyPayment(ctx, invoice.ID, 0, models.PaymentModeCash, ""); err == nil {
		t.Fatal("zero payment accepted; want ValidationError")
	}

	got := reloadInvoice(t, ledger.db, invoice.ID)
	if got.Paid != 0 || got.Balance != 1000 {
		t.Errorf("rejected payment mutated invoice: Paid/Balance = %v/%v", got.Paid, got.Balance)
	}
}

func TestApplyRefund(t *testing.T) {
	ledger, patient := newTestLedger(t)
	ctx := context.Background()

	invoice := createTestInvoice(t, ledger, patient.ID, 1000)
	payment, err := ledger.ApplyPayment(ctx, invoice.ID, 1000, models.PaymentModeCash, "")
	if err != nil {
		t.Fatalf("ApplyPayment: %v", err)
	}

	if err := ledger.ApplyRefund(ctx, payment.ID, 300); err != nil {
		t.Fatalf("ApplyRefund: %v", err)
	}

	got := reloadInvoice(t, ledger.db, invoice.ID)
	if got.Paid != 700 || got.Balance != 300 {
		t.Errorf("Paid/Balance = %v/%v; want 700/300", got.Paid, got.Balance)
	}
	if got.Status != models.InvoiceStatusPartial {
		t.Errorf("Status = %v; want partial after refund demotion", got.Status)
	}

	var refunded models.Payment
	if err := ledger.db.First(&refunded, payment.ID).Error; err != nil {
		t.Fatalf("reload payment: %v", err)
	}
	if refunded.GatewayStatus != models.PaymentStatusRefunded {
		t.Errorf("payment status = %v; want refunded", refunded.GatewayStatus)
	}
	if refunded.RefundAmount != 300 {
		t.Errorf("RefundAmount = %v; want 300", refunded.RefundAmount)
	}
}

func TestApplyRefundBounds(t *testing.T) {
	ledger, patient := newTestLedger(t)
	ctx := context.Background()

	invoice := createTestInvoice(t, ledger, patient.ID, 1000)
	payment, err := ledger.ApplyPayment(ctx, invoice.ID, 600, models.PaymentModeCard, "")
	if err != nil {
		t.Fatalf("ApplyPayment: %v", err)
	}

	err = ledger.ApplyRefund(ctx, payment.ID, 601)
	var stateErr *InvalidStateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("ApplyRefund over bound error = %v; want InvalidStateError", err)
	}

	got := reloadInvoice(t, ledger.db, invoice.ID)
	if got.Paid != 600 || got.Balance != 400 {
		t.Errorf("failed refund mutated invoice: Paid/Balance = %v/%v", got.Paid, got.Balance)
	}

	// a refunded payment cannot be refunded again
	if err := ledger.ApplyRefund(ctx, payment.ID, 600); err != nil {
		t.Fatalf("ApplyRefund: %v", err)
	}
	if err := ledger.ApplyRefund(ctx, payment.ID, 1); !errors.As(err, &stateErr) {
		t.Errorf("second refund error = %v; want InvalidStateError", err)
	}
}

func TestRecomputeBalanceNeverDemotesBelowPartial(t *testing.T) {
	ledger, patient := newTestLedger(t)
	ctx := context.Background()

	invoice := createTestInvoice(t, ledger, patient.ID, 500)
	payment, err := ledger.ApplyPayment(ctx, invoice.ID, 500, models.PaymentModeCash, "")
	if err != nil {
		t.Fatalf("ApplyPayment: %v", err)
	}
	if got := reloadInvoice(t, ledger.db, invoice.ID); got.Status != models.InvoiceStatusPaid {
		t.Fatalf("Status = %v; want paid", got.Status)
	}

	// full reversal: paid drops to zero but the invoice stays partial
	if err := ledger.ApplyRefund(ctx, payment.ID, 500); err != nil {
		t.Fatalf("ApplyRefund: %v", err)
	}
	got := reloadInvoice(t, ledger.db, invoice.ID)
	if got.Paid != 0 || got.Balance != 500 {
		t.Errorf("Paid/Balance = %v/%v; want 0/500", got.Paid, got.Balance)
	}
	if got.Status != models.InvoiceStatusPartial {
		t.Errorf("Status = %v; want partial", got.Status)
	}
}
