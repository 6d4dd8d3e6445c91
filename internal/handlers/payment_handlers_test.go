package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	appMiddleware "arogya_erp_echo/internal/middleware"
	"arogya_erp_echo/internal/models"
	"arogya_erp_echo/internal/services"
)

const testWebhookSig = "webhook-sig-ok"

// stubGateway fakes the payment processor for handler tests. Webhook
// signature checks pass only for the literal test token.
type stubGateway struct {
	enabled  bool
	orderSeq int
}

func (g *stubGateway) Enabled() bool    { return g.enabled }
func (g *stubGateway) KeyID() string    { return "rzp_test_key" }
func (g *stubGateway) Currency() string { return "INR" }

func (g *stubGateway) CreateOrder(amount float64, receipt string, notes map[string]interface{}) (*services.GatewayOrder, error) {
	g.orderSeq++
	return &services.GatewayOrder{
		ID:          fmt.Sprintf("order_%03d", g.orderSeq),
		Amount:      amount,
		AmountMinor: services.MinorUnits(amount),
		Currency:    "INR",
		Receipt:     receipt,
	}, nil
}

func (g *stubGateway) FetchPayment(paymentID string) (*services.GatewayPayment, error) {
	return &services.GatewayPayment{ID: paymentID, Status: "captured"}, nil
}

func (g *stubGateway) OrderPayments(orderID string) ([]services.GatewayPayment, error) {
	return nil, nil
}

func (g *stubGateway) CreateRefund(paymentID string, amount float64) (*services.GatewayRefund, error) {
	return &services.GatewayRefund{ID: "rfnd_1", PaymentID: paymentID, Amount: amount, Status: "processed"}, nil
}

func (g *stubGateway) VerifyCheckoutSignature(orderID, paymentID, signature string) bool {
	return signature == "checkout-sig-ok"
}

func (g *stubGateway) VerifyWebhookSignature(rawBody []byte, signature string) bool {
	return signature == testWebhookSig
}

type testEnv struct {
	e       *echo.Echo
	db      *gorm.DB
	ledger  *services.InvoiceLedger
	recon   *services.ReconciliationService
	gateway *stubGateway
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap test db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := services.AutoMigrate(db); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}

	gateway := &stubGateway{enabled: true}
	ledger := services.NewInvoiceLedger(db, services.NewCommissionEngine(nil))
	recon := services.NewReconciliationService(db, ledger, gateway, nil)

	e := echo.New()
	e.HTTPErrorHandler = appMiddleware.CustomErrorHandler

	h := NewPaymentHandler(recon, gateway)
	e.GET("/payments/config", h.Config)
	e.POST("/payments/create-order", h.CreateOrder)
	e.POST("/payments/verify", h.Verify)
	e.POST("/payments/webhook", h.Webhook)
	e.POST("/payments/:id/refund", h.Refund)

	return &testEnv{e: e, db: db, ledger: ledger, recon: recon, gateway: gateway}
}

func (env *testEnv) request(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) seedInvoice(t *testing.T, total float64) *models.Invoice {
	t.Helper()
	patient := models.Patient{MRN: "MRN-" + t.Name(), Name: "Asha Rao", Email: "asha@example.com"}
	if err := env.db.Create(&patient).Error; err != nil {
		t.Fatalf("create patient: %v", err)
	}
	invoice, err := env.ledger.CreateInvoice(context.Background(), services.CreateInvoiceInput{
		PatientID: patient.ID,
		Items:     []models.InvoiceItem{{Description: "Consultation", Amount: total}},
	})
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	return invoice
}

func TestPaymentConfig(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodGet, "/payments/config", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200", rec.Code)
	}

	var resp PaymentConfigResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Enabled || resp.PublicKey != "rzp_test_key" || resp.Currency != "INR" {
		t.Errorf("unexpected config: %+v", resp)
	}
}

func TestCreateOrderEndpoint(t *testing.T) {
	env := newTestEnv(t)
	invoice := env.seedInvoice(t, 1000)

	rec := env.request(t, http.MethodPost, "/payments/create-order",
		CreateOrderRequest{InvoiceID: invoice.ID, Amount: 400}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200 (body %s)", rec.Code, rec.Body.String())
	}

	var session services.CheckoutSession
	if err := json.Unmarshal(rec.Body.Bytes(), &session); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if session.OrderID == "" || session.Amount != 40000 {
		t.Errorf("unexpected session: %+v", session)
	}

	t.Run("amount exceeds balance", func(t *testing.T) {
		rec := env.request(t, http.MethodPost, "/payments/create-order",
			CreateOrderRequest{InvoiceID: invoice.ID, Amount: 5000}, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d; want 400", rec.Code)
		}
	})

	t.Run("unknown invoice", func(t *testing.T) {
		rec := env.request(t, http.MethodPost, "/payments/create-order",
			CreateOrderRequest{InvoiceID: 9999, Amount: 100}, nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d; want 404", rec.Code)
		}
	})
}

func TestVerifyEndpoint(t *testing.T) {
	env := newTestEnv(t)
	invoice := env.seedInvoice(t, 1000)

	session, err := env.recon.CreateOrder(context.Background(), invoice.ID, 1000)
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	rec := env.request(t, http.MethodPost, "/payments/verify", VerifyPaymentRequest{
		PaymentID:         session.PaymentID,
		RazorpayOrderID:   session.OrderID,
		RazorpayPaymentID: "pay_V1",
		RazorpaySignature: "checkout-sig-ok",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200 (body %s)", rec.Code, rec.Body.String())
	}

	var resp VerifyPaymentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.Payment.Status != models.PaymentStatusCaptured {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestVerifyEndpointTamperedSignature(t *testing.T) {
	env := newTestEnv(t)
	invoice := env.seedInvoice(t, 1000)

	session, err := env.recon.CreateOrder(context.Background(), invoice.ID, 1000)
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	rec := env.request(t, http.MethodPost, "/payments/verify", VerifyPaymentRequest{
		PaymentID:         session.PaymentID,
		RazorpayOrderID:   session.OrderID,
		RazorpayPaymentID: "pay_V1",
		RazorpaySignature: "tampered",
	}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d; want 400", rec.Code)
	}

	var payment models.Payment
	if err := env.db.First(&payment, session.PaymentID).Error; err != nil {
		t.Fatalf("load payment: %v", err)
	}
	if payment.GatewayStatus != models.PaymentStatusFailed {
		t.Errorf("payment status = %v; want failed", payment.GatewayStatus)
	}
}

func TestWebhookEndpoint(t *testing.T) {
	env := newTestEnv(t)
	invoice := env.seedInvoice(t, 1000)

	session, err := env.recon.CreateOrder(context.Background(), invoice.ID, 1000)
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	body := map[string]interface{}{
		"event": "payment.captured",
		"payload": map[string]interface{}{
			"payment": map[string]interface{}{
				"entity": map[string]interface{}{
					"id":       "pay_W1",
					"order_id": session.OrderID,
					"amount":   100000,
					"status":   "captured",
					"method":   "upi",
				},
			},
		},
	}

	rec := env.request(t, http.MethodPost, "/payments/webhook", body,
		map[string]string{"X-Razorpay-Signature": testWebhookSig})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200 (body %s)", rec.Code, rec.Body.String())
	}

	var ack map[string]bool
	if err := json.Unmarshal(rec.Body.Bytes(), &ack); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !ack["received"] {
		t.Errorf("response = %s; want received true", rec.Body.String())
	}

	var got models.Invoice
	if err := env.db.First(&got, invoice.ID).Error; err != nil {
		t.Fatalf("reload invoice: %v", err)
	}
	if got.Status != models.InvoiceStatusPaid {
		t.Errorf("invoice status = %v; want paid", got.Status)
	}
}

func TestWebhookEndpointBadSignature(t *testing.T) {
	env := newTestEnv(t)
	invoice := env.seedInvoice(t, 1000)

	session, err := env.recon.CreateOrder(context.Background(), invoice.ID, 1000)
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	body := map[string]interface{}{
		"event": "payment.captured",
		"payload": map[string]interface{}{
			"payment": map[string]interface{}{
				"entity": map[string]interface{}{
					"id":       "pay_W1",
					"order_id": session.OrderID,
					"amount":   100000,
					"status":   "captured",
				},
			},
		},
	}

	rec := env.request(t, http.MethodPost, "/payments/webhook", body,
		map[string]string{"X-Razorpay-Signature": "forged"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d; want 400", rec.Code)
	}

	var payment models.Payment
	if err := env.db.First(&payment, session.PaymentID).Error; err != nil {
		t.Fatalf("load payment: %v", err)
	}
	if payment.GatewayStatus != models.PaymentStatusInitiated {
		t.Errorf("payment status = %v; rejected webhook must not mutate", payment.GatewayStatus)
	}
}

func TestWebhookEndpointUnknownOrderStillAcked(t *testing.T) {
	env := newTestEnv(t)

	body := map[string]interface{}{
		"event": "payment.captured",
		"payload": map[string]interface{}{
			"payment": map[string]interface{}{
				"entity": map[string]interface{}{
					"id":       "pay_W1",
					"order_id": "order_unknown",
					"amount":   100000,
					"status":   "captured",
				},
			},
		},
	}

	rec := env.request(t, http.MethodPost, "/payments/webhook", body,
		map[string]string{"X-Razorpay-Signature": testWebhookSig})
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d; want 200 for unknown order", rec.Code)
	}
}

func TestRefundEndpoint(t *testing.T) {
	env := newTestEnv(t)
	invoice := env.seedInvoice(t, 1000)

	session, err := env.recon.CreateOrder(context.Background(), invoice.ID, 1000)
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if _, err := env.recon.VerifyAndCapture(context.Background(),
		session.PaymentID, session.OrderID, "pay_F1", "checkout-sig-ok"); err != nil {
		t.Fatalf("VerifyAndCapture: %v", err)
	}

	rec := env.request(t, http.MethodPost, fmt.Sprintf("/payments/%d/refund", session.PaymentID),
		RefundRequest{Amount: 300}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200 (body %s)", rec.Code, rec.Body.String())
	}

	var resp RefundResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.Refund.Amount != 300 || resp.Refund.Status != models.PaymentStatusRefunded {
		t.Errorf("unexpected response: %+v", resp)
	}

	t.Run("second refund rejected", func(t *testing.T) {
		rec := env.request(t, http.MethodPost, fmt.Sprintf("/payments/%d/refund", session.PaymentID),
			RefundRequest{Amount: 100}, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d; want 400", rec.Code)
		}
	})
}
