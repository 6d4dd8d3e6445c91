package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"os"

	razorpay "github.com/razorpay/razorpay-go"
)

// GatewayOrder is a gateway-side order created for a checkout attempt.
type GatewayOrder struct {
	ID          string
	Amount      float64
	AmountMinor int64
	Currency    string
	Receipt     string
}

// GatewayPayment is the gateway's view of a payment, normalized to major
// currency units.
type GatewayPayment struct {
	ID      string
	OrderID string
	Status  string
	Method  string
	Amount  float64
	Raw     json.RawMessage
}

// GatewayRefund is the gateway's view of a refund, in major units.
type GatewayRefund struct {
	ID        string
	PaymentID string
	Amount    float64
	Status    string
	Raw       json.RawMessage
}

// Gateway is the payment processor boundary: pure protocol translation, no
// business logic, no retries. The reconciliation service and the payment
// handlers depend on this interface; tests substitute a fake.
type Gateway interface {
	Enabled() bool
	KeyID() string
	Currency() string
	CreateOrder(amount float64, receipt string, notes map[string]interface{}) (*GatewayOrder, error)
	FetchPayment(paymentID string) (*GatewayPayment, error)
	OrderPayments(orderID string) ([]GatewayPayment, error)
	CreateRefund(paymentID string, amount float64) (*GatewayRefund, error)
	VerifyCheckoutSignature(orderID, paymentID, signature string) bool
	VerifyWebhookSignature(rawBody []byte, signature string) bool
}

// RazorpayService wraps the Razorpay HTTP API. Amounts cross this boundary
// in paise; everything above it works in rupees.
type RazorpayService struct {
	client        *razorpay.Client
	keyID         string
	keySecret     string
	webhookSecret string
	currency      string
	enabled       bool
}

func NewRazorpayService() *RazorpayService {
	keyID := os.Getenv("RAZORPAY_KEY_ID")
	keySecret := os.Getenv("RAZORPAY_KEY_SECRET")

	currency := os.Getenv("BILLING_CURRENCY")
	if currency == "" {
		currency = "INR"
	}

	return &RazorpayService{
		client:        razorpay.NewClient(keyID, keySecret),
		keyID:         keyID,
		keySecret:     keySecret,
		webhookSecret: os.Getenv("RAZORPAY_WEBHOOK_SECRET"),
		currency:      currency,
		enabled:       os.Getenv("RAZORPAY_ENABLED") == "true" && keyID != "" && keySecret != "",
	}
}

func (s *RazorpayService) Enabled() bool    { return s.enabled }
func (s *RazorpayService) KeyID() string    { return s.keyID }
func (s *RazorpayService) Currency() string { return s.currency }

// MinorUnits converts a major-unit amount to the gateway's minor units.
func MinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// MajorUnits converts the gateway's minor units back to major units.
func MajorUnits(minor int64) float64 {
	return float64(minor) / 100
}

// CreateOrder creates a gateway order for the given major-unit amount.
func (s *RazorpayService) CreateOrder(amount float64, receipt string, notes map[string]interface{}) (*GatewayOrder, error) {
	data := map[string]interface{}{
		"amount":          MinorUnits(amount),
		"currency":        s.currency,
		"receipt":         receipt,
		"payment_capture": 1,
	}
	if len(notes) > 0 {
		data["notes"] = notes
	}

	body, err := s.client.Order.Create(data, nil)
	if err != nil {
		return nil, &GatewayError{Op: "create order", Err: err}
	}

	id, _ := body["id"].(string)
	if id == "" {
		return nil, &GatewayError{Op: "create order", Err: fmt.Errorf("order id missing in response")}
	}

	minor := asInt64(body["amount"])
	return &GatewayOrder{
		ID:          id,
		Amount:      MajorUnits(minor),
		AmountMinor: minor,
		Currency:    s.currency,
		Receipt:     receipt,
	}, nil
}

// FetchPayment fetches the gateway's record of a payment.
func (s *RazorpayService) FetchPayment(paymentID string) (*GatewayPayment, error) {
	body, err := s.client.Payment.Fetch(paymentID, nil, nil)
	if err != nil {
		return nil, &GatewayError{Op: "fetch payment", Err: err}
	}
	return paymentFromBody(body), nil
}

// OrderPayments lists the gateway payments made against an order.
func (s *RazorpayService) OrderPayments(orderID string) ([]GatewayPayment, error) {
	body, err := s.client.Order.Payments(orderID, nil, nil)
	if err != nil {
		return nil, &GatewayError{Op: "list order payments", Err: err}
	}

	items, _ := body["items"].([]interface{})
	payments := make([]GatewayPayment, 0, len(items))
	for _, it := range items {
		if m, ok := it.(map[string]interface{}); ok {
			payments = append(payments, *paymentFromBody(m))
		}
	}
	return payments, nil
}

// CreateRefund initiates a refund for the given major-unit amount.
func (s *RazorpayService) CreateRefund(paymentID string, amount float64) (*GatewayRefund, error) {
	body, err := s.client.Payment.Refund(paymentID, int(MinorUnits(amount)), map[string]interface{}{}, nil)
	if err != nil {
		return nil, &GatewayError{Op: "create refund", Err: err}
	}

	raw, _ := json.Marshal(body)
	id, _ := body["id"].(string)
	status, _ := body["status"].(string)
	return &GatewayRefund{
		ID:        id,
		PaymentID: paymentID,
		Amount:    MajorUnits(asInt64(body["amount"])),
		Status:    status,
		Raw:       raw,
	}, nil
}

// VerifyCheckoutSignature checks the signature returned by the client after
// checkout: HMAC-SHA256 over "orderId|paymentId" keyed by the key secret.
func (s *RazorpayService) VerifyCheckoutSignature(orderID, paymentID, signature string) bool {
	return verifyHMAC([]byte(orderID+"|"+paymentID), signature, s.keySecret)
}

// VerifyWebhookSignature checks a webhook signature over the raw,
// unparsed body. Must run before any JSON parsing so a reserialized body
// cannot bypass the check.
func (s *RazorpayService) VerifyWebhookSignature(rawBody []byte, signature string) bool {
	return verifyHMAC(rawBody, signature, s.webhookSecret)
}

func verifyHMAC(message []byte, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(message)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func paymentFromBody(body map[string]interface{}) *GatewayPayment {
	raw, _ := json.Marshal(body)
	id, _ := body["id"].(string)
	orderID, _ := body["order_id"].(string)
	status, _ := body["status"].(string)
	method, _ := body["method"].(string)
	return &GatewayPayment{
		ID:      id,
		OrderID: orderID,
		Status:  status,
		Method:  method,
		Amount:  MajorUnits(asInt64(body["amount"])),
		Raw:     raw,
	}
}

// asInt64 tolerates the float64/json.Number/int shapes the gateway client
// returns for numeric fields.
func asInt64(v interface{}) int64 {
	switch n := v.(type) {
	case float64:
		return int64(math.Round(n))
	case int64:
		return n
	case int:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	default:
		return 0
	}
}
