package handlers

import (
	"arogya_erp_echo/internal/models"
)

type CreateInvoiceRequest struct {
	PatientID   uint                 `json:"patient_id"`
	EncounterID *uint                `json:"encounter_id,omitempty"`
	Items       []models.InvoiceItem `json:"items"`
	Discount    float64              `json:"discount"`
	Tax         float64              `json:"tax"`
	Final       bool                 `json:"final"`
}

type RecordPaymentRequest struct {
	Amount         float64 `json:"amount"`
	Mode           string  `json:"mode"`
	TransactionRef string  `json:"transaction_ref"`
}

type CreateOrderRequest struct {
	InvoiceID uint    `json:"invoice_id"`
	Amount    float64 `json:"amount"`
}

// VerifyPaymentRequest carries the checkout result exactly as the gateway
// hands it to the client.
type VerifyPaymentRequest struct {
	RazorpayOrderID   string `json:"razorpay_order_id"`
	RazorpayPaymentID string `json:"razorpay_payment_id"`
	RazorpaySignature string `json:"razorpay_signature"`
	PaymentID         uint   `json:"payment_id"`
}

type RefundRequest struct {
	Amount float64 `json:"amount"`
	Reason string  `json:"reason"`
}

type CreatePatientRequest struct {
	MRN              string `json:"mrn"`
	Name             string `json:"name"`
	Phone            string `json:"phone"`
	Email            string `json:"email"`
	ReferralSourceID *uint  `json:"referral_source_id,omitempty"`
}

type ReferralSourceRequest struct {
	Name            string            `json:"name"`
	Phone           string            `json:"phone"`
	Email           string            `json:"email"`
	CommissionType  string            `json:"commission_type"`
	CommissionValue float64           `json:"commission_value"`
	TieredRates     []models.TierBand `json:"tiered_rates,omitempty"`
	IsActive        *bool             `json:"is_active,omitempty"`
}

type PaymentConfigResponse struct {
	Enabled   bool   `json:"enabled"`
	PublicKey string `json:"public_key"`
	Currency  string `json:"currency"`
}

type PaymentSummary struct {
	ID             uint                 `json:"id"`
	Amount         float64              `json:"amount"`
	TransactionRef string               `json:"transaction_ref"`
	Status         models.PaymentStatus `json:"status"`
}

type VerifyPaymentResponse struct {
	Success bool           `json:"success"`
	Payment PaymentSummary `json:"payment"`
}

type RefundSummary struct {
	ID     string               `json:"id"`
	Amount float64              `json:"amount"`
	Status models.PaymentStatus `json:"status"`
}

type RefundResponse struct {
	Success bool          `json:"success"`
	Refund  RefundSummary `json:"refund"`
}
