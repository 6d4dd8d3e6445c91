package models

import (
	"encoding/json"
	"time"
)

type PaymentGateway string

const (
	PaymentGatewayRazorpay PaymentGateway = "razorpay"
	PaymentGatewayManual   PaymentGateway = "manual"
)

// PaymentStatus is the gateway-side state of a payment attempt.
// Legal transitions: initiated -> captured, initiated -> failed,
// captured -> refund_pending -> refunded, captured -> refunded (webhook).
// refund_pending marks a caller-initiated refund claimed but not yet
// acknowledged by the gateway; a payment in that state holds its captured
// amount. The reconciliation service is the only writer.
type PaymentStatus string

const (
	PaymentStatusInitiated     PaymentStatus = "initiated"
	PaymentStatusCaptured      PaymentStatus = "captured"
	PaymentStatusFailed        PaymentStatus = "failed"
	PaymentStatusRefundPending PaymentStatus = "refund_pending"
	PaymentStatusRefunded      PaymentStatus = "refunded"
)

// Common offline payment modes. Online payments carry the gateway name.
const (
	PaymentModeCash = "cash"
	PaymentModeCard = "card"
	PaymentModeUPI  = "upi"
)

// Payment is one payment attempt or settlement against an invoice.
// Amounts are in major currency units; minor-unit conversion happens only
// at the gateway boundary.
type Payment struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	InvoiceID uint    `gorm:"index" json:"invoice_id"`
	Amount    float64 `gorm:"type:decimal(15,2)" json:"amount"`
	Mode      string  `gorm:"type:varchar(50)" json:"mode"`

	GatewayOrderID   string          `gorm:"type:varchar(100);index" json:"gateway_order_id,omitempty"`
	GatewayPaymentID string          `gorm:"type:varchar(100);index" json:"gateway_payment_id,omitempty"`
	GatewaySignature string          `gorm:"type:varchar(255)" json:"-"`
	GatewayStatus    PaymentStatus   `gorm:"type:varchar(20);default:'initiated';index" json:"gateway_status"`
	GatewayResponse  json.RawMessage `gorm:"type:jsonb" json:"-"`

	RefundID     string     `gorm:"type:varchar(100)" json:"refund_id,omitempty"`
	RefundAmount float64    `gorm:"type:decimal(15,2)" json:"refund_amount"`
	RefundedAt   *time.Time `json:"refunded_at,omitempty"`

	TransactionRef string     `gorm:"type:varchar(100)" json:"transaction_ref,omitempty"`
	PaidAt         *time.Time `json:"paid_at,omitempty"`

	// Relationships
	Invoice Invoice `gorm:"foreignKey:InvoiceID" json:"invoice,omitempty"`
}

// NetCaptured returns the captured amount still held after refunds.
func (p Payment) NetCaptured() float64 {
	return p.Amount - p.RefundAmount
}
