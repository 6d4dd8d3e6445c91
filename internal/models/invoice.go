package models

import (
	"encoding/json"
	"time"
)

// InvoiceStatus represents the lifecycle state of an invoice
type InvoiceStatus string

const (
	InvoiceStatusDraft   InvoiceStatus = "draft"
	InvoiceStatusFinal   InvoiceStatus = "final"
	InvoiceStatusPartial InvoiceStatus = "partial"
	InvoiceStatusPaid    InvoiceStatus = "paid"
)

// InvoiceItem is a single billable line on an invoice. The stored items
// column keeps the full JSON as submitted; only Amount participates in
// the total computation.
type InvoiceItem struct {
	Code        string  `json:"code,omitempty"`
	Description string  `json:"description"`
	Quantity    int     `json:"quantity,omitempty"`
	Amount      float64 `json:"amount"`
}

// Invoice is a billable record for a patient encounter. Totals are computed
// once at creation; Paid and Balance are maintained exclusively by the
// invoice ledger. Invoices are financial records and are never deleted.
type Invoice struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Number      string          `gorm:"type:varchar(50);uniqueIndex" json:"number"`
	PatientID   uint            `gorm:"index" json:"patient_id"`
	EncounterID *uint           `gorm:"index" json:"encounter_id,omitempty"`
	Items       json.RawMessage `gorm:"type:jsonb" json:"items"`
	Subtotal    float64         `gorm:"type:decimal(15,2)" json:"subtotal"`
	Discount    float64         `gorm:"type:decimal(15,2)" json:"discount"`
	Tax         float64         `gorm:"type:decimal(15,2)" json:"tax"`
	Total       float64         `gorm:"type:decimal(15,2)" json:"total"`
	Paid        float64         `gorm:"type:decimal(15,2)" json:"paid"`
	Balance     float64         `gorm:"type:decimal(15,2)" json:"balance"`
	Status      InvoiceStatus   `gorm:"type:varchar(20);default:'draft'" json:"status"`

	// Relationships
	Patient  Patient   `gorm:"foreignKey:PatientID" json:"patient,omitempty"`
	Payments []Payment `gorm:"foreignKey:InvoiceID" json:"payments,omitempty"`
}

// Settled reports whether the invoice has no outstanding balance.
func (i Invoice) Settled() bool {
	return i.Balance <= 0 && i.Total > 0
}
