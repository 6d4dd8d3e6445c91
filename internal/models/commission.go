package models

import (
	"time"
)

type CommissionType string

const (
	CommissionTypePercentage CommissionType = "percentage"
	CommissionTypeFixed      CommissionType = "fixed"
	CommissionTypeTiered     CommissionType = "tiered"
)

type CommissionStatus string

const (
	CommissionStatusPending  CommissionStatus = "pending"
	CommissionStatusApproved CommissionStatus = "approved"
	CommissionStatusPaid     CommissionStatus = "paid"
)

// Commission is the payout owed to a referral source once the referred
// patient's invoice is fully settled. The unique index on InvoiceID backs
// the at-most-one-per-invoice guarantee; approval and payout are a
// downstream workflow.
type Commission struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	InvoiceID        uint `gorm:"uniqueIndex" json:"invoice_id"`
	PatientID        uint `gorm:"index" json:"patient_id"`
	ReferralSourceID uint `gorm:"index" json:"referral_source_id"`

	InvoiceAmount    float64          `gorm:"type:decimal(15,2)" json:"invoice_amount"`
	CommissionType   CommissionType   `gorm:"type:varchar(20)" json:"commission_type"`
	CommissionAmount float64          `gorm:"type:decimal(15,2)" json:"commission_amount"`
	Status           CommissionStatus `gorm:"type:varchar(20);default:'pending'" json:"status"`

	// Relationships
	Invoice        Invoice        `gorm:"foreignKey:InvoiceID" json:"invoice,omitempty"`
	Patient        Patient        `gorm:"foreignKey:PatientID" json:"patient,omitempty"`
	ReferralSource ReferralSource `gorm:"foreignKey:ReferralSourceID" json:"referral_source,omitempty"`
}
