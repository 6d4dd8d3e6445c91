package models

import (
	"time"

	"gorm.io/gorm"
)

// Patient is a collaborator record; the billing core only reads the
// identity, contact prefill and referral linkage.
type Patient struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	MRN   string `gorm:"type:varchar(50);uniqueIndex" json:"mrn"`
	Name  string `gorm:"type:varchar(255)" json:"name"`
	Phone string `gorm:"type:varchar(50)" json:"phone"`
	Email string `gorm:"type:varchar(255)" json:"email"`

	ReferralSourceID *uint `gorm:"index" json:"referral_source_id,omitempty"`

	// Relationships
	ReferralSource *ReferralSource `gorm:"foreignKey:ReferralSourceID" json:"referral_source,omitempty"`
	Invoices       []Invoice       `gorm:"foreignKey:PatientID" json:"invoices,omitempty"`
}
