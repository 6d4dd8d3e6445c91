package models

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// TierBand is one band of a tiered commission policy. A band matches an
// invoice amount when amount >= Min and (Max is null or amount < Max).
type TierBand struct {
	Min   float64  `json:"min"`
	Max   *float64 `json:"max"`
	Value float64  `json:"value"`
}

// ReferralSource is a doctor, clinic or agent that refers patients. Its
// commission policy is read-only input to the commission engine; the policy
// in force is copied onto the Commission row at trigger time.
type ReferralSource struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	Name  string `gorm:"type:varchar(255)" json:"name"`
	Phone string `gorm:"type:varchar(50)" json:"phone"`
	Email string `gorm:"type:varchar(255)" json:"email"`

	CommissionType  CommissionType  `gorm:"type:varchar(20)" json:"commission_type"`
	CommissionValue float64         `gorm:"type:decimal(15,2)" json:"commission_value"`
	TieredRates     json.RawMessage `gorm:"type:jsonb" json:"tiered_rates,omitempty"`

	IsActive bool `gorm:"default:true" json:"is_active"`
}

// Bands decodes the tiered rate bands. Missing or empty tiered_rates
// decodes to no bands, which the engine resolves to a zero commission.
func (r ReferralSource) Bands() ([]TierBand, error) {
	if len(r.TieredRates) == 0 {
		return nil, nil
	}
	var bands []TierBand
	if err := json.Unmarshal(r.TieredRates, &bands); err != nil {
		return nil, err
	}
	return bands, nil
}
