package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"arogya_erp_echo/internal/models"
)

// CommissionEngine computes referral commissions and creates the commission
// row when an invoice first reaches settlement. The computation is a pure
// function of (invoice total, referral policy); the trigger is idempotent.
type CommissionEngine struct {
	cache *RedisCache // optional; policy lookups fall back to the DB
}

func NewCommissionEngine(cache *RedisCache) *CommissionEngine {
	return &CommissionEngine{cache: cache}
}

// ComputeCommission resolves the commission amount for an invoice total
// under the given policy. Unknown commission types and unmatched tier
// bands mean "no commission policy configured" and resolve to 0.
func ComputeCommission(invoiceAmount float64, src *models.ReferralSource) float64 {
	switch src.CommissionType {
	case models.CommissionTypePercentage:
		return invoiceAmount * src.CommissionValue / 100
	case models.CommissionTypeFixed:
		return src.CommissionValue
	case models.CommissionTypeTiered:
		bands, err := src.Bands()
		if err != nil {
			return 0
		}
		for _, band := range bands {
			// lower bound inclusive, upper bound exclusive
			if invoiceAmount >= band.Min && (band.Max == nil || invoiceAmount < *band.Max) {
				return invoiceAmount * band.Value / 100
			}
		}
		return 0
	default:
		return 0
	}
}

// ValidateTierBands rejects malformed band lists when a referral source is
// configured, so lookups never have to disambiguate overlapping bands.
func ValidateTierBands(bands []models.TierBand) error {
	if len(bands) == 0 {
		return &ValidationError{Msg: "tiered commission requires at least one band"}
	}
	for i, band := range bands {
		if band.Min < 0 || band.Value < 0 {
			return &ValidationError{Msg: "band min and value must be non-negative"}
		}
		if band.Max != nil && *band.Max <= band.Min {
			return &ValidationError{Msg: "band max must be greater than min"}
		}
		if i == 0 {
			continue
		}
		prev := bands[i-1]
		if prev.Max == nil {
			return &ValidationError{Msg: "only the last band may be open-ended"}
		}
		if band.Min < *prev.Max {
			return &ValidationError{Msg: "bands must be sorted and non-overlapping"}
		}
	}
	return nil
}

// TriggerOnSettlement creates the commission row for a just-settled
// invoice. Runs inside the settling transaction. Safe to invoke any number
// of times: an existing row, a missing referral source, an inactive source
// or a zero amount all make it a no-op.
func (e *CommissionEngine) TriggerOnSettlement(tx *gorm.DB, invoice *models.Invoice) error {
	if !invoice.Settled() {
		return nil
	}

	var existing models.Commission
	err := tx.Where("invoice_id = ?", invoice.ID).First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	var patient models.Patient
	if err := tx.First(&patient, invoice.PatientID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn().Uint("invoice_id", invoice.ID).Uint("patient_id", invoice.PatientID).
				Msg("settled invoice references unknown patient, skipping commission")
			return nil
		}
		return err
	}
	if patient.ReferralSourceID == nil {
		return nil
	}

	src, err := e.referralSource(tx, *patient.ReferralSourceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn().Uint("invoice_id", invoice.ID).Uint("referral_source_id", *patient.ReferralSourceID).
				Msg("referral source missing, skipping commission")
			return nil
		}
		return err
	}
	if !src.IsActive {
		return nil
	}

	amount := round2(ComputeCommission(invoice.Total, src))
	if amount <= 0 {
		return nil
	}

	commission := models.Commission{
		InvoiceID:        invoice.ID,
		PatientID:        patient.ID,
		ReferralSourceID: src.ID,
		InvoiceAmount:    invoice.Total,
		CommissionType:   src.CommissionType,
		CommissionAmount: amount,
		Status:           models.CommissionStatusPending,
	}
	if err := tx.Create(&commission).Error; err != nil {
		// unique index on invoice_id: a concurrent settlement won the race
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil
		}
		return err
	}

	log.Info().Uint("invoice_id", invoice.ID).Uint("referral_source_id", src.ID).
		Float64("amount", amount).Msg("commission created")
	return nil
}

// InvalidatePolicy drops the cached policy for a referral source after a
// configuration change.
func (e *CommissionEngine) InvalidatePolicy(id uint) {
	if e.cache == nil {
		return
	}
	_ = e.cache.Delete(context.Background(), policyCacheKey(id))
}

func (e *CommissionEngine) referralSource(tx *gorm.DB, id uint) (*models.ReferralSource, error) {
	fetch := func() (models.ReferralSource, error) {
		var src models.ReferralSource
		err := tx.First(&src, id).Error
		return src, err
	}

	if e.cache == nil {
		src, err := fetch()
		if err != nil {
			return nil, err
		}
		return &src, nil
	}

	src, err := GetOrSet(e.cache, tx.Statement.Context, policyCacheKey(id), 5*time.Minute, fetch)
	if err != nil {
		return nil, err
	}
	return &src, nil
}

func policyCacheKey(id uint) string {
	return fmt.Sprintf("referral_source:%d", id)
}
