package services

import (
	"encoding/json"
	"testing"

	"arogya_erp_echo/internal/models"
)

func f64(v float64) *float64 { return &v }

func tieredSource(t *testing.T, bands []models.TierBand) *models.ReferralSource {
	t.Helper()
	raw, err := json.Marshal(bands)
	if err != nil {
		t.Fatalf("marshal bands: %v", err)
	}
	return &models.ReferralSource{
		CommissionType: models.CommissionTypeTiered,
		TieredRates:    raw,
		IsActive:       true,
	}
}

func TestComputeCommission(t *testing.T) {
	tiered := tieredSource(t, []models.TierBand{
		{Min: 0, Max: f64(1000), Value: 2},
		{Min: 1000, Max: f64(5000), Value: 5},
		{Min: 5000, Max: nil, Value: 8},
	})

	tests := []struct {
		name     string
		amount   float64
		src      *models.ReferralSource
		expected float64
	}{
		{
			name:     "percentage",
			amount:   2000,
			src:      &models.ReferralSource{CommissionType: models.CommissionTypePercentage, CommissionValue: 10},
			expected: 200,
		},
		{
			name:     "fixed ignores invoice amount",
			amount:   99999,
			src:      &models.ReferralSource{CommissionType: models.CommissionTypeFixed, CommissionValue: 250},
			expected: 250,
		},
		{
			name:     "tiered first band",
			amount:   999.99,
			src:      tiered,
			expected: 999.99 * 2 / 100,
		},
		{
			name:     "tiered exact lower bound falls in second band",
			amount:   1000,
			src:      tiered,
			expected: 50,
		},
		{
			name:     "tiered open-ended band",
			amount:   20000,
			src:      tiered,
			expected: 1600,
		},
		{
			name:     "tiered below all bands",
			amount:   500,
			src:      tieredSource(t, []models.TierBand{{Min: 1000, Max: nil, Value: 5}}),
			expected: 0,
		},
		{
			name:     "tiered with malformed bands",
			amount:   1000,
			src:      &models.ReferralSource{CommissionType: models.CommissionTypeTiered, TieredRates: json.RawMessage(`{"not":"bands"}`)},
			expected: 0,
		},
		{
			name:     "unknown commission type",
			amount:   1000,
			src:      &models.ReferralSource{CommissionType: "revenue_share", CommissionValue: 10},
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ComputeCommission(tt.amount, tt.src)
			if result != tt.expected {
				t.Errorf("ComputeCommission(%v) = %v; want %v", tt.amount, result, tt.expected)
			}
		})
	}
}

func TestValidateTierBands(t *testing.T) {
	tests := []struct {
		name    string
		bands   []models.TierBand
		wantErr bool
	}{
		{
			name: "valid contiguous bands",
			bands: []models.TierBand{
				{Min: 0, Max: f64(1000), Value: 2},
				{Min: 1000, Max: f64(5000), Value: 5},
				{Min: 5000, Max: nil, Value: 8},
			},
		},
		{
			name: "valid bands with a gap",
			bands: []models.TierBand{
				{Min: 0, Max: f64(1000), Value: 2},
				{Min: 2000, Max: nil, Value: 5},
			},
		},
		{
			name:    "empty",
			bands:   nil,
			wantErr: true,
		},
		{
			name:    "negative min",
			bands:   []models.TierBand{{Min: -1, Max: nil, Value: 2}},
			wantErr: true,
		},
		{
			name:    "max not above min",
			bands:   []models.TierBand{{Min: 100, Max: f64(100), Value: 2}},
			wantErr: true,
		},
		{
			name: "overlapping bands",
			bands: []models.TierBand{
				{Min: 0, Max: f64(1000), Value: 2},
				{Min: 500, Max: nil, Value: 5},
			},
			wantErr: true,
		},
		{
			name: "open-ended band not last",
			bands: []models.TierBand{
				{Min: 0, Max: nil, Value: 2},
				{Min: 1000, Max: nil, Value: 5},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTierBands(tt.bands)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTierBands() error = %v; wantErr %v", err, tt.wantErr)
			}
		})
	}
}
