package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"arogya_erp_echo/internal/models"
	"arogya_erp_echo/internal/services"
)

type ReferralHandler struct {
	db          *gorm.DB
	commissions *services.CommissionEngine
}

func NewReferralHandler(db *gorm.DB, commissions *services.CommissionEngine) *ReferralHandler {
	return &ReferralHandler{db: db, commissions: commissions}
}

// CreateReferralSource registers a referral source. Tier bands are
// validated here, at configuration time, so commission lookups never see
// overlapping or unsorted bands.
func (h *ReferralHandler) CreateReferralSource(c echo.Context) error {
	src, err := h.bindSource(c)
	if err != nil {
		return err
	}
	if err := h.db.WithContext(c.Request().Context()).Create(src).Error; err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, src)
}

// UpdateReferralSource replaces a referral source's policy and drops the
// cached copy. Commissions already recorded keep the policy copied at
// their trigger time.
func (h *ReferralHandler) UpdateReferralSource(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}

	var existing models.ReferralSource
	err = h.db.WithContext(c.Request().Context()).First(&existing, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &services.NotFoundError{Resource: "referral source", ID: id}
		}
		return err
	}

	src, err := h.bindSource(c)
	if err != nil {
		return err
	}
	src.ID = existing.ID

	if err := h.db.WithContext(c.Request().Context()).Save(src).Error; err != nil {
		return err
	}
	h.commissions.InvalidatePolicy(id)
	return c.JSON(http.StatusOK, src)
}

func (h *ReferralHandler) ListReferralSources(c echo.Context) error {
	var sources []models.ReferralSource
	if err := h.db.WithContext(c.Request().Context()).Order("name").Find(&sources).Error; err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sources)
}

// ListCommissions lists generated commissions with optional filters.
func (h *ReferralHandler) ListCommissions(c echo.Context) error {
	query := h.db.WithContext(c.Request().Context()).Model(&models.Commission{}).
		Preload("ReferralSource").Preload("Invoice")

	if status := c.QueryParam("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if srcStr := c.QueryParam("referral_source_id"); srcStr != "" {
		srcID, err := strconv.ParseUint(srcStr, 10, 32)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid referral_source_id")
		}
		query = query.Where("referral_source_id = ?", uint(srcID))
	}
	if invStr := c.QueryParam("invoice_id"); invStr != "" {
		invID, err := strconv.ParseUint(invStr, 10, 32)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid invoice_id")
		}
		query = query.Where("invoice_id = ?", uint(invID))
	}

	var commissions []models.Commission
	if err := query.Order("id desc").Find(&commissions).Error; err != nil {
		return err
	}
	return c.JSON(http.StatusOK, commissions)
}

func (h *ReferralHandler) bindSource(c echo.Context) (*models.ReferralSource, error) {
	var req ReferralSourceRequest
	if err := c.Bind(&req); err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Name == "" {
		return nil, &services.ValidationError{Msg: "referral source name is required"}
	}

	commissionType := models.CommissionType(req.CommissionType)
	switch commissionType {
	case models.CommissionTypePercentage, models.CommissionTypeFixed, models.CommissionTypeTiered:
	default:
		return nil, &services.ValidationError{Msg: "commission_type must be percentage, fixed or tiered"}
	}
	if req.CommissionValue < 0 {
		return nil, &services.ValidationError{Msg: "commission_value must be non-negative"}
	}

	var tieredRates json.RawMessage
	if commissionType == models.CommissionTypeTiered {
		if err := services.ValidateTierBands(req.TieredRates); err != nil {
			return nil, err
		}
		data, err := json.Marshal(req.TieredRates)
		if err != nil {
			return nil, &services.ValidationError{Msg: "invalid tiered_rates"}
		}
		tieredRates = data
	}

	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	return &models.ReferralSource{
		Name:            req.Name,
		Phone:           req.Phone,
		Email:           req.Email,
		CommissionType:  commissionType,
		CommissionValue: req.CommissionValue,
		TieredRates:     tieredRates,
		IsActive:        isActive,
	}, nil
}
