package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"arogya_erp_echo/internal/models"
	"arogya_erp_echo/internal/services"
)

// PatientHandler manages the minimal patient surface the billing core
// needs: identity, contact prefill and referral linkage. Full registration
// lives in the wider system.
type PatientHandler struct {
	db *gorm.DB
}

func NewPatientHandler(db *gorm.DB) *PatientHandler {
	return &PatientHandler{db: db}
}

func (h *PatientHandler) CreatePatient(c echo.Context) error {
	var req CreatePatientRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Name == "" {
		return &services.ValidationError{Msg: "patient name is required"}
	}

	if req.ReferralSourceID != nil {
		var src models.ReferralSource
		if err := h.db.WithContext(c.Request().Context()).First(&src, *req.ReferralSourceID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &services.NotFoundError{Resource: "referral source", ID: *req.ReferralSourceID}
			}
			return err
		}
	}

	patient := models.Patient{
		MRN:              req.MRN,
		Name:             req.Name,
		Phone:            req.Phone,
		Email:            req.Email,
		ReferralSourceID: req.ReferralSourceID,
	}
	if err := h.db.WithContext(c.Request().Context()).Create(&patient).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return &services.ValidationError{Msg: "a patient with this MRN already exists"}
		}
		return err
	}
	return c.JSON(http.StatusCreated, patient)
}

func (h *PatientHandler) GetPatient(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}

	var patient models.Patient
	err = h.db.WithContext(c.Request().Context()).Preload("ReferralSource").First(&patient, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &services.NotFoundError{Resource: "patient", ID: id}
		}
		return err
	}
	return c.JSON(http.StatusOK, patient)
}
