package handlers

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"arogya_erp_echo/internal/models"
	"arogya_erp_echo/internal/services"
)

type InvoiceHandler struct {
	db     *gorm.DB
	ledger *services.InvoiceLedger
}

func NewInvoiceHandler(db *gorm.DB, ledger *services.InvoiceLedger) *InvoiceHandler {
	return &InvoiceHandler{db: db, ledger: ledger}
}

// CreateInvoice creates an invoice with totals computed once at creation.
func (h *InvoiceHandler) CreateInvoice(c echo.Context) error {
	var req CreateInvoiceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	invoice, err := h.ledger.CreateInvoice(c.Request().Context(), services.CreateInvoiceInput{
		PatientID:   req.PatientID,
		EncounterID: req.EncounterID,
		Items:       req.Items,
		Discount:    req.Discount,
		Tax:         req.Tax,
		Final:       req.Final,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, invoice)
}

// GetInvoice returns an invoice with its patient and payment history.
func (h *InvoiceHandler) GetInvoice(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	invoice, err := h.ledger.GetInvoice(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, invoice)
}

// ListInvoices lists invoices with optional patient/status filters and
// pagination.
func (h *InvoiceHandler) ListInvoices(c echo.Context) error {
	query := h.db.WithContext(c.Request().Context()).Model(&models.Invoice{}).Preload("Patient")

	if patientStr := c.QueryParam("patient_id"); patientStr != "" {
		patientID, err := strconv.ParseUint(patientStr, 10, 32)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		query = query.Where("patient_id = ?", uint(patientID))
	}
	if status := c.QueryParam("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	page := 1
	if pageStr := c.QueryParam("page"); pageStr != "" {
		if p, err := strconv.Atoi(pageStr); err == nil && p > 0 {
			page = p
		}
	}
	pageSize := 20

	var totalCount int64
	if err := query.Count(&totalCount).Error; err != nil {
		return err
	}
	totalPages := int((totalCount + int64(pageSize) - 1) / int64(pageSize))
	if totalPages == 0 {
		totalPages = 1
	}
	if page > totalPages {
		page = totalPages
	}

	var invoices []models.Invoice
	err := query.Order("id desc").Limit(pageSize).Offset((page - 1) * pageSize).Find(&invoices).Error
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"invoices":    invoices,
		"total_count": totalCount,
		"page":        page,
		"total_pages": totalPages,
	})
}

// Finalize moves a draft invoice to final.
func (h *InvoiceHandler) Finalize(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	invoice, err := h.ledger.Finalize(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, invoice)
}

// RecordPayment records an offline payment (cash, card, ...). It bypasses
// the gateway entirely: the payment is captured from creation and there is
// nothing asynchronous to reconcile.
func (h *InvoiceHandler) RecordPayment(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}

	var req RecordPaymentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Mode == "" {
		req.Mode = models.PaymentModeCash
	}

	payment, err := h.ledger.ApplyPayment(c.Request().Context(), id, req.Amount, req.Mode, req.TransactionRef)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, payment)
}

func paramID(c echo.Context, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return uint(id), nil
}
