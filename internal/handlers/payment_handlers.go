package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"arogya_erp_echo/internal/services"
)

// webhookSignatureHeader carries the gateway's HMAC over the raw body.
const webhookSignatureHeader = "X-Razorpay-Signature"

type PaymentHandler struct {
	recon   *services.ReconciliationService
	gateway services.Gateway
}

func NewPaymentHandler(recon *services.ReconciliationService, gateway services.Gateway) *PaymentHandler {
	return &PaymentHandler{recon: recon, gateway: gateway}
}

// Config tells the client whether online payments are available and which
// public key to open checkout with.
func (h *PaymentHandler) Config(c echo.Context) error {
	return c.JSON(http.StatusOK, PaymentConfigResponse{
		Enabled:   h.gateway.Enabled(),
		PublicKey: h.gateway.KeyID(),
		Currency:  h.gateway.Currency(),
	})
}

// CreateOrder opens a gateway order against an invoice balance.
func (h *PaymentHandler) CreateOrder(c echo.Context) error {
	var req CreateOrderRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	session, err := h.recon.CreateOrder(c.Request().Context(), req.InvoiceID, req.Amount)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, session)
}

// Verify is the client-side confirmation path right after checkout.
func (h *PaymentHandler) Verify(c echo.Context) error {
	var req VerifyPaymentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	payment, err := h.recon.VerifyAndCapture(c.Request().Context(),
		req.PaymentID, req.RazorpayOrderID, req.RazorpayPaymentID, req.RazorpaySignature)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, VerifyPaymentResponse{
		Success: true,
		Payment: PaymentSummary{
			ID:             payment.ID,
			Amount:         payment.Amount,
			TransactionRef: payment.TransactionRef,
			Status:         payment.GatewayStatus,
		},
	})
}

// Webhook is the gateway-pushed confirmation path. Unauthenticated: trust
// is established solely by the signature over the raw body. A bad signature
// is the only failure returned as non-2xx; internal processing errors are
// logged and acknowledged so the gateway does not storm us with
// redeliveries it cannot fix.
func (h *PaymentHandler) Webhook(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable request body")
	}
	signature := c.Request().Header.Get(webhookSignatureHeader)

	if err := h.recon.ProcessWebhook(c.Request().Context(), body, signature); err != nil {
		var sigErr *services.SignatureError
		if errors.As(err, &sigErr) {
			return err
		}
		log.Error().Err(err).Msg("webhook processing failed")
	}

	return c.JSON(http.StatusOK, map[string]bool{"received": true})
}

// Refund initiates a gateway refund for a captured payment. A missing
// amount means a full refund.
func (h *PaymentHandler) Refund(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}

	var req RefundRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	payment, err := h.recon.Refund(c.Request().Context(), id, req.Amount)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, RefundResponse{
		Success: true,
		Refund: RefundSummary{
			ID:     payment.RefundID,
			Amount: payment.RefundAmount,
			Status: payment.GatewayStatus,
		},
	})
}
