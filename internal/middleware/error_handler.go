package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"arogya_erp_echo/internal/services"
)

// errorResponse is the JSON envelope every client-facing error uses.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// CustomErrorHandler maps the billing error taxonomy onto HTTP statuses.
// The webhook endpoint handles its own swallow-after-logging semantics and
// never reaches here with an internal error.
func CustomErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	kind := "internal_error"
	message := "Something went wrong. Please try again later."

	var (
		validationErr   *services.ValidationError
		notFoundErr     *services.NotFoundError
		invalidStateErr *services.InvalidStateError
		gatewayErr      *services.GatewayError
		signatureErr    *services.SignatureError
		httpErr         *echo.HTTPError
	)

	switch {
	case errors.As(err, &validationErr):
		code, kind, message = http.StatusBadRequest, "validation_error", validationErr.Msg
	case errors.As(err, &notFoundErr):
		code, kind, message = http.StatusNotFound, "not_found", notFoundErr.Error()
	case errors.As(err, &invalidStateErr):
		code, kind, message = http.StatusBadRequest, "invalid_state", invalidStateErr.Msg
	case errors.As(err, &signatureErr):
		code, kind, message = http.StatusBadRequest, "signature_error", signatureErr.Msg
	case errors.As(err, &gatewayErr):
		code, kind, message = http.StatusBadGateway, "gateway_error", "Payment gateway request failed"
	case errors.As(err, &httpErr):
		code = httpErr.Code
		kind = http.StatusText(code)
		if msg, ok := httpErr.Message.(string); ok && msg != "" {
			message = msg
		} else {
			message = http.StatusText(code)
		}
	}

	if code >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Request().URL.Path).Msg("request failed")
	}

	if err := c.JSON(code, errorResponse{Error: kind, Message: message}); err != nil {
		log.Error().Err(err).Msg("failed to write error response")
	}
}
