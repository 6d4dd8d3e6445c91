package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"arogya_erp_echo/internal/models"
)

// Audit counter keys. Signature failures are security events; unknown
// order ids may indicate a payment row lost to a failed order creation.
const (
	auditCheckoutSignatureFailures = "audit:checkout:signature_failures"
	auditWebhookSignatureFailures  = "audit:webhook:signature_failures"
	auditWebhookUnknownOrder       = "audit:webhook:unknown_order"
)

// ReconciliationService funnels the two payment-confirmation paths (the
// client verify call after checkout and the gateway webhook) into one
// idempotent transition per payment. It is the only component that moves a
// payment out of the initiated state.
type ReconciliationService struct {
	db      *gorm.DB
	ledger  *InvoiceLedger
	gateway Gateway
	cache   *RedisCache // optional; audit counters only

	onCaptured func(payment *models.Payment, invoice *models.Invoice)
}

func NewReconciliationService(db *gorm.DB, ledger *InvoiceLedger, gateway Gateway, cache *RedisCache) *ReconciliationService {
	return &ReconciliationService{db: db, ledger: ledger, gateway: gateway, cache: cache}
}

// SetCaptureHook registers a callback invoked after a payment transitions
// to captured (once per payment lifetime, after commit). Used for
// best-effort side effects like receipt delivery.
func (s *ReconciliationService) SetCaptureHook(fn func(payment *models.Payment, invoice *models.Invoice)) {
	s.onCaptured = fn
}

// CheckoutPrefill carries patient contact details for the checkout form.
type CheckoutPrefill struct {
	Name    string `json:"name"`
	Contact string `json:"contact"`
	Email   string `json:"email"`
}

// CheckoutSession is everything the client needs to open the gateway
// checkout. Amount is in the gateway's minor units.
type CheckoutSession struct {
	OrderID   string          `json:"order_id"`
	Amount    int64           `json:"amount"`
	Currency  string          `json:"currency"`
	PaymentID uint            `json:"payment_id"`
	Key       string          `json:"key"`
	Prefill   CheckoutPrefill `json:"prefill"`
}

// CreateOrder creates a gateway order for part or all of an invoice's
// balance and records the matching payment row in the initiated state.
func (s *ReconciliationService) CreateOrder(ctx context.Context, invoiceID uint, amount float64) (*CheckoutSession, error) {
	if !s.gateway.Enabled() {
		return nil, &ValidationError{Msg: "online payments are disabled"}
	}

	var invoice models.Invoice
	err := s.db.WithContext(ctx).Preload("Patient").First(&invoice, invoiceID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Resource: "invoice", ID: invoiceID}
		}
		return nil, err
	}

	if amount <= 0 {
		return nil, &ValidationError{Msg: "amount must be positive"}
	}
	if round2(amount) > invoice.Balance {
		return nil, &ValidationError{Msg: "amount exceeds invoice balance"}
	}

	receipt := fmt.Sprintf("%s-%s", invoice.Number, uuid.New().String()[:8])
	order, err := s.gateway.CreateOrder(amount, receipt, map[string]interface{}{
		"invoice_id": invoice.ID,
		"patient_id": invoice.PatientID,
	})
	if err != nil {
		return nil, err
	}

	payment := models.Payment{
		InvoiceID:      invoiceID,
		Amount:         round2(amount),
		Mode:           string(models.PaymentGatewayRazorpay),
		GatewayOrderID: order.ID,
		GatewayStatus:  models.PaymentStatusInitiated,
	}
	if err := s.db.WithContext(ctx).Create(&payment).Error; err != nil {
		return nil, err
	}

	return &CheckoutSession{
		OrderID:   order.ID,
		Amount:    order.AmountMinor,
		Currency:  order.Currency,
		PaymentID: payment.ID,
		Key:       s.gateway.KeyID(),
		Prefill: CheckoutPrefill{
			Name:    invoice.Patient.Name,
			Contact: invoice.Patient.Phone,
			Email:   invoice.Patient.Email,
		},
	}, nil
}

// VerifyAndCapture is the client-verify confirmation path. The signature
// proves the checkout result was not tampered with; the authoritative
// payment details still come from the gateway.
func (s *ReconciliationService) VerifyAndCapture(ctx context.Context, paymentID uint, orderID, gatewayPaymentID, signature string) (*models.Payment, error) {
	var payment models.Payment
	if err := s.db.WithContext(ctx).First(&payment, paymentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Resource: "payment", ID: paymentID}
		}
		return nil, err
	}
	if payment.GatewayOrderID != orderID {
		return nil, &ValidationError{Msg: "order id does not match payment"}
	}

	if !s.gateway.VerifyCheckoutSignature(orderID, gatewayPaymentID, signature) {
		s.audit(ctx, auditCheckoutSignatureFailures)
		log.Warn().Uint("payment_id", paymentID).Str("order_id", orderID).
			Msg("checkout signature verification failed")

		detail, _ := json.Marshal(map[string]string{"error": "signature verification failed"})
		if err := s.markFailed(ctx, paymentID, detail); err != nil {
			log.Error().Err(err).Uint("payment_id", paymentID).Msg("failed to mark payment failed")
		}
		return nil, &SignatureError{Msg: "payment signature verification failed"}
	}

	details, err := s.gateway.FetchPayment(gatewayPaymentID)
	if err != nil {
		return nil, err
	}

	return s.capture(ctx, paymentID, details, signature)
}

// capture performs the shared capture transition. An already-finalized
// payment is a successful no-op returning the current state: both
// confirmation paths may race and webhooks are redelivered.
func (s *ReconciliationService) capture(ctx context.Context, paymentID uint, gp *GatewayPayment, signature string) (*models.Payment, error) {
	var payment models.Payment
	var invoice *models.Invoice
	transitioned := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&payment, paymentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &NotFoundError{Resource: "payment", ID: paymentID}
			}
			return err
		}

		if gp.Amount > 0 && round2(gp.Amount) != payment.Amount {
			log.Warn().Uint("payment_id", paymentID).
				Float64("expected", payment.Amount).Float64("captured", gp.Amount).
				Msg("gateway captured amount differs from initiated amount")
		}

		now := time.Now()
		updates := map[string]interface{}{
			"gateway_payment_id": gp.ID,
			"gateway_signature":  signature,
			"gateway_response":   gp.Raw,
			"gateway_status":     models.PaymentStatusCaptured,
			"transaction_ref":    gp.ID,
			"paid_at":            &now,
		}
		if gp.Amount > 0 {
			// the money actually collected is authoritative
			updates["amount"] = round2(gp.Amount)
		}

		res := tx.Model(&models.Payment{}).
			Where("id = ? AND gateway_status = ?", paymentID, models.PaymentStatusInitiated).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// finalized by the other path (or a redelivery); no-op
			return nil
		}
		transitioned = true

		if err := tx.First(&payment, paymentID).Error; err != nil {
			return err
		}
		inv, err := s.ledger.RecomputeBalance(tx, payment.InvoiceID)
		if err != nil {
			return err
		}
		invoice = inv
		return nil
	})
	if err != nil {
		return nil, err
	}

	if transitioned && s.onCaptured != nil {
		s.onCaptured(&payment, invoice)
	}
	return &payment, nil
}

// markFailed moves an initiated payment to failed. Finalized payments are
// left untouched; the invoice is never involved.
func (s *ReconciliationService) markFailed(ctx context.Context, paymentID uint, detail json.RawMessage) error {
	return s.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND gateway_status = ?", paymentID, models.PaymentStatusInitiated).
		Updates(map[string]interface{}{
			"gateway_status":   models.PaymentStatusFailed,
			"gateway_response": detail,
		}).Error
}

// Refund initiates a gateway refund synchronously on behalf of a caller.
// The transition is claimed with a status-guarded update BEFORE the gateway
// is called, so a concurrent duplicate request loses the claim and never
// reaches the gateway. Gateway errors release the claim and surface
// directly; the ledger is only touched once the gateway accepted the
// refund.
func (s *ReconciliationService) Refund(ctx context.Context, paymentID uint, amount float64) (*models.Payment, error) {
	var payment models.Payment
	if err := s.db.WithContext(ctx).First(&payment, paymentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Resource: "payment", ID: paymentID}
		}
		return nil, err
	}

	if payment.GatewayPaymentID == "" {
		return nil, &InvalidStateError{Msg: "payment has no gateway payment id"}
	}
	switch payment.GatewayStatus {
	case models.PaymentStatusRefunded:
		return nil, &InvalidStateError{Msg: "payment is already refunded"}
	case models.PaymentStatusRefundPending:
		return nil, &InvalidStateError{Msg: "a refund is already in progress for this payment"}
	case models.PaymentStatusCaptured:
	default:
		return nil, &InvalidStateError{Msg: "only captured payments can be refunded"}
	}

	if amount < 0 {
		return nil, &ValidationError{Msg: "refund amount must not be negative"}
	}
	if amount == 0 {
		amount = payment.NetCaptured()
	}
	if amount <= 0 || round2(amount) > payment.NetCaptured() {
		return nil, &InvalidStateError{Msg: "refund amount exceeds captured amount"}
	}

	// claim the transition; the loser of a concurrent duplicate stops here
	res := s.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND gateway_status = ?", paymentID, models.PaymentStatusCaptured).
		Update("gateway_status", models.PaymentStatusRefundPending)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, &InvalidStateError{Msg: "payment is no longer refundable"}
	}

	refund, err := s.gateway.CreateRefund(payment.GatewayPaymentID, amount)
	if err != nil {
		if relErr := s.db.WithContext(ctx).Model(&models.Payment{}).
			Where("id = ? AND gateway_status = ?", paymentID, models.PaymentStatusRefundPending).
			Update("gateway_status", models.PaymentStatusCaptured).Error; relErr != nil {
			log.Error().Err(relErr).Uint("payment_id", paymentID).Msg("failed to release refund claim")
		}
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&payment, paymentID).Error; err != nil {
			return err
		}
		if payment.GatewayStatus == models.PaymentStatusRefunded {
			// the webhook for the refund we just issued beat us; same outcome
			return nil
		}
		return s.ledger.applyRefundTx(tx, &payment, amount, refund.ID)
	})
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// webhookEnvelope is the subset of the gateway's webhook payload the
// reconciliation paths consume.
type webhookEnvelope struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID               string `json:"id"`
				OrderID          string `json:"order_id"`
				Amount           int64  `json:"amount"`
				Status           string `json:"status"`
				Method           string `json:"method"`
				ErrorCode        string `json:"error_code"`
				ErrorDescription string `json:"error_description"`
			} `json:"entity"`
		} `json:"payment"`
		Refund struct {
			Entity struct {
				ID        string `json:"id"`
				PaymentID string `json:"payment_id"`
				Amount    int64  `json:"amount"`
				Status    string `json:"status"`
			} `json:"entity"`
		} `json:"refund"`
	} `json:"payload"`
}

// ProcessWebhook handles a gateway-pushed event. The signature is verified
// over the raw body before any parsing; a failed check is the only error
// the HTTP layer turns into a non-2xx response.
func (s *ReconciliationService) ProcessWebhook(ctx context.Context, rawBody []byte, signature string) error {
	if !s.gateway.VerifyWebhookSignature(rawBody, signature) {
		s.audit(ctx, auditWebhookSignatureFailures)
		log.Warn().Msg("webhook signature verification failed")
		return &SignatureError{Msg: "webhook signature verification failed"}
	}

	var env webhookEnvelope
	if err := json.Unmarshal(rawBody, &env); err != nil {
		return &ValidationError{Msg: "malformed webhook payload"}
	}

	event := models.GatewayEvent{
		Gateway: models.PaymentGatewayRazorpay,
		Event:   env.Event,
		Payload: rawBody,
	}
	if err := s.db.WithContext(ctx).Create(&event).Error; err != nil {
		log.Error().Err(err).Str("event", env.Event).Msg("failed to store gateway event")
	}

	switch env.Event {
	case "payment.captured":
		return s.captureFromWebhook(ctx, &env)
	case "payment.failed":
		return s.failFromWebhook(ctx, &env)
	case "refund.created", "refund.processed":
		return s.refundFromWebhook(ctx, &env)
	default:
		log.Debug().Str("event", env.Event).Msg("ignoring unhandled webhook event")
		return nil
	}
}

func (s *ReconciliationService) captureFromWebhook(ctx context.Context, env *webhookEnvelope) error {
	entity := env.Payload.Payment.Entity

	payment, ok := s.findByOrderID(ctx, entity.OrderID)
	if !ok {
		return nil
	}

	raw, _ := json.Marshal(entity)
	gp := &GatewayPayment{
		ID:      entity.ID,
		OrderID: entity.OrderID,
		Status:  entity.Status,
		Method:  entity.Method,
		Amount:  MajorUnits(entity.Amount),
		Raw:     raw,
	}
	_, err := s.capture(ctx, payment.ID, gp, "")
	return err
}

func (s *ReconciliationService) failFromWebhook(ctx context.Context, env *webhookEnvelope) error {
	entity := env.Payload.Payment.Entity

	payment, ok := s.findByOrderID(ctx, entity.OrderID)
	if !ok {
		return nil
	}

	detail, _ := json.Marshal(entity)
	return s.markFailed(ctx, payment.ID, detail)
}

func (s *ReconciliationService) refundFromWebhook(ctx context.Context, env *webhookEnvelope) error {
	entity := env.Payload.Refund.Entity

	var payment models.Payment
	err := s.db.WithContext(ctx).Where("gateway_payment_id = ?", entity.PaymentID).First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn().Str("gateway_payment_id", entity.PaymentID).
				Msg("refund webhook references unknown payment, discarding")
			return nil
		}
		return err
	}
	if payment.GatewayStatus == models.PaymentStatusRefunded {
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&payment, payment.ID).Error; err != nil {
			return err
		}
		if payment.GatewayStatus == models.PaymentStatusRefunded {
			return nil
		}
		return s.ledger.applyRefundTx(tx, &payment, MajorUnits(entity.Amount), entity.ID)
	})
}

// findByOrderID resolves a payment from a webhook order reference. Unknown
// orders are logged and counted, never fabricated: they may point at an
// order-creation call that failed after the gateway side succeeded.
func (s *ReconciliationService) findByOrderID(ctx context.Context, orderID string) (*models.Payment, bool) {
	if orderID == "" {
		return nil, false
	}
	var payment models.Payment
	err := s.db.WithContext(ctx).Where("gateway_order_id = ?", orderID).First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.audit(ctx, auditWebhookUnknownOrder)
			log.Warn().Str("order_id", orderID).
				Msg("webhook references unknown gateway order, discarding")
			return nil, false
		}
		log.Error().Err(err).Str("order_id", orderID).Msg("payment lookup failed")
		return nil, false
	}
	return &payment, true
}

// StaleSweepResult summarizes one pass of the stale-payment sweep.
type StaleSweepResult struct {
	Checked  int
	Captured int
	Expired  int
}

// ReconcileStalePayments re-checks payments stuck in the initiated state
// against the gateway. A capture found on the gateway side funnels into the
// normal (idempotent) capture transition, e.g. when both the verify call
// and the webhook were lost; orders with no capture are expired after the
// cutoff.
func (s *ReconciliationService) ReconcileStalePayments(ctx context.Context, staleAfter, expireAfter time.Duration) (*StaleSweepResult, error) {
	var stale []models.Payment
	err := s.db.WithContext(ctx).
		Where("gateway_status = ? AND gateway_order_id <> '' AND created_at < ?",
			models.PaymentStatusInitiated, time.Now().Add(-staleAfter)).
		Find(&stale).Error
	if err != nil {
		return nil, err
	}

	result := &StaleSweepResult{Checked: len(stale)}
	for _, payment := range stale {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		gatewayPayments, err := s.gateway.OrderPayments(payment.GatewayOrderID)
		if err != nil {
			log.Error().Err(err).Uint("payment_id", payment.ID).Msg("stale sweep gateway lookup failed")
			continue
		}

		captured := false
		for i := range gatewayPayments {
			if gatewayPayments[i].Status == "captured" {
				if _, err := s.capture(ctx, payment.ID, &gatewayPayments[i], ""); err != nil {
					log.Error().Err(err).Uint("payment_id", payment.ID).Msg("stale sweep capture failed")
				} else {
					result.Captured++
				}
				captured = true
				break
			}
		}
		if captured {
			continue
		}

		if time.Since(payment.CreatedAt) > expireAfter {
			detail, _ := json.Marshal(map[string]string{"error": "order expired without capture"})
			if err := s.markFailed(ctx, payment.ID, detail); err != nil {
				log.Error().Err(err).Uint("payment_id", payment.ID).Msg("stale sweep expiry failed")
			} else {
				result.Expired++
			}
		}
	}
	return result, nil
}

func (s *ReconciliationService) audit(ctx context.Context, key string) {
	if s.cache == nil {
		return
	}
	if _, err := s.cache.Increment(ctx, key); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("audit counter increment failed")
	}
}
