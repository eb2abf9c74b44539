package apiv1

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/subkeeper/subkeeper/internal/pkg/billing"
	"github.com/subkeeper/subkeeper/internal/pkg/idempotency"
	"github.com/subkeeper/subkeeper/internal/pkg/retry"
)

const activationResultTTL = 24 * time.Hour

var validate = validator.New()

// Server exposes the billing engine over HTTP. The four triggers (webhook,
// verification poll, admin, sweep) all funnel into the same idempotent,
// retry-wrapped activation path.
type Server struct {
	service       *billing.Service
	matcher       *billing.Matcher
	enforcer      *billing.Enforcer
	idemStore     idempotency.Store
	retryCfg      retry.Config
	webhookSecret string
}

// NewServer creates the API server.
func NewServer(service *billing.Service, matcher *billing.Matcher, enforcer *billing.Enforcer, idemStore idempotency.Store, retryCfg retry.Config, webhookSecret string) *Server {
	return &Server{
		service:       service,
		matcher:       matcher,
		enforcer:      enforcer,
		idemStore:     idemStore,
		retryCfg:      retryCfg,
		webhookSecret: webhookSecret,
	}
}

// RegisterHandlers attaches all billing routes to the given router group.
func RegisterHandlers(router fiber.Router, s *Server) {
	router.Post("/billing/webhook", s.PostWebhook)
	router.Post("/billing/subscriptions/:id/verify", s.PostVerifyPayment)
	router.Get("/billing/subscriptions/:id", s.GetSubscription)
	router.Post("/admin/billing/subscriptions/:id/activate", s.PostAdminActivate)
	router.Post("/admin/billing/grace-sweep", s.PostGraceSweep)
}

// WebhookPaymentData is the payment portion of a provider event.
type WebhookPaymentData struct {
	Reference     string            `json:"reference" validate:"required"`
	PaymentID     string            `json:"payment_id"`
	Amount        int64             `json:"amount" validate:"gt=0"`
	Currency      string            `json:"currency" validate:"required,len=3"`
	CustomerEmail string            `json:"customer_email" validate:"omitempty,email"`
	Metadata      map[string]string `json:"metadata"`
	Authorization string            `json:"authorization"`
}

// WebhookRequest is the normalized provider webhook payload.
type WebhookRequest struct {
	Provider  string             `json:"provider" validate:"required"`
	EventID   string             `json:"event_id" validate:"required"`
	EventType string             `json:"event_type" validate:"required"`
	Data      WebhookPaymentData `json:"data" validate:"required"`
}

// VerifyRequest is the client-side payment verification payload.
type VerifyRequest struct {
	Reference     string `json:"reference" validate:"required"`
	PaymentID     string `json:"payment_id"`
	Amount        int64  `json:"amount" validate:"gt=0"`
	Currency      string `json:"currency" validate:"required,len=3"`
	Authorization string `json:"authorization"`
}

// PostWebhook ingests an asynchronous provider payment event. Signature
// verification happens before anything reaches the engine. Permanent
// outcomes are acked with 2xx so the provider stops redelivering;
// exhausted transient failures return 503 so it redelivers later.
func (s *Server) PostWebhook(c *fiber.Ctx) error {
	body := c.Body()
	if !billing.VerifyWebhookSignature(body, c.Get("X-Webhook-Signature"), s.webhookSecret) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "invalid_signature",
		})
	}

	var req WebhookRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed_payload"})
	}
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload", "detail": err.Error()})
	}

	created, event, err := s.service.RecordWebhookEvent(c.Context(), req.Provider, req.EventID, req.EventType, string(body), true)
	if err != nil {
		log.Errorf("[API] Could not record webhook event %s: %v", req.EventID, err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "storage_unavailable"})
	}
	if !created && event.ProcessedAt != nil {
		// Redelivery of an event we already fully handled.
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"success": true, "reason": "duplicate_event"})
	}

	match, err := s.matcher.Match(c.Context(), billing.PaymentEvent{
		Reference:     req.Data.Reference,
		ProviderRef:   req.EventID,
		Amount:        req.Data.Amount,
		Currency:      req.Data.Currency,
		CustomerEmail: req.Data.CustomerEmail,
		Metadata:      req.Data.Metadata,
		OccurredAt:    time.Now(),
	})
	if err != nil {
		_ = s.service.MarkWebhookProcessed(c.Context(), event.ID, err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "matcher_unavailable"})
	}
	if match == nil {
		// Low confidence is never escalated into activation.
		_ = s.service.MarkWebhookProcessed(c.Context(), event.ID, errors.New("no subscription matched"))
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"success":                false,
			"reason":                 "unmatched_payment",
			"requires_manual_review": true,
		})
	}

	result, err := s.activateIdempotent(c.Context(), match.SubscriptionID, billing.PaymentData{
		Reference:     req.Data.Reference,
		PaymentID:     req.Data.PaymentID,
		Amount:        req.Data.Amount,
		Currency:      req.Data.Currency,
		Authorization: req.Data.Authorization,
	}, billing.SourceWebhook)
	if err != nil {
		_ = s.service.MarkWebhookProcessed(c.Context(), event.ID, err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "activation_failed"})
	}

	_ = s.service.MarkWebhookProcessed(c.Context(), event.ID, nil)

	response := fiber.Map{"success": result.Success}
	if result.Reason != "" {
		response["reason"] = result.Reason
	}
	if len(match.Warnings) > 0 {
		response["warnings"] = match.Warnings
	}
	// Permanent failures are still acked so the provider stops resending.
	return c.Status(fiber.StatusOK).JSON(response)
}

// PostVerifyPayment handles the client-side verification poll after a
// checkout redirect. The subscription id is explicit here.
func (s *Server) PostVerifyPayment(c *fiber.Ctx) error {
	subscriptionID, err := parseSubscriptionID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_subscription_id"})
	}

	var req VerifyRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed_payload"})
	}
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload", "detail": err.Error()})
	}

	result, err := s.activateIdempotent(c.Context(), subscriptionID, billing.PaymentData{
		Reference:     req.Reference,
		PaymentID:     req.PaymentID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Authorization: req.Authorization,
	}, billing.SourceVerification)
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "activation_failed"})
	}

	return c.Status(statusForResult(result)).JSON(result)
}

// PostAdminActivate is the manual reconciliation path for operators.
func (s *Server) PostAdminActivate(c *fiber.Ctx) error {
	subscriptionID, err := parseSubscriptionID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_subscription_id"})
	}

	var req VerifyRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed_payload"})
	}
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload", "detail": err.Error()})
	}

	result, err := s.activateIdempotent(c.Context(), subscriptionID, billing.PaymentData{
		Reference:     req.Reference,
		PaymentID:     req.PaymentID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Authorization: req.Authorization,
	}, billing.SourceManual)
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "activation_failed"})
	}

	return c.Status(statusForResult(result)).JSON(result)
}

// PostGraceSweep triggers one enforcement run outside the schedule.
func (s *Server) PostGraceSweep(c *fiber.Ctx) error {
	report, err := s.enforcer.Run(c.Context())
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "sweep_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(report)
}

// GetSubscription returns the subscription status and its audit trail.
// Raw internal error detail is never exposed.
func (s *Server) GetSubscription(c *fiber.Ctx) error {
	subscriptionID, err := parseSubscriptionID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_subscription_id"})
	}

	sub, history, err := s.service.GetSubscriptionWithHistory(c.Context(), subscriptionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "subscription_not_found"})
		}
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "storage_unavailable"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"subscription": sub,
		"history":      history,
	})
}

// activateIdempotent is the shared activation path: the idempotency store
// suppresses re-execution of a completed call, the retry engine absorbs
// transient failures, the service handles the rest under the lock.
func (s *Server) activateIdempotent(ctx context.Context, subscriptionID uint, payment billing.PaymentData, source string) (*billing.ActivationResult, error) {
	key := idempotency.Key("activate_subscription", map[string]string{
		"subscription_id": strconv.FormatUint(uint64(subscriptionID), 10),
		"reference":       payment.Reference,
	})

	return idempotency.WithIdempotency(ctx, s.idemStore, key, activationResultTTL, func() (*billing.ActivationResult, error) {
		name := fmt.Sprintf("activate_subscription:%d", subscriptionID)
		return retry.Do(ctx, name, s.retryCfg, func() (*billing.ActivationResult, error) {
			return s.service.Activate(ctx, subscriptionID, payment, source)
		})
	})
}

func parseSubscriptionID(c *fiber.Ctx) (uint, error) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id %q", c.Params("id"))
	}
	return uint(id), nil
}

func statusForResult(result *billing.ActivationResult) int {
	if result.Success {
		return fiber.StatusOK
	}
	switch result.Reason {
	case billing.ReasonNotFound:
		return fiber.StatusNotFound
	case billing.ReasonInvalidStatus:
		return fiber.StatusConflict
	default:
		return fiber.StatusUnprocessableEntity
	}
}
