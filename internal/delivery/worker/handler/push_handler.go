// Package handler contains the Pub/Sub push handlers of the audit worker.
package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"orpheus/config"
	deliverycontext "orpheus/internal/delivery/context"
	"orpheus/internal/domain/constants"
	"orpheus/internal/domain/entity"
	"orpheus/internal/errors"
	"orpheus/internal/infra/metrics"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
	"google.golang.org/api/idtoken"
)

// PubSubMessage represents the structure of a Pub/Sub push message
type PubSubMessage struct {
	Message struct {
		Data        string            `json:"data"`
		Attributes  map[string]string `json:"attributes,omitempty"`
		MessageID   string            `json:"messageId"`
		PublishTime string            `json:"publishTime"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// knownEventTypes lists the event types the account service emits.
var knownEventTypes = map[entity.SecurityEventType]struct{}{
	entity.SecurityEventSignup:          {},
	entity.SecurityEventLoginSucceeded:  {},
	entity.SecurityEventLoginFailed:     {},
	entity.SecurityEventLogout:          {},
	entity.SecurityEventPasswordChanged: {},
	entity.SecurityEventAccountDeleted:  {},
}

// PushVerifier authenticates a push request before its body is read.
type PushVerifier func(req *http.Request) error

// PushHandler receives security events pushed by Pub/Sub and writes them to the audit log.
type PushHandler struct {
	verify  PushVerifier
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// PushHandlerParams holds dependencies for the PushHandler
type PushHandlerParams struct {
	fx.In

	Config  *config.Config
	Logger  *slog.Logger
	Metrics *metrics.Metrics `optional:"true"`
}

// NewPushHandler creates a new Pub/Sub push handler
func NewPushHandler(params PushHandlerParams) *PushHandler {
	// Only real Google push requests carry an OIDC token; local pushes do not
	var verify PushVerifier
	if params.Config.PubSub != nil &&
		params.Config.PubSub.Provider == constants.PubSubProviderGoogle &&
		params.Config.Env.Env != constants.EnvDevelop {
		verify = verifyPubSubToken
	}

	return newPushHandler(verify, params.Logger, params.Metrics)
}

func newPushHandler(verify PushVerifier, logger *slog.Logger, m *metrics.Metrics) *PushHandler {
	return &PushHandler{
		verify:  verify,
		logger:  logger,
		metrics: m,
	}
}

// HandlePush handles incoming Pub/Sub push messages.
// Malformed messages are acknowledged with 400 so Pub/Sub does not redeliver them.
func (h *PushHandler) HandlePush(c echo.Context) error {
	ctx := c.Request().Context()

	if h.verify != nil {
		if err := h.verify(c.Request()); err != nil {
			h.logger.Warn("[Audit] Invalid Pub/Sub token", slog.Any("error", err))

			return c.NoContent(http.StatusUnauthorized)
		}
	}

	var pushMsg PubSubMessage
	if err := c.Bind(&pushMsg); err != nil {
		h.logger.Error("[Audit] Failed to parse push message", slog.Any("error", err))

		return c.NoContent(http.StatusBadRequest)
	}

	event, err := decodeEvent(&pushMsg)
	if err != nil {
		h.logger.Error("[Audit] Failed to decode security event",
			slog.String("message_id", pushMsg.Message.MessageID),
			slog.Any("error", err),
		)
		h.metrics.RecordAuditedEvent("unknown", metrics.OutcomeRejected)

		return c.NoContent(http.StatusBadRequest)
	}

	// Keep the publisher's request_id so the audit line joins the originating request
	requestID := h.extractRequestID(ctx, &pushMsg, event)
	reqLogger := h.logger.With(slog.String("request_id", requestID))

	if _, ok := knownEventTypes[event.Type]; !ok {
		reqLogger.Warn("[Audit] Unknown security event type",
			slog.String("event_id", event.ID.String()),
			slog.String("event_type", string(event.Type)),
		)
		h.metrics.RecordAuditedEvent(string(event.Type), metrics.OutcomeRejected)

		return c.NoContent(http.StatusOK)
	}

	reqLogger.Info("[Audit] Security event",
		slog.String("event_id", event.ID.String()),
		slog.String("event_type", string(event.Type)),
		slog.String("user_id", event.UserID.String()),
		slog.Time("occurred_at", event.OccurredAt),
		slog.String("message_id", pushMsg.Message.MessageID),
	)
	h.metrics.RecordAuditedEvent(string(event.Type), metrics.OutcomeSuccess)

	return c.NoContent(http.StatusOK)
}

func decodeEvent(pushMsg *PubSubMessage) (*entity.SecurityEvent, error) {
	data, err := base64.StdEncoding.DecodeString(pushMsg.Message.Data)
	if err != nil {
		return nil, errors.Wrap(err, "decode message data")
	}

	var event entity.SecurityEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, errors.Wrap(err, "unmarshal security event")
	}
	if event.Type == "" {
		return nil, errors.New("security event has no type")
	}

	return &event, nil
}

// extractRequestID extracts request_id from message attributes, event, or generates a new one
func (h *PushHandler) extractRequestID(ctx context.Context, pushMsg *PubSubMessage, event *entity.SecurityEvent) string {
	// 1. Try message attributes (from Pub/Sub)
	if requestID, ok := pushMsg.Message.Attributes[constants.EventAttributeRequestID]; ok && requestID != "" {
		return requestID
	}

	// 2. Try event field (from JSON payload)
	if event.RequestID != "" {
		return event.RequestID
	}

	// 3. Try existing context (from RequestIDMiddleware via X-Request-Id header)
	if requestID := deliverycontext.RequestIDFromContext(ctx); requestID != "" {
		return requestID
	}

	// 4. Generate new UUID as fallback
	return uuid.New().String()
}

// verifyPubSubToken verifies the JWT token from Google Pub/Sub push requests
// Reference: https://cloud.google.com/pubsub/docs/push#authenticating_standard_push_requests
func verifyPubSubToken(req *http.Request) error {
	token, ok := deliverycontext.BearerToken(req.Header.Get(echo.HeaderAuthorization))
	if !ok {
		return errors.New("missing or malformed authorization header")
	}

	// The audience is the URL of this endpoint
	scheme := "https"
	if req.TLS == nil {
		scheme = "http"
	}
	audience := fmt.Sprintf("%s://%s%s", scheme, req.Host, req.URL.Path)

	payload, err := idtoken.Validate(req.Context(), token, audience)
	if err != nil {
		return errors.Wrap(err, "failed to validate token")
	}

	if payload.Issuer != "accounts.google.com" && payload.Issuer != "https://accounts.google.com" {
		return errors.Errorf("invalid issuer: %s", payload.Issuer)
	}

	if emailVerified, ok := payload.Claims["email_verified"].(bool); ok && !emailVerified {
		return errors.New("email not verified")
	}

	return nil
}
