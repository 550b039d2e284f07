package statedoc

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
)

type Handlers struct {
	Callback *Document[CallbackState]
	Webhook  *Document[WebhookState]
	Logger   *slog.Logger
}

// GET /callback?code=...&installation_id=...
func (h *Handlers) HandleCallback(c echo.Context) error {
	code := c.QueryParam("code")
	installationID := c.QueryParam("installation_id")
	if code == "" || installationID == "" {
		return c.String(http.StatusBadRequest, "missing query parameter: code and installation_id are required")
	}

	err := h.Callback.Update(func(s *CallbackState) {
		s.CallbackCode = code
		s.AddInstallation(installationID)
	})
	if err != nil {
		h.logger().Error("failed to save callback state", "path", h.Callback.Path(), "err", err)
		return c.String(http.StatusInternalServerError, fmt.Sprintf("failed to save the state: %v", err))
	}
	h.logger().Info("recorded installation callback", "installationID", installationID)
	return c.String(http.StatusOK, "processed")
}

// POST /webhook
func (h *Handlers) HandleWebhook(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.String(http.StatusBadRequest, fmt.Sprintf("failed to read webhook body: %v", err))
	}
	if !json.Valid(body) {
		return c.String(http.StatusBadRequest, "webhook body must be a JSON document")
	}

	event := c.Request().Header.Get("X-GitHub-Event")
	delivery := c.Request().Header.Get("X-GitHub-Delivery")
	err = h.Webhook.Update(func(s *WebhookState) {
		s.Received++
		s.LastEvent = event
		s.LastDelivery = delivery
		s.LastPayload = json.RawMessage(body)
	})
	if err != nil {
		h.logger().Error("failed to save webhook state", "path", h.Webhook.Path(), "err", err)
		return c.String(http.StatusInternalServerError, fmt.Sprintf("failed to save the state: %v", err))
	}
	h.logger().Info("recorded webhook", "event", event, "delivery", delivery)
	return c.String(http.StatusOK, "processed")
}

func (h *Handlers) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}
