package broker

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/spi-tools/ghapp-broker/ghclient"

	"github.com/labstack/echo/v4"
)

// Exchanger is the upstream side of the broker. Satisfied by *ghclient.Client.
type Exchanger interface {
	ListInstallations(ctx context.Context) (*ghclient.Result, error)
	ExchangeInstallationToken(ctx context.Context, installationID string) (*ghclient.Result, error)
}

type Broker struct {
	exchanger Exchanger
	logger    *slog.Logger
}

func New(exchanger Exchanger, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		exchanger: exchanger,
		logger:    logger.With("component", "broker"),
	}
}

// Routes configures which broker routes sit behind the session gate.
type Routes struct {
	// Gate protects list-installations, and token exchange when GateTokenExchange is set.
	Gate echo.MiddlewareFunc

	// GateTokenExchange puts /installation-access-token behind Gate. The
	// route has historically been open; see DESIGN.md.
	GateTokenExchange bool
}

func (b *Broker) Register(e *echo.Echo, routes Routes) {
	var listMW, tokenMW []echo.MiddlewareFunc
	if routes.Gate != nil {
		listMW = append(listMW, routes.Gate)
		if routes.GateTokenExchange {
			tokenMW = append(tokenMW, routes.Gate)
		}
	}
	e.GET("/list-installations", b.HandleListInstallations, listMW...)
	e.GET("/installation-access-token", b.HandleInstallationAccessToken, tokenMW...)
}

// GET /list-installations
func (b *Broker) HandleListInstallations(c echo.Context) error {
	res, err := b.exchanger.ListInstallations(c.Request().Context())
	return b.respond(c, res, err)
}

// GET /installation-access-token?installation_id=<id>
func (b *Broker) HandleInstallationAccessToken(c echo.Context) error {
	installationID := c.QueryParam("installation_id")
	if installationID == "" {
		return c.String(http.StatusBadRequest, "missing query parameter: installation_id")
	}
	res, err := b.exchanger.ExchangeInstallationToken(c.Request().Context(), installationID)
	return b.respond(c, res, err)
}

func (b *Broker) respond(c echo.Context, res *ghclient.Result, err error) error {
	if err != nil {
		b.logger.Warn("broker request failed", "path", c.Path(), "err", err)
		return c.String(ghclient.StatusCode(err), err.Error())
	}
	if res.UpstreamStatus >= 400 {
		b.logger.Info("upstream returned error document", "path", c.Path(), "upstreamStatus", res.UpstreamStatus)
	}
	return c.Blob(res.Status, echo.MIMEApplicationJSON, res.Body)
}
