package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spi-tools/ghapp-broker/audit"
	"github.com/spi-tools/ghapp-broker/broker"
	"github.com/spi-tools/ghapp-broker/pkg/env"
	"github.com/spi-tools/ghapp-broker/session"
	"github.com/spi-tools/ghapp-broker/statedoc"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	slogecho "github.com/samber/slog-echo"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
)

const loginPath = "/login"

type Server struct {
	echo     *echo.Echo
	httpd    *http.Server
	logger   *slog.Logger
	auditLog *audit.Log
	htmlDir  string
}

type Config struct {
	Logger            *slog.Logger
	Bind              string
	HTMLDir           string
	Exchanger         broker.Exchanger
	AccessPassword    string
	SessionSecret     []byte
	InteractionsFile  string
	CallbackDataFile  string
	WebhookDataFile   string
	MaxBodyBytes      int64
	AuditWriteTimeout time.Duration
	GateTokenExchange bool

	// MetricsRegisterer receives the HTTP request metrics. Defaults to the
	// prometheus default registerer.
	MetricsRegisterer prometheus.Registerer
}

func NewServer(config Config) (*Server, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}
	if config.Exchanger == nil {
		return nil, fmt.Errorf("an upstream exchanger is required")
	}
	if len(config.SessionSecret) == 0 {
		return nil, fmt.Errorf("a session secret is required")
	}

	auditLog, err := audit.OpenLog(config.InteractionsFile)
	if err != nil {
		return nil, err
	}

	callbacks, err := statedoc.Open[statedoc.CallbackState](config.CallbackDataFile)
	if err != nil {
		return nil, fmt.Errorf("loading callback state: %w", err)
	}
	webhooks, err := statedoc.Open[statedoc.WebhookState](config.WebhookDataFile)
	if err != nil {
		return nil, fmt.Errorf("loading webhook state: %w", err)
	}

	users := session.NewUsers()
	if err := users.Add(session.DefaultLogin, config.AccessPassword); err != nil {
		return nil, err
	}
	sessions := session.NewCookieStore(config.SessionSecret)

	reg := config.MetricsRegisterer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	e := echo.New()

	// httpd
	var (
		httpTimeout        = 1 * time.Minute
		httpMaxHeaderBytes = 1 * (1024 * 1024)
	)

	srv := &Server{
		echo:     e,
		logger:   logger,
		auditLog: auditLog,
		htmlDir:  config.HTMLDir,
	}
	srv.httpd = &http.Server{
		Handler:        srv,
		Addr:           config.Bind,
		WriteTimeout:   httpTimeout,
		ReadTimeout:    httpTimeout,
		MaxHeaderBytes: httpMaxHeaderBytes,
	}

	e.HideBanner = true
	e.Use(slogecho.New(logger))
	e.Use(middleware.Recover())
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  "ghapp_broker",
		Registerer: reg,
	}))
	e.Use(otelecho.Middleware("ghapp-broker"))
	e.HTTPErrorHandler = srv.errorHandler
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
	}))
	e.Use(audit.Middleware(auditLog, audit.Config{
		// serving the log through the log would copy it into itself
		Skipper:      func(c echo.Context) bool { return c.Path() == "/incoming" },
		MaxBodyBytes: config.MaxBodyBytes,
		WriteTimeout: config.AuditWriteTimeout,
		Logger:       logger,
	}))

	gate := func(to string) echo.MiddlewareFunc {
		return session.RequireLogin(sessions, session.LoginRedirect(loginPath, to))
	}

	auth := &session.Handlers{Store: sessions, Users: users, Logger: logger}
	state := &statedoc.Handlers{Callback: callbacks, Webhook: webhooks, Logger: logger}

	e.GET("/_health", srv.HandleHealthCheck)
	e.GET("/", srv.servePage("index.html"), gate("./"))
	e.GET(loginPath, srv.servePage("login.html"))
	e.POST(loginPath, auth.Login)
	e.GET("/logout", auth.Logout)
	e.GET("/callback", state.HandleCallback)
	e.POST("/webhook", state.HandleWebhook)
	e.GET("/incoming", srv.HandleIncoming, gate("incoming"))

	broker.New(config.Exchanger, logger).Register(e, broker.Routes{
		Gate:              gate("list-installations"),
		GateTokenExchange: config.GateTokenExchange,
	})
	if !config.GateTokenExchange {
		logger.Warn("/installation-access-token is reachable without a login session")
	}

	return srv, nil
}

func (srv *Server) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	srv.echo.ServeHTTP(rw, req)
}

func (srv *Server) RunAPI() error {
	slog.Info("starting server", "bind", srv.httpd.Addr)
	go func() {
		if err := srv.httpd.ListenAndServe(); err != nil {
			if !errors.Is(err, http.ErrServerClosed) {
				slog.Error("HTTP server shutting down unexpectedly", "err", err)
			}
		}
	}()

	// Wait for a signal to exit.
	slog.Info("registering OS exit signal handler")
	quit := make(chan struct{})
	exitSignals := make(chan os.Signal, 1)
	signal.Notify(exitSignals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-exitSignals
		slog.Info("received OS exit signal", "signal", sig)

		// Shut down the HTTP server
		if err := srv.Shutdown(); err != nil {
			slog.Error("HTTP server shutdown error", "err", err)
		}

		// Trigger the return that causes an exit.
		close(quit)
	}()
	<-quit
	slog.Info("graceful shutdown complete")
	return nil
}

func (srv *Server) Shutdown() error {
	slog.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := srv.httpd.Shutdown(ctx)
	if cerr := srv.auditLog.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

type HealthStatus struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

func (srv *Server) HandleHealthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthStatus{Status: "ok", Version: env.Version()})
}

func (srv *Server) servePage(name string) echo.HandlerFunc {
	return func(c echo.Context) error {
		return srv.serveFile(c, filepath.Join(srv.htmlDir, name), "could not serve static html")
	}
}

// GET /incoming
func (srv *Server) HandleIncoming(c echo.Context) error {
	return srv.serveFile(c, srv.auditLog.Path(), "could not serve interactions log")
}

func (srv *Server) serveFile(c echo.Context, path, failure string) error {
	if _, err := os.Stat(path); err != nil {
		srv.logger.Error("static file unavailable", "path", path, "err", err)
		return c.String(http.StatusInternalServerError, failure)
	}
	return c.File(path)
}

func (srv *Server) errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		msg = fmt.Sprint(he.Message)
	}
	if code >= 500 {
		srv.logger.Warn("ghapp-broker-http-internal-error", "err", err)
	}
	if c.Response().Committed {
		return
	}
	if c.Request().Method == http.MethodHead {
		c.NoContent(code)
		return
	}
	c.String(code, msg)
}
