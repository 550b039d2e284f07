package session

import (
	"fmt"
	"html"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
)

// DefaultLogin is the single operator account the service provisions.
const DefaultLogin = "test"

type Handlers struct {
	Store  Store
	Users  *Users
	Logger *slog.Logger
}

type loginForm struct {
	Login    string `form:"login"`
	Password string `form:"password"`
	To       string `form:"to"`
}

// POST /login
func (h *Handlers) Login(c echo.Context) error {
	var form loginForm
	if err := c.Bind(&form); err != nil {
		return c.String(http.StatusBadRequest, fmt.Sprintf("invalid login form: %v", err))
	}

	if !h.Users.Verify(form.Login, form.Password) {
		h.logger().Info("rejected login", "login", form.Login)
		return c.String(http.StatusForbidden, "invalid creds")
	}

	if err := h.Store.Login(c.Response(), c.Request(), form.Login); err != nil {
		return c.String(http.StatusInternalServerError, fmt.Sprintf("failed to login: %v", err))
	}
	h.logger().Info("login", "login", form.Login)

	if form.To != "" {
		target := html.EscapeString(form.To)
		return c.HTML(http.StatusOK, fmt.Sprintf(`<html><head><meta http-equiv="Refresh" content="0; url='%s'" /></head></html>`, target))
	}
	return c.String(http.StatusOK, "logged in")
}

// GET /logout
func (h *Handlers) Logout(c echo.Context) error {
	if err := h.Store.Logout(c.Response(), c.Request()); err != nil {
		return c.String(http.StatusInternalServerError, fmt.Sprintf("failed to logout: %v", err))
	}
	return c.NoContent(http.StatusOK)
}

func (h *Handlers) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}
