package session

import (
	"net/http"

	"github.com/google/go-querystring/query"
	"github.com/labstack/echo/v4"
)

// RequireLogin only lets authenticated callers through. Everyone else is
// sent to redirectTarget with a 307.
func RequireLogin(store Store, redirectTarget string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !store.IsAuthenticated(c.Request()) {
				return c.Redirect(http.StatusTemporaryRedirect, redirectTarget)
			}
			return next(c)
		}
	}
}

// LoginRedirect builds the login URL that returns the caller to 'to'
// once logged in, eg "/login?to=list-installations".
func LoginRedirect(loginPath, to string) string {
	if to == "" {
		return loginPath
	}
	vals, err := query.Values(loginQuery{To: to})
	if err != nil {
		return loginPath
	}
	return loginPath + "?" + vals.Encode()
}

type loginQuery struct {
	To string `url:"to"`
}
