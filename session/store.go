package session

import (
	"fmt"
	"net/http"

	"github.com/gorilla/sessions"
)

const (
	sessionName = "ghapp-broker"
	loginKey    = "login"
)

// Store is the session collaborator consulted by the gate and mutated by
// the login and logout handlers.
type Store interface {
	IsAuthenticated(r *http.Request) bool
	Login(w http.ResponseWriter, r *http.Request, login string) error
	Logout(w http.ResponseWriter, r *http.Request) error
}

// CookieStore keeps the logged-in user in a signed cookie.
type CookieStore struct {
	cookies *sessions.CookieStore
}

func NewCookieStore(secret []byte) *CookieStore {
	cs := sessions.NewCookieStore(secret)
	cs.Options.HttpOnly = true
	cs.Options.SameSite = http.SameSiteLaxMode
	return &CookieStore{cookies: cs}
}

func (s *CookieStore) currentLogin(r *http.Request) string {
	sess, err := s.cookies.Get(r, sessionName)
	if err != nil {
		return ""
	}
	login, _ := sess.Values[loginKey].(string)
	return login
}

func (s *CookieStore) IsAuthenticated(r *http.Request) bool {
	return s.currentLogin(r) != ""
}

func (s *CookieStore) Login(w http.ResponseWriter, r *http.Request, login string) error {
	// a stale or tampered cookie yields a fresh session alongside the error
	sess, _ := s.cookies.Get(r, sessionName)
	sess.Values[loginKey] = login
	if err := sess.Save(r, w); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

func (s *CookieStore) Logout(w http.ResponseWriter, r *http.Request) error {
	sess, _ := s.cookies.Get(r, sessionName)
	sess.Values = make(map[any]any)
	sess.Options.MaxAge = -1
	if err := sess.Save(r, w); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	return nil
}
