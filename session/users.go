package session

import (
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Users is the table of operators allowed to log in.
type Users struct {
	mu     sync.RWMutex
	hashes map[string][]byte
}

func NewUsers() *Users {
	return &Users{hashes: make(map[string][]byte)}
}

func (u *Users) Add(login, password string) error {
	if login == "" {
		return fmt.Errorf("empty login")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing password for %q: %w", login, err)
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.hashes[login] = hash
	return nil
}

func (u *Users) Verify(login, password string) bool {
	u.mu.RLock()
	hash, ok := u.hashes[login]
	u.mu.RUnlock()
	if !ok {
		return false
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
}
