package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/smash0190/endlesspool/internal/pool"
)

// Verify Users implements the account collaborator interface
var _ pool.UserStore = (*Users)(nil)

// Users is the file-backed account store with PIN verification.
type Users struct {
	s *Store
}

// storedUser is the on-disk user record; the PIN hash never leaves
// this package.
type storedUser struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	PINHash string    `json:"pin_hash"`
	Created time.Time `json:"created"`
}

// Users returns the account store view.
func (s *Store) Users() *Users {
	return &Users{s: s}
}

// List returns all accounts without credential material.
func (u *Users) List() ([]pool.User, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	stored, err := u.load()
	if err != nil {
		return nil, err
	}
	users := make([]pool.User, 0, len(stored))
	for _, su := range stored {
		users = append(users, pool.User{ID: su.ID, Name: su.Name, Created: su.Created})
	}
	return users, nil
}

// Create adds an account. The PIN must be exactly 4 digits; names are
// unique case-insensitively. The new user gets the default program
// library seeded into their directory.
func (u *Users) Create(name, pin string) (pool.User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return pool.User{}, fmt.Errorf("name is required")
	}
	if !validPIN(pin) {
		return pool.User{}, fmt.Errorf("PIN must be 4 digits")
	}

	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	stored, err := u.load()
	if err != nil {
		return pool.User{}, err
	}
	for _, su := range stored {
		if strings.EqualFold(su.Name, name) {
			return pool.User{}, fmt.Errorf("user name %q already exists", name)
		}
	}

	su := storedUser{
		ID:      newID(),
		Name:    name,
		PINHash: hashPIN(pin),
		Created: time.Now().UTC(),
	}
	stored = append(stored, su)
	if err := writeJSON(u.s.usersFile(), stored); err != nil {
		return pool.User{}, err
	}

	if err := writeJSON(u.s.userFile(su.ID, "programs.json"), DefaultPrograms()); err != nil {
		return pool.User{}, err
	}
	if err := writeJSON(u.s.userFile(su.ID, "workouts.json"), []pool.Workout{}); err != nil {
		return pool.User{}, err
	}

	u.s.logger.Printf("Users: created %s (%s)", su.Name, su.ID)
	return pool.User{ID: su.ID, Name: su.Name, Created: su.Created}, nil
}

// VerifyPIN checks a user's PIN and returns the account on success.
func (u *Users) VerifyPIN(userID, pin string) (pool.User, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	stored, err := u.load()
	if err != nil {
		return pool.User{}, err
	}
	for _, su := range stored {
		if su.ID != userID {
			continue
		}
		if su.PINHash != hashPIN(pin) {
			return pool.User{}, fmt.Errorf("invalid PIN for user %s", userID)
		}
		return pool.User{ID: su.ID, Name: su.Name, Created: su.Created}, nil
	}
	return pool.User{}, fmt.Errorf("user %s not found", userID)
}

// Delete removes an account and its entire data directory.
func (u *Users) Delete(userID string) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	stored, err := u.load()
	if err != nil {
		return err
	}
	kept := stored[:0]
	for _, su := range stored {
		if su.ID != userID {
			kept = append(kept, su)
		}
	}
	if err := writeJSON(u.s.usersFile(), kept); err != nil {
		return err
	}
	if err := os.RemoveAll(u.s.userDir(userID)); err != nil {
		return fmt.Errorf("remove user dir: %w", err)
	}
	u.s.logger.Printf("Users: deleted %s", userID)
	return nil
}

// load reads users.json. MUST be called with s.mu held.
func (u *Users) load() ([]storedUser, error) {
	var stored []storedUser
	if err := readJSON(u.s.usersFile(), &stored); err != nil {
		return nil, err
	}
	return stored, nil
}

func validPIN(pin string) bool {
	if len(pin) != 4 {
		return false
	}
	for _, c := range pin {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func hashPIN(pin string) string {
	sum := sha256.Sum256([]byte(pin))
	return hex.EncodeToString(sum[:])
}
