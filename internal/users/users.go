// Package users manages dashboard accounts and verifies credentials.
package users

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/rcourtman/rosterwatch/internal/apperr"
	"github.com/rcourtman/rosterwatch/internal/roster"
	"github.com/rcourtman/rosterwatch/internal/store"
)

const (
	// BcryptCost is the cost factor for stored password hashes.
	BcryptCost = 12

	// MinPasswordLength is the minimum accepted password length.
	MinPasswordLength = 8

	RoleAdmin  = "admin"
	RoleViewer = "viewer"

	// AdminUsername is the account maintained by EnsureAdmin.
	AdminUsername = "admin"

	verifiedTTL = time.Minute
)

// ErrInvalidCredentials is returned by Authenticate for an unknown user or a
// wrong password.
var ErrInvalidCredentials = errors.New("invalid username or password")

// Store is the persistence surface used by Service.
type Store interface {
	CreateUser(ctx context.Context, u *store.User) error
	GetUser(ctx context.Context, id int64) (*store.User, error)
	GetUserByUsername(ctx context.Context, username string) (*store.User, error)
	ListUsers(ctx context.Context) ([]*store.User, error)
	UpdatePassword(ctx context.Context, id int64, hash string) (bool, error)
	DeleteUser(ctx context.Context, id int64) (bool, error)
}

type verified struct {
	user    store.User
	digest  [sha256.Size]byte
	expires time.Time
}

// Service manages accounts. Successful logins are remembered for a minute so
// that HTTP Basic requests do not pay the bcrypt cost each time.
type Service struct {
	store Store
	cost  int
	loc   *time.Location
	now   func() time.Time

	mu       sync.Mutex
	verified map[string]verified
}

// NewService returns a Service backed by s.
func NewService(s Store, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		store:    s,
		cost:     BcryptCost,
		loc:      loc,
		now:      time.Now,
		verified: make(map[string]verified),
	}
}

// SetHashCost overrides the bcrypt cost for new hashes. Values below
// bcrypt.MinCost are raised to it.
func (s *Service) SetHashCost(cost int) {
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	s.cost = cost
}

// HashPassword generates a bcrypt hash from a plain text password.
func (s *Service) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPasswordHash compares a plain text password with a hash.
func CheckPasswordHash(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// ValidatePassword enforces the minimum length.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return apperr.Invalid("password", fmt.Sprintf("must be at least %d characters long", MinPasswordLength))
	}
	return nil
}

// NormalizeRole maps anything but "admin" to "viewer".
func NormalizeRole(role string) string {
	if strings.EqualFold(strings.TrimSpace(role), RoleAdmin) {
		return RoleAdmin
	}
	return RoleViewer
}

// Create adds an account. Unknown roles become viewer.
func (s *Service) Create(ctx context.Context, username, password, role string) (*store.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, apperr.Invalid("user", "username and password are required")
	}
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}
	hash, err := s.HashPassword(password)
	if err != nil {
		return nil, err
	}

	u := &store.User{
		Username:     username,
		PasswordHash: hash,
		Role:         NormalizeRole(role),
		CreatedAt:    roster.FormatTimestamp(s.now().In(s.loc)),
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrDuplicateUser) {
			return nil, apperr.Invalid("username", fmt.Sprintf("user %q already exists", username))
		}
		return nil, err
	}
	log.Info().Str("username", username).Str("role", u.Role).Msg("User created")
	return u, nil
}

// List returns every account.
func (s *Service) List(ctx context.Context) ([]*store.User, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []*store.User{}
	}
	return users, nil
}

// ChangePassword sets a new password for the account with id.
func (s *Service) ChangePassword(ctx context.Context, id int64, password string) error {
	if err := ValidatePassword(password); err != nil {
		return err
	}
	hash, err := s.HashPassword(password)
	if err != nil {
		return err
	}
	ok, err := s.store.UpdatePassword(ctx, id, hash)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("user", id)
	}
	s.forgetID(id)
	log.Info().Int64("user_id", id).Msg("Password changed")
	return nil
}

// ChangeOwnPassword replaces the password of id after checking the old one.
func (s *Service) ChangeOwnPassword(ctx context.Context, id int64, oldPassword, newPassword string) error {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if u == nil {
		return apperr.NotFound("user", id)
	}
	if !CheckPasswordHash(oldPassword, u.PasswordHash) {
		return apperr.Invalid("old_password", "current password is incorrect")
	}
	return s.ChangePassword(ctx, id, newPassword)
}

// Delete removes the account with id. actorID is the caller, who may not
// delete their own account.
func (s *Service) Delete(ctx context.Context, actorID, id int64) error {
	if actorID == id {
		return apperr.Invalid("user", "you cannot delete your own account")
	}
	ok, err := s.store.DeleteUser(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("user", id)
	}
	s.forgetID(id)
	log.Info().Int64("user_id", id).Msg("User deleted")
	return nil
}

// Authenticate returns the account matching username and password.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*store.User, error) {
	digest := sha256.Sum256([]byte(password))
	now := s.now()

	s.mu.Lock()
	v, ok := s.verified[username]
	s.mu.Unlock()
	if ok && v.digest == digest && now.Before(v.expires) {
		u := v.user
		return &u, nil
	}

	u, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if u == nil || !CheckPasswordHash(password, u.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	s.mu.Lock()
	s.verified[username] = verified{user: *u, digest: digest, expires: now.Add(verifiedTTL)}
	s.mu.Unlock()
	return u, nil
}

// EnsureAdmin creates the admin account, or resets its password when it no
// longer matches password.
func (s *Service) EnsureAdmin(ctx context.Context, password string) error {
	if err := ValidatePassword(password); err != nil {
		return err
	}
	u, err := s.store.GetUserByUsername(ctx, AdminUsername)
	if err != nil {
		return err
	}
	if u == nil {
		_, err := s.Create(ctx, AdminUsername, password, RoleAdmin)
		return err
	}
	if CheckPasswordHash(password, u.PasswordHash) {
		return nil
	}
	log.Warn().Msg("Admin password differs from configuration, resetting")
	return s.ChangePassword(ctx, u.ID, password)
}

func (s *Service) forgetID(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, v := range s.verified {
		if v.user.ID == id {
			delete(s.verified, name)
		}
	}
}
