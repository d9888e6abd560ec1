package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"vaultdesk.io/internal/ids"
)

// HashPassword hashes a plaintext password using bcrypt.
func HashPassword(password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares a plaintext password with the stored hash.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return errors.New("password hash is empty")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// CreateAdminUser registers an operator account. Used by seeding and the
// admin-users surface.
func (s *Service) CreateAdminUser(ctx context.Context, email, password, status string) (*AdminUser, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	status = strings.TrimSpace(strings.ToLower(status))
	if status == "" {
		status = UserStatusActive
	}
	if status != UserStatusActive && status != UserStatusDisabled {
		return nil, fmt.Errorf("%w: unsupported status %s", ErrInvalidInput, status)
	}
	hash, err := HashPassword(strings.TrimSpace(password))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInput, err)
	}
	now := s.now().UTC()
	user := &AdminUser{
		ID:           ids.New(),
		Email:        email,
		PasswordHash: hash,
		Status:       status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Users(ctx).Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Authenticate verifies operator credentials. Every failure mode collapses
// into ErrUnauthorized so callers cannot distinguish unknown accounts from
// wrong passwords.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*AdminUser, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, ErrUnauthorized
	}
	user, err := s.store.Users(ctx).FindByEmail(ctx, email)
	if err != nil {
		return nil, ErrUnauthorized
	}
	if user.Status != UserStatusActive {
		return nil, ErrUnauthorized
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return nil, ErrUnauthorized
	}
	return user, nil
}
