// Package identity talks to the identity authority that owns users, issues
// session tokens and serves profiles.
package identity

import (
	"context"
	"errors"
	"fmt"

	"portal-gateway/internal/metadata"
	"portal-gateway/internal/validation"
)

var (
	// ErrUnauthorized means the authority rejected the credentials or token.
	ErrUnauthorized = errors.New("identity: unauthorized")
	// ErrInvalidProfile means the authority returned a profile that failed validation.
	ErrInvalidProfile = errors.New("identity: invalid profile")
	// ErrRoleNotAvailable means the requested role is not offered in the module.
	ErrRoleNotAvailable = errors.New("identity: role not available")
)

// Authority is the identity authority as seen by the gateway.
type Authority interface {
	// Login exchanges a CPF and password for a session token.
	Login(ctx context.Context, cpf, password string) (string, error)
	// Profile returns the full user profile for a session token.
	Profile(ctx context.Context, token string) (*metadata.User, error)
	// SelectRole switches the session to a module/role pair and returns the
	// replacement token.
	SelectRole(ctx context.Context, token string, moduleID, roleID int) (string, error)
}

// ValidateProfile rejects profiles missing the fields the evaluators rely on.
func ValidateProfile(u *metadata.User) error {
	if u == nil {
		return ErrInvalidProfile
	}
	if err := validation.Struct(u); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	return nil
}
