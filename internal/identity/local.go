package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/crypto/bcrypt"

	"portal-gateway/internal/metadata"
	"portal-gateway/internal/validation"
)

// SessionClaims is what a session token says about the session.
type SessionClaims struct {
	UserID   string
	Role     string
	ModuleID int
}

// TokenCodec issues and verifies session tokens for the local authority.
type TokenCodec interface {
	Issue(claims SessionClaims) (string, error)
	Parse(token string) (SessionClaims, error)
}

// LocalUser is a development account served by the local authority.
type LocalUser struct {
	CPF          string        `json:"cpf"`
	PasswordHash string        `json:"password_hash"`
	Profile      metadata.User `json:"profile"`
}

// Local is an in-process authority for development and tests. It is not
// meant to replace the real identity service.
type Local struct {
	users  map[string]*LocalUser // keyed by normalized CPF
	byID   map[string]*LocalUser
	tokens TokenCodec
}

// NewLocal builds a local authority. Every profile is validated up front.
func NewLocal(users []LocalUser, tokens TokenCodec) (*Local, error) {
	l := &Local{
		users:  make(map[string]*LocalUser, len(users)),
		byID:   make(map[string]*LocalUser, len(users)),
		tokens: tokens,
	}
	for i := range users {
		u := &users[i]
		if err := ValidateProfile(&u.Profile); err != nil {
			return nil, fmt.Errorf("local user %s: %w", u.Profile.ID, err)
		}
		cpf := validation.NormalizeCPF(u.CPF)
		if cpf == "" {
			cpf = validation.NormalizeCPF(u.Profile.CPF)
		}
		l.users[cpf] = u
		l.byID[u.Profile.ID] = u
	}
	return l, nil
}

// LoadLocalUsers reads a JSON array of LocalUser from path.
func LoadLocalUsers(path string) ([]LocalUser, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read local users: %w", err)
	}
	var users []LocalUser
	if err := json.Unmarshal(b, &users); err != nil {
		return nil, fmt.Errorf("parse local users: %w", err)
	}
	return users, nil
}

func (l *Local) Login(_ context.Context, cpf, password string) (string, error) {
	u, ok := l.users[validation.NormalizeCPF(cpf)]
	if !ok || !CheckPassword(password, u.PasswordHash) {
		return "", ErrUnauthorized
	}
	if !u.Profile.IsActive {
		return "", ErrUnauthorized
	}

	claims := SessionClaims{UserID: u.Profile.ID}
	if u.Profile.CurrentRole != nil {
		claims.Role = u.Profile.CurrentRole.Name
	}
	if u.Profile.CurrentModule != nil {
		claims.ModuleID = u.Profile.CurrentModule.ID
	}
	return l.tokens.Issue(claims)
}

// Profile returns a copy of the stored profile with the current module and
// role taken from the token.
func (l *Local) Profile(_ context.Context, token string) (*metadata.User, error) {
	claims, err := l.tokens.Parse(token)
	if err != nil {
		return nil, ErrUnauthorized
	}
	u, ok := l.byID[claims.UserID]
	if !ok {
		return nil, ErrUnauthorized
	}

	profile := u.Profile
	profile.CurrentModule = nil
	profile.CurrentRole = nil
	for _, m := range profile.AvailableModules {
		if m.ID != claims.ModuleID {
			continue
		}
		profile.CurrentModule = &metadata.Module{ID: m.ID, Name: m.Name}
		for _, r := range m.Roles {
			if r.Name == claims.Role {
				role := r
				profile.CurrentRole = &role
			}
		}
	}
	return &profile, nil
}

// SelectRole only accepts a role that belongs to the chosen module.
func (l *Local) SelectRole(_ context.Context, token string, moduleID, roleID int) (string, error) {
	claims, err := l.tokens.Parse(token)
	if err != nil {
		return "", ErrUnauthorized
	}
	u, ok := l.byID[claims.UserID]
	if !ok {
		return "", ErrUnauthorized
	}
	for _, m := range u.Profile.AvailableModules {
		if m.ID != moduleID {
			continue
		}
		for _, r := range m.Roles {
			if r.ID == roleID {
				return l.tokens.Issue(SessionClaims{UserID: claims.UserID, Role: r.Name, ModuleID: m.ID})
			}
		}
	}
	return "", fmt.Errorf("%w: role %d in module %d", ErrRoleNotAvailable, roleID, moduleID)
}

// HashPassword hashes a plaintext password with bcrypt.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword compares a plaintext password against a bcrypt hash.
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
