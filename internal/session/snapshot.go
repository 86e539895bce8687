// Package session defines the part of the session state that may be persisted
// on the client between page loads.
package session

import (
	"encoding/json"
	"fmt"
	"time"

	"portal-gateway/internal/metadata"
	"portal-gateway/internal/validation"
)

// Snapshot is the persisted subset of a session. Permissions, attributes and
// groups are deliberately absent: they are always re-fetched from the
// identity authority.
type Snapshot struct {
	UserID        string           `json:"user_id" validate:"required"`
	CPF           string           `json:"cpf,omitempty"`
	CurrentModule *metadata.Module `json:"current_module,omitempty"`
	CurrentRole   *metadata.Role   `json:"current_role,omitempty"`
	ModuleIDs     []int            `json:"module_ids" validate:"dive,gt=0"`
	SavedAt       time.Time        `json:"saved_at" validate:"required"`
}

// FromUser takes a snapshot of a profile.
func FromUser(u *metadata.User, now time.Time) Snapshot {
	s := Snapshot{
		UserID:    u.ID,
		CPF:       u.CPF,
		ModuleIDs: u.ModuleIDs(),
		SavedAt:   now.UTC(),
	}
	if u.CurrentModule != nil {
		m := *u.CurrentModule
		s.CurrentModule = &m
	}
	if u.CurrentRole != nil {
		r := *u.CurrentRole
		s.CurrentRole = &r
	}
	return s
}

// Encode serializes the snapshot.
func (s Snapshot) Encode() ([]byte, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return b, nil
}

// Decode rehydrates a snapshot and validates it. A snapshot older than maxAge
// is rejected; maxAge <= 0 disables the age check.
func Decode(data []byte, now time.Time, maxAge time.Duration) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if err := validation.Struct(s); err != nil {
		return Snapshot{}, fmt.Errorf("invalid snapshot: %w", err)
	}
	if s.CurrentRole != nil && s.CurrentModule == nil {
		return Snapshot{}, fmt.Errorf("invalid snapshot: role %q without module", s.CurrentRole.Name)
	}
	if maxAge > 0 && now.Sub(s.SavedAt) > maxAge {
		return Snapshot{}, fmt.Errorf("snapshot expired at %s", s.SavedAt.Add(maxAge).Format(time.RFC3339))
	}
	return s, nil
}

// Matches reports whether the snapshot still describes the given profile's
// session. A mismatch means the client must discard its persisted state.
func (s Snapshot) Matches(u *metadata.User) bool {
	if u == nil || s.UserID != u.ID {
		return false
	}
	if (s.CurrentModule == nil) != (u.CurrentModule == nil) {
		return false
	}
	if s.CurrentModule != nil && s.CurrentModule.ID != u.CurrentModule.ID {
		return false
	}
	if (s.CurrentRole == nil) != (u.CurrentRole == nil) {
		return false
	}
	return s.CurrentRole == nil || s.CurrentRole.ID == u.CurrentRole.ID
}
