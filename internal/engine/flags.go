package engine

import (
	"slices"

	"portal-gateway/internal/metadata"
)

// FlagSubject is the view of a user that feature flag eligibility is checked
// against.
type FlagSubject struct {
	Roles       []string
	Permissions []string
	Attribute   func(key string) (any, bool)
}

// SubjectFromUser builds the flag subject for a profile. The user's roles are
// the role they currently act as. A nil user yields a nil subject.
func SubjectFromUser(u *metadata.User) *FlagSubject {
	if u == nil {
		return nil
	}
	var roles []string
	if u.CurrentRole != nil {
		roles = []string{u.CurrentRole.Name}
	}
	return &FlagSubject{
		Roles:       roles,
		Permissions: u.PermissionNames(),
		Attribute:   u.Attribute,
	}
}

// FlagEvaluator decides whether feature flags are active.
type FlagEvaluator struct {
	flags map[string]metadata.FeatureFlag
}

// NewFlagEvaluator returns an evaluator over the given flag table. A nil
// table means the compiled-in registry.
func NewFlagEvaluator(flags map[string]metadata.FeatureFlag) *FlagEvaluator {
	if flags == nil {
		flags = metadata.FeatureFlags()
	}
	return &FlagEvaluator{flags: flags}
}

// IsEnabled evaluates a flag in this order: override, registration, anonymous
// default, role gate (any), permission gate (all), attribute gate (all, strict
// equality). A subject passing every gate gets the flag's default value, so a
// flag that defaults to false is never switched on by eligibility alone.
func (fe *FlagEvaluator) IsEnabled(key string, subject *FlagSubject, overrides map[string]bool) bool {
	if v, ok := overrides[key]; ok {
		return v
	}

	flag, ok := fe.flags[key]
	if !ok {
		return false
	}

	if subject == nil {
		return flag.DefaultValue
	}

	if len(flag.RequiredRoles) > 0 {
		if !slices.ContainsFunc(flag.RequiredRoles, func(r string) bool {
			return slices.Contains(subject.Roles, r)
		}) {
			return false
		}
	}

	if len(flag.RequiredPermissions) > 0 {
		for _, p := range flag.RequiredPermissions {
			if !slices.Contains(subject.Permissions, p) {
				return false
			}
		}
	}

	if len(flag.RequiredAttributes) > 0 {
		for _, attr := range flag.RequiredAttributes {
			if subject.Attribute == nil {
				return false
			}
			val, found := subject.Attribute(attr.Key)
			if !found || !valuesEqual(val, attr.Value) {
				return false
			}
		}
	}

	return flag.DefaultValue
}

// Evaluate returns the state of every registered flag for the subject.
func (fe *FlagEvaluator) Evaluate(subject *FlagSubject, overrides map[string]bool) map[string]bool {
	out := make(map[string]bool, len(fe.flags))
	for key := range fe.flags {
		out[key] = fe.IsEnabled(key, subject, overrides)
	}
	return out
}
