package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"portal-gateway/internal/metadata"
)

func subject(roles []string, perms []string, attrs map[string]any) *FlagSubject {
	return &FlagSubject{
		Roles:       roles,
		Permissions: perms,
		Attribute: func(key string) (any, bool) {
			v, ok := attrs[key]
			return v, ok
		},
	}
}

// TestIsEnabled_DefaultFalseNeverSwitchedOnByEligibility pins the documented
// behavior: passing every gate yields the default value, not true.
func TestIsEnabled_DefaultFalseNeverSwitchedOnByEligibility(t *testing.T) {
	fe := NewFlagEvaluator(nil)
	admin := subject([]string{"admin"}, []string{"read:sensitive-data"}, nil)

	assert.False(t, fe.IsEnabled(metadata.FlagEnableAnalytics, admin, nil))
	assert.False(t, fe.IsEnabled(metadata.FlagEnableSensitiveReports, admin, nil))
	assert.True(t, fe.IsEnabled(metadata.FlagDarkMode, admin, nil))
}

func TestIsEnabled_Overrides(t *testing.T) {
	fe := NewFlagEvaluator(nil)
	viewer := subject([]string{"viewer"}, nil, nil)

	on := map[string]bool{metadata.FlagEnableAnalytics: true}
	assert.True(t, fe.IsEnabled(metadata.FlagEnableAnalytics, viewer, on), "override beats the role gate")
	assert.True(t, fe.IsEnabled(metadata.FlagEnableAnalytics, nil, on))

	off := map[string]bool{metadata.FlagDarkMode: false}
	assert.False(t, fe.IsEnabled(metadata.FlagDarkMode, viewer, off))

	assert.True(t, fe.IsEnabled("NOT_REGISTERED", viewer, map[string]bool{"NOT_REGISTERED": true}),
		"overrides apply before the registration check")
}

func TestIsEnabled_UnregisteredAndAnonymous(t *testing.T) {
	fe := NewFlagEvaluator(nil)
	assert.False(t, fe.IsEnabled("NOT_REGISTERED", nil, nil))
	assert.True(t, fe.IsEnabled(metadata.FlagDarkMode, nil, nil))
	assert.False(t, fe.IsEnabled(metadata.FlagExperimentalFeatures, nil, nil))
}

func TestIsEnabled_Gates(t *testing.T) {
	fe := NewFlagEvaluator(map[string]metadata.FeatureFlag{
		"ROLES": {Key: "ROLES", DefaultValue: true, RequiredRoles: []string{"admin", "beta-tester"}},
		"PERMS": {Key: "PERMS", DefaultValue: true, RequiredPermissions: []string{"a", "b"}},
		"ATTRS": {Key: "ATTRS", DefaultValue: true, RequiredAttributes: []metadata.FlagAttribute{{Key: "beta", Value: true}}},
		"LEVEL": {Key: "LEVEL", DefaultValue: true, RequiredAttributes: []metadata.FlagAttribute{{Key: "level", Value: 2}}},
	})

	tests := []struct {
		name string
		key  string
		subj *FlagSubject
		want bool
	}{
		{"any role matches", "ROLES", subject([]string{"beta-tester"}, nil, nil), true},
		{"no role matches", "ROLES", subject([]string{"viewer"}, nil, nil), false},
		{"no roles at all", "ROLES", subject(nil, nil, nil), false},
		{"all permissions held", "PERMS", subject(nil, []string{"b", "a", "c"}, nil), true},
		{"one permission missing", "PERMS", subject(nil, []string{"a"}, nil), false},
		{"attribute equal", "ATTRS", subject(nil, nil, map[string]any{"beta": true}), true},
		{"attribute string is not bool", "ATTRS", subject(nil, nil, map[string]any{"beta": "true"}), false},
		{"attribute missing", "ATTRS", subject(nil, nil, nil), false},
		{"numeric attribute from JSON", "LEVEL", subject(nil, nil, map[string]any{"level": float64(2)}), true},
		{"numeric attribute as string", "LEVEL", subject(nil, nil, map[string]any{"level": "2"}), false},
		{"nil attribute resolver", "ATTRS", &FlagSubject{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, fe.IsEnabled(tt.key, tt.subj, nil))
		})
	}
}

func TestEvaluate_CoversRegistry(t *testing.T) {
	fe := NewFlagEvaluator(nil)
	got := fe.Evaluate(nil, nil)
	assert.Len(t, got, len(metadata.FeatureFlags()))
	assert.True(t, got[metadata.FlagDarkMode])
	assert.False(t, got[metadata.FlagNewDashboardUI])
}

func TestSubjectFromUser(t *testing.T) {
	assert.Nil(t, SubjectFromUser(nil))

	s := SubjectFromUser(&metadata.User{
		CurrentRole:       &metadata.Role{ID: 1, Name: "analyst"},
		DirectPermissions: []metadata.Permission{{Name: "read:reports"}},
		Attributes:        map[string]any{"beta": true},
	})
	assert.Equal(t, []string{"analyst"}, s.Roles)
	assert.Equal(t, []string{"read:reports"}, s.Permissions)
	v, ok := s.Attribute("beta")
	assert.True(t, ok)
	assert.Equal(t, true, v)
}
