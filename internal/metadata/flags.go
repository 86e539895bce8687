package metadata

import (
	"slices"
	"sort"
)

// Registered feature flag keys.
const (
	FlagEnableAnalytics        = "ENABLE_ANALYTICS"
	FlagDarkMode               = "DARK_MODE"
	FlagNewDashboardUI         = "NEW_DASHBOARD_UI"
	FlagEnableSensitiveReports = "ENABLE_SENSITIVE_REPORTS"
	FlagExperimentalFeatures   = "EXPERIMENTAL_FEATURES"
)

// FlagAttribute is a strict-equality attribute gate of a feature flag.
type FlagAttribute struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// FeatureFlag is a static feature flag definition.
type FeatureFlag struct {
	Key                 string          `json:"key"`
	DefaultValue        bool            `json:"defaultValue"`
	Description         string          `json:"description"`
	RequiredRoles       []string        `json:"requiredRoles,omitempty"`
	RequiredPermissions []string        `json:"requiredPermissions,omitempty"`
	RequiredAttributes  []FlagAttribute `json:"requiredAttributes,omitempty"`
}

var featureFlags = map[string]FeatureFlag{
	FlagEnableAnalytics: {
		Key:           FlagEnableAnalytics,
		DefaultValue:  false,
		Description:   "Enable analytics dashboard",
		RequiredRoles: []string{"admin", "analyst"},
	},
	FlagDarkMode: {
		Key:          FlagDarkMode,
		DefaultValue: true,
		Description:  "Enable dark mode for all users",
	},
	FlagNewDashboardUI: {
		Key:           FlagNewDashboardUI,
		DefaultValue:  false,
		Description:   "Enable new dashboard UI",
		RequiredRoles: []string{"admin", "beta-tester"},
	},
	FlagEnableSensitiveReports: {
		Key:                 FlagEnableSensitiveReports,
		DefaultValue:        false,
		Description:         "Enable access to sensitive reports",
		RequiredRoles:       []string{"admin", "compliance-officer"},
		RequiredPermissions: []string{"read:sensitive-data"},
	},
	FlagExperimentalFeatures: {
		Key:                FlagExperimentalFeatures,
		DefaultValue:       false,
		Description:        "Enable experimental features",
		RequiredAttributes: []FlagAttribute{{Key: "beta", Value: true}},
	},
}

func (f FeatureFlag) clone() FeatureFlag {
	f.RequiredRoles = slices.Clone(f.RequiredRoles)
	f.RequiredPermissions = slices.Clone(f.RequiredPermissions)
	f.RequiredAttributes = slices.Clone(f.RequiredAttributes)
	return f
}

// FeatureFlags returns a copy of the compiled-in flag table.
func FeatureFlags() map[string]FeatureFlag {
	out := make(map[string]FeatureFlag, len(featureFlags))
	for k, f := range featureFlags {
		out[k] = f.clone()
	}
	return out
}

// GetFeatureFlag returns a copy of the flag definition and whether it is
// registered.
func GetFeatureFlag(key string) (FeatureFlag, bool) {
	f, ok := featureFlags[key]
	if !ok {
		return FeatureFlag{}, false
	}
	return f.clone(), true
}

// FeatureFlagKeys returns all registered keys in lexical order.
func FeatureFlagKeys() []string {
	keys := make([]string, 0, len(featureFlags))
	for k := range featureFlags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
