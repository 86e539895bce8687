package metadata

import "slices"

// Attribute comparison operators. An empty operator means OpEquals.
const (
	OpEquals      = "equals"
	OpContains    = "contains"
	OpGreaterThan = "greaterThan"
	OpLessThan    = "lessThan"
)

// AttributeRequirement is a single ABAC comparison against a user attribute.
type AttributeRequirement struct {
	Key      string `json:"key"`
	Value    any    `json:"value"`
	Operator string `json:"operator,omitempty"`
}

// Requirement bundles the access constraints of a route or UI element.
type Requirement struct {
	RequiredRoles       []string               `json:"requiredRoles,omitempty"`
	RequiredModules     []int                  `json:"requiredModules,omitempty"`
	RequiredPermissions []string               `json:"requiredPermissions,omitempty"`
	RequiredAttributes  []AttributeRequirement `json:"requiredAttributes,omitempty"`
	FeatureFlags        []string               `json:"featureFlags,omitempty"`
	StrictMode          bool                   `json:"strictMode,omitempty"`
	// Condition is an optional expr-lang boolean expression over the user.
	Condition string `json:"condition,omitempty"`
}

// IsOpen reports whether no constraint is declared in any dimension.
func (r Requirement) IsOpen() bool {
	return len(r.RequiredRoles) == 0 &&
		len(r.RequiredModules) == 0 &&
		len(r.RequiredPermissions) == 0 &&
		len(r.RequiredAttributes) == 0 &&
		len(r.FeatureFlags) == 0 &&
		r.Condition == ""
}

func (r Requirement) clone() Requirement {
	r.RequiredRoles = slices.Clone(r.RequiredRoles)
	r.RequiredModules = slices.Clone(r.RequiredModules)
	r.RequiredPermissions = slices.Clone(r.RequiredPermissions)
	r.RequiredAttributes = slices.Clone(r.RequiredAttributes)
	r.FeatureFlags = slices.Clone(r.FeatureFlags)
	return r
}

// RouteConfig is an entry of the route access registry. Children carry their
// own requirements and do not inherit the parent's.
type RouteConfig struct {
	Path  string `json:"path"`
	Title string `json:"title"`
	Icon  string `json:"icon,omitempty"`
	Requirement
	Children []RouteConfig `json:"children,omitempty"`
}

var routes = []RouteConfig{
	{
		Path:  "/dashboard",
		Title: "Dashboard",
		Icon:  "dashboard",
	},
	{
		Path:  "/users",
		Title: "Usuários",
		Icon:  "users",
		Requirement: Requirement{
			RequiredRoles:   []string{"admin"},
			RequiredModules: []int{SystemModuleID},
		},
	},
	{
		Path:  "/reports",
		Title: "Relatórios",
		Icon:  "chart",
		Requirement: Requirement{
			RequiredPermissions: []string{"read:reports"},
		},
		Children: []RouteConfig{
			{
				Path:  "/reports/sales",
				Title: "Vendas",
				Requirement: Requirement{
					RequiredPermissions: []string{"read:sales"},
				},
			},
			{
				Path:  "/reports/analytics",
				Title: "Analytics",
				Requirement: Requirement{
					FeatureFlags: []string{FlagEnableAnalytics},
				},
			},
			{
				Path:  "/reports/sensitive",
				Title: "Relatórios Sensíveis",
				Requirement: Requirement{
					RequiredRoles:       []string{"admin", "compliance-officer"},
					RequiredPermissions: []string{"read:sensitive-data"},
					Condition:           `attributes.clearance >= 2`,
					StrictMode:          true,
				},
			},
		},
	},
}

// Clone returns a deep copy of the entry and its children.
func (r RouteConfig) Clone() RouteConfig {
	r.Requirement = r.Requirement.clone()
	r.Children = cloneRoutes(r.Children)
	return r
}

func cloneRoutes(table []RouteConfig) []RouteConfig {
	if table == nil {
		return nil
	}
	out := make([]RouteConfig, len(table))
	for i, r := range table {
		out[i] = r.Clone()
	}
	return out
}

// AllRoutes returns a copy of the top-level route table.
func AllRoutes() []RouteConfig {
	return cloneRoutes(routes)
}

// FindRoute looks a path up among the top-level routes, then among their direct
// children. Nil means the path is not registered and is treated as public. The
// result is a copy.
func FindRoute(path string) *RouteConfig {
	return findRoute(routes, path)
}

func findRoute(table []RouteConfig, path string) *RouteConfig {
	for i := range table {
		if table[i].Path == path {
			r := table[i].Clone()
			return &r
		}
	}
	for i := range table {
		for j := range table[i].Children {
			if table[i].Children[j].Path == path {
				r := table[i].Children[j].Clone()
				return &r
			}
		}
	}
	return nil
}
