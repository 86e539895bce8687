package metadata

import (
	"sort"
	"strings"
)

// Module ids as assigned by the identity authority.
const (
	SystemModuleID = 1
	PPEModuleID    = 2
)

// unorderedModule sorts modules without an explicit order last.
const unorderedModule = 999

// ModuleConfig describes how a module is presented in the portal.
type ModuleConfig struct {
	ID          int           `json:"id"`
	Key         string        `json:"key"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Path        string        `json:"path"`
	Icon        string        `json:"icon,omitempty"`
	Order       int           `json:"order,omitempty"`
	IsDefault   bool          `json:"isDefault,omitempty"`
	Routes      []RouteConfig `json:"routes,omitempty"`
}

// Clone returns a deep copy of the module and its routes.
func (m ModuleConfig) Clone() ModuleConfig {
	m.Routes = cloneRoutes(m.Routes)
	return m
}

func (m ModuleConfig) sortKey() int {
	if m.Order == 0 {
		return unorderedModule
	}
	return m.Order
}

var modules = []ModuleConfig{
	{
		ID:          SystemModuleID,
		Key:         "system",
		Name:        "SYSTEM",
		Description: "Administração do sistema",
		Path:        "/system",
		Icon:        "settings",
		Order:       10,
		IsDefault:   true,
	},
	{
		ID:          PPEModuleID,
		Key:         "ppe",
		Name:        "PPE",
		Description: "Módulo de Prestação de Contas e Projetos",
		Path:        "/ppe",
		Icon:        "briefcase",
		Order:       20,
		Routes: []RouteConfig{
			{
				Path:        "/ppe",
				Title:       "PPE Dashboard",
				Requirement: Requirement{RequiredPermissions: []string{"ppe:access"}},
			},
			{
				Path:        "/ppe/reports",
				Title:       "Relatórios PPE",
				Requirement: Requirement{RequiredPermissions: []string{"ppe:reports:view"}},
			},
		},
	},
}

// ModuleDirectory is a read-only view over a module table.
type ModuleDirectory struct {
	modules []ModuleConfig
}

// NewModuleDirectory wraps a deep copy of the given table. Every accessor
// hands out copies as well.
func NewModuleDirectory(table []ModuleConfig) *ModuleDirectory {
	cp := make([]ModuleConfig, len(table))
	for i, m := range table {
		cp[i] = m.Clone()
	}
	return &ModuleDirectory{modules: cp}
}

// DefaultModuleDirectory returns the directory of compiled-in modules.
func DefaultModuleDirectory() *ModuleDirectory {
	return NewModuleDirectory(modules)
}

// ByID returns the module with the given numeric id, or nil.
func (d *ModuleDirectory) ByID(id int) *ModuleConfig {
	for i := range d.modules {
		if d.modules[i].ID == id {
			m := d.modules[i].Clone()
			return &m
		}
	}
	return nil
}

// ByKey returns the module with the given route key, or nil.
func (d *ModuleDirectory) ByKey(key string) *ModuleConfig {
	for i := range d.modules {
		if d.modules[i].Key == key {
			m := d.modules[i].Clone()
			return &m
		}
	}
	return nil
}

// All returns every module in display order.
func (d *ModuleDirectory) All() []ModuleConfig {
	out := make([]ModuleConfig, len(d.modules))
	for i, m := range d.modules {
		out[i] = m.Clone()
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].sortKey() < out[j].sortKey()
	})
	return out
}

// Default returns the first module flagged as default, or nil.
func (d *ModuleDirectory) Default() *ModuleConfig {
	for i := range d.modules {
		if d.modules[i].IsDefault {
			m := d.modules[i].Clone()
			return &m
		}
	}
	return nil
}

// ForUser resolves the user's available modules to their configs, keeping the
// user's order. Modules unknown to the directory are dropped.
func (d *ModuleDirectory) ForUser(u *User) []ModuleConfig {
	if u == nil {
		return nil
	}
	out := make([]ModuleConfig, 0, len(u.AvailableModules))
	for _, am := range u.AvailableModules {
		if m := d.ByID(am.ID); m != nil {
			out = append(out, *m)
		}
	}
	return out
}

// ForPath returns the module whose base path equals path or is a segment
// prefix of it.
func (d *ModuleDirectory) ForPath(path string) *ModuleConfig {
	if path == "" {
		return nil
	}
	for _, m := range d.All() {
		if path == m.Path || strings.HasPrefix(path, m.Path+"/") {
			return &m
		}
	}
	return nil
}

// FindRoute returns the module route registered for exactly path, or nil.
func (d *ModuleDirectory) FindRoute(path string) *RouteConfig {
	for _, m := range d.modules {
		if r := findRoute(m.Routes, path); r != nil {
			return r
		}
	}
	return nil
}
