package metadata

// Module is a portal module as returned by the identity authority.
type Module struct {
	ID   int    `json:"id" validate:"gt=0"`
	Name string `json:"name"`
}

// Role is a role a user may act as inside a module.
type Role struct {
	ID   int    `json:"id" validate:"gt=0"`
	Name string `json:"name" validate:"required"`
}

// ModuleWithRoles is a module the user may switch into, with the roles available there.
type ModuleWithRoles struct {
	ID    int    `json:"id" validate:"gt=0"`
	Name  string `json:"name"`
	Roles []Role `json:"roles" validate:"dive"`
}

type PermissionDetails struct {
	Type     string `json:"type"`
	Action   string `json:"action"`
	Resource string `json:"resource"`
}

// Permission is a direct grant held by the user.
type Permission struct {
	ID          int               `json:"id"`
	Name        string            `json:"name" validate:"required"`
	Description string            `json:"description"`
	Details     PermissionDetails `json:"details"`
	CreatedAt   string            `json:"created_at"`
	UpdatedAt   string            `json:"updated_at"`
	Modules     []Module          `json:"modules"`
}

// User is the full profile returned by the identity authority's /me endpoint.
// It is read-only to the gateway.
type User struct {
	ID        string `json:"id" validate:"required"`
	CPF       string `json:"cpf"`
	Email     string `json:"email" validate:"required,email"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
	IsActive  bool   `json:"is_active"`

	CurrentModule     *Module           `json:"current_module"`
	CurrentRole       *Role             `json:"current_role"`
	Groups            []map[string]any  `json:"groups"`
	DirectPermissions []Permission      `json:"direct_permissions" validate:"dive"`
	AvailableModules  []ModuleWithRoles `json:"available_modules" validate:"dive"`
	Attributes        map[string]any    `json:"attributes,omitempty"`
}

// HasRole checks whether the user is currently acting as the given role.
func (u *User) HasRole(role string) bool {
	return u.CurrentRole != nil && u.CurrentRole.Name == role
}

// HasModule checks whether the module is among the user's available modules.
func (u *User) HasModule(moduleID int) bool {
	for _, m := range u.AvailableModules {
		if m.ID == moduleID {
			return true
		}
	}
	return false
}

// HasPermission checks for a direct permission by name.
func (u *User) HasPermission(name string) bool {
	for _, p := range u.DirectPermissions {
		if p.Name == name {
			return true
		}
	}
	return false
}

// PermissionNames returns the names of all direct permissions.
func (u *User) PermissionNames() []string {
	names := make([]string, len(u.DirectPermissions))
	for i, p := range u.DirectPermissions {
		names[i] = p.Name
	}
	return names
}

// ModuleIDs returns the ids of the available modules, in order.
func (u *User) ModuleIDs() []int {
	ids := make([]int, len(u.AvailableModules))
	for i, m := range u.AvailableModules {
		ids[i] = m.ID
	}
	return ids
}

// AvailableRoles returns the roles available in the given module, or in the
// current module when moduleID is 0.
func (u *User) AvailableRoles(moduleID int) []Role {
	if moduleID == 0 {
		if u.CurrentModule == nil {
			return nil
		}
		moduleID = u.CurrentModule.ID
	}
	for _, m := range u.AvailableModules {
		if m.ID == moduleID {
			return m.Roles
		}
	}
	return nil
}

// Attribute resolves an ABAC attribute. Built-in profile fields win over the
// attribute bag, which wins over groups.
func (u *User) Attribute(key string) (any, bool) {
	switch key {
	case "id":
		return u.ID, true
	case "cpf":
		return u.CPF, true
	case "email":
		return u.Email, true
	case "is_active":
		return u.IsActive, true
	case "current_module_id":
		if u.CurrentModule == nil {
			return nil, false
		}
		return u.CurrentModule.ID, true
	case "current_role":
		if u.CurrentRole == nil {
			return nil, false
		}
		return u.CurrentRole.Name, true
	}
	if v, ok := u.Attributes[key]; ok {
		return v, true
	}
	for _, g := range u.Groups {
		if v, ok := g[key]; ok {
			return v, true
		}
	}
	return nil, false
}
