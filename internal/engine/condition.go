package engine

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"portal-gateway/internal/metadata"
)

// ConditionCache holds compiled route condition programs keyed by source.
type ConditionCache struct {
	programs sync.Map // string -> *vm.Program
}

func NewConditionCache() *ConditionCache {
	return &ConditionCache{}
}

// CompileCondition compiles a route condition into a boolean expr-lang program.
func CompileCondition(expression string) (*vm.Program, error) {
	prog, err := expr.Compile(expression, expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile condition: %w", err)
	}
	return prog, nil
}

// Program returns the compiled program for expression, compiling it on first use.
func (cc *ConditionCache) Program(expression string) (*vm.Program, error) {
	if p, ok := cc.programs.Load(expression); ok {
		return p.(*vm.Program), nil
	}
	prog, err := CompileCondition(expression)
	if err != nil {
		return nil, err
	}
	actual, _ := cc.programs.LoadOrStore(expression, prog)
	return actual.(*vm.Program), nil
}

// ConditionEnv builds the expression environment for a user: the profile
// itself plus flattened attributes, role names, permission names and module ids.
func ConditionEnv(u *metadata.User) map[string]any {
	attrs := make(map[string]any)
	for _, g := range u.Groups {
		for k, v := range g {
			if _, exists := attrs[k]; !exists {
				attrs[k] = v
			}
		}
	}
	for k, v := range u.Attributes {
		attrs[k] = v
	}
	for _, k := range []string{"id", "cpf", "email", "is_active", "current_module_id", "current_role"} {
		if v, ok := u.Attribute(k); ok {
			attrs[k] = v
		}
	}

	var roles []string
	if u.CurrentRole != nil {
		roles = append(roles, u.CurrentRole.Name)
	}

	return map[string]any{
		"user":        u,
		"attributes":  attrs,
		"roles":       roles,
		"permissions": u.PermissionNames(),
		"modules":     u.ModuleIDs(),
	}
}

// checkCondition fails closed on compile and runtime errors.
func (e *Evaluator) checkCondition(user *metadata.User, expression string) bool {
	if expression == "" {
		return true
	}
	prog, err := e.conditions.Program(expression)
	if err != nil {
		return false
	}
	result, err := expr.Run(prog, ConditionEnv(user))
	if err != nil {
		return false
	}
	ok, _ := result.(bool)
	return ok
}
