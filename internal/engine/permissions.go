package engine

import (
	"reflect"
	"slices"

	"portal-gateway/internal/metadata"
)

// LenientPolicy selects how a non-strict requirement combines its dimensions.
type LenientPolicy string

const (
	// LenientLiteral requires every populated dimension to pass. This is the
	// same net result as strict mode and is the default.
	LenientLiteral LenientPolicy = "literal"
	// LenientAny grants access when at least one populated dimension passes.
	LenientAny LenientPolicy = "any"
)

// ParseLenientPolicy maps a config value to a policy. Unknown values report false.
func ParseLenientPolicy(s string) (LenientPolicy, bool) {
	switch LenientPolicy(s) {
	case "", LenientLiteral:
		return LenientLiteral, true
	case LenientAny:
		return LenientAny, true
	}
	return "", false
}

// Evaluator is the fine-grained RBAC/ABAC permission evaluator. It is safe for
// concurrent use.
type Evaluator struct {
	flags      *FlagEvaluator
	overrides  map[string]bool
	conditions *ConditionCache
	lenient    LenientPolicy
}

// NewEvaluator creates an Evaluator. A nil flag evaluator means the
// compiled-in flag registry. Overrides apply to EvaluateFlags and FlagEnabled
// only; the feature flag dimension of route requirements never sees them.
func NewEvaluator(flags *FlagEvaluator, lenient LenientPolicy, overrides map[string]bool) *Evaluator {
	if flags == nil {
		flags = NewFlagEvaluator(nil)
	}
	if lenient == "" {
		lenient = LenientLiteral
	}
	return &Evaluator{
		flags:      flags,
		overrides:  overrides,
		conditions: NewConditionCache(),
		lenient:    lenient,
	}
}

// Flags returns the flag evaluator used for the feature flag dimension.
func (e *Evaluator) Flags() *FlagEvaluator {
	return e.flags
}

// EvaluateFlags evaluates every registered flag for the user with the
// configured overrides.
func (e *Evaluator) EvaluateFlags(user *metadata.User) map[string]bool {
	return e.flags.Evaluate(SubjectFromUser(user), e.overrides)
}

// FlagEnabled evaluates one flag for the user with the configured overrides.
func (e *Evaluator) FlagEnabled(key string, user *metadata.User) bool {
	return e.flags.IsEnabled(key, SubjectFromUser(user), e.overrides)
}

// dimension is the outcome of one constraint family of a requirement.
type dimension struct {
	populated bool
	passed    bool
}

// Verify decides whether the user satisfies the requirement. An open
// requirement always grants. Otherwise a nil or inactive user is denied.
// Verify never panics on partial profiles; missing data fails the dimension.
func (e *Evaluator) Verify(user *metadata.User, req metadata.Requirement) bool {
	if req.IsOpen() {
		return true
	}
	if user == nil || !user.IsActive {
		return false
	}

	dims := []dimension{
		{len(req.RequiredRoles) > 0, checkRoles(user, req.RequiredRoles)},
		{len(req.RequiredModules) > 0, checkModules(user, req.RequiredModules)},
		{len(req.RequiredPermissions) > 0, checkPermissions(user, req.RequiredPermissions)},
		{len(req.RequiredAttributes) > 0, checkAttributes(user, req.RequiredAttributes)},
		{len(req.FeatureFlags) > 0, e.checkFlags(user, req.FeatureFlags)},
		{req.Condition != "", e.checkCondition(user, req.Condition)},
	}

	if req.StrictMode {
		for _, d := range dims {
			if !d.passed {
				return false
			}
		}
		return true
	}

	if e.lenient == LenientAny {
		for _, d := range dims {
			if d.populated && d.passed {
				return true
			}
		}
		return false
	}

	for _, d := range dims {
		if d.populated && !d.passed {
			return false
		}
	}
	return true
}

// VerifyRoute checks a registered route. A nil route is public.
func (e *Evaluator) VerifyRoute(user *metadata.User, route *metadata.RouteConfig) bool {
	if route == nil {
		return true
	}
	return e.Verify(user, route.Requirement)
}

// checkRoles passes when the user's current role is one of roles. Every check
// below passes trivially when its requirement list is empty.
func checkRoles(user *metadata.User, roles []string) bool {
	if len(roles) == 0 {
		return true
	}
	if user.CurrentRole == nil {
		return false
	}
	return slices.Contains(roles, user.CurrentRole.Name)
}

func checkModules(user *metadata.User, moduleIDs []int) bool {
	if len(moduleIDs) == 0 {
		return true
	}
	return slices.ContainsFunc(moduleIDs, user.HasModule)
}

func checkPermissions(user *metadata.User, perms []string) bool {
	for _, p := range perms {
		if !user.HasPermission(p) {
			return false
		}
	}
	return true
}

func checkAttributes(user *metadata.User, attrs []metadata.AttributeRequirement) bool {
	for _, attr := range attrs {
		userVal, _ := user.Attribute(attr.Key)
		if !evaluateAttribute(attr.Operator, userVal, attr.Value) {
			return false
		}
	}
	return true
}

func (e *Evaluator) checkFlags(user *metadata.User, flags []string) bool {
	if len(flags) == 0 {
		return true
	}
	subject := SubjectFromUser(user)
	for _, f := range flags {
		if !e.flags.IsEnabled(f, subject, nil) {
			return false
		}
	}
	return true
}

func evaluateAttribute(operator string, userVal, reqVal any) bool {
	switch operator {
	case metadata.OpContains:
		return collectionContains(userVal, reqVal)
	case metadata.OpGreaterThan:
		a, okA := toFloat64(userVal)
		b, okB := toFloat64(reqVal)
		return okA && okB && a > b
	case metadata.OpLessThan:
		a, okA := toFloat64(userVal)
		b, okB := toFloat64(reqVal)
		return okA && okB && a < b
	default:
		return valuesEqual(userVal, reqVal)
	}
}

// valuesEqual is strict equality: numbers compare by value regardless of Go
// type, other comparable values with ==, and collections never compare equal.
func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	fa, okA := toFloat64(a)
	fb, okB := toFloat64(b)
	if okA || okB {
		return okA && okB && fa == fb
	}
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	switch ta.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array, reflect.Struct, reflect.Pointer:
		return false
	}
	return a == b
}

func collectionContains(collection, val any) bool {
	rv := reflect.ValueOf(collection)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return false
	}
	for i := 0; i < rv.Len(); i++ {
		if valuesEqual(rv.Index(i).Interface(), val) {
			return true
		}
	}
	return false
}

// toFloat64 converts numeric types to float64. Strings and other values are
// not numeric.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case int16:
		return float64(n), true
	case int8:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uintptr:
		return float64(n), true
	}
	return 0, false
}
