package auth

// Scope restricts what a service API key may call
type Scope string

const (
	// ScopeOperator may also inspect and retry dead-lettered settlements
	ScopeOperator Scope = "operator"

	// ScopeBilling may resolve billing modes and settle usage
	ScopeBilling Scope = "billing"
)

// String returns the string representation of the scope
func (s Scope) String() string {
	return string(s)
}

// IsValid checks if the scope is known
func (s Scope) IsValid() bool {
	switch s {
	case ScopeOperator, ScopeBilling:
		return true
	default:
		return false
	}
}

// HasPermission checks if a scope covers a required scope.
// Operator covers everything.
func (s Scope) HasPermission(required Scope) bool {
	if s == ScopeOperator {
		return true
	}
	return s == required
}
