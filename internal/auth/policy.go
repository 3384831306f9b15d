package auth

import (
	"fmt"
	"strings"
	"unicode"
)

// PolicyRule identifies one password requirement.
type PolicyRule string

const (
	RuleMinLength PolicyRule = "min_length"
	RuleUppercase PolicyRule = "uppercase"
	RuleLowercase PolicyRule = "lowercase"
	RuleDigit     PolicyRule = "digit"
	RuleSymbol    PolicyRule = "symbol"
)

// PasswordSymbols is the set of characters that satisfy RuleSymbol.
const PasswordSymbols = `!@#$%^&*(),.?":{}|<>`

// PasswordPolicy is the strength rule applied to every new password.
type PasswordPolicy struct {
	MinLength int
}

// DefaultPasswordPolicy requires eight characters.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{MinLength: 8}
}

// Check returns a *PolicyError for the first rule password breaks, testing
// length, uppercase, lowercase, digit and symbol in that order.
func (p PasswordPolicy) Check(password string) error {
	if len([]rune(password)) < p.MinLength {
		return &PolicyError{
			Rule:    RuleMinLength,
			Message: fmt.Sprintf("Password must be at least %d characters long", p.MinLength),
		}
	}
	if !strings.ContainsFunc(password, unicode.IsUpper) {
		return &PolicyError{Rule: RuleUppercase, Message: "Password must contain at least one uppercase letter"}
	}
	if !strings.ContainsFunc(password, unicode.IsLower) {
		return &PolicyError{Rule: RuleLowercase, Message: "Password must contain at least one lowercase letter"}
	}
	if !strings.ContainsFunc(password, unicode.IsDigit) {
		return &PolicyError{Rule: RuleDigit, Message: "Password must contain at least one number"}
	}
	if !strings.ContainsAny(password, PasswordSymbols) {
		return &PolicyError{Rule: RuleSymbol, Message: "Password must contain at least one special character"}
	}
	return nil
}
