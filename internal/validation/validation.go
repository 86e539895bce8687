// Package validation holds the shared struct validator and the custom rules
// the gateway registers on it.
package validation

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	_ = validate.RegisterValidation("cpf", validateCPF)
}

// Struct validates s against its `validate` tags.
func Struct(s any) error {
	return validate.Struct(s)
}

// FieldErrors flattens a validation error into field/rule pairs. Errors that
// are not validation errors yield nil.
func FieldErrors(err error) []FieldError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{Field: fe.Field(), Rule: fe.Tag()})
	}
	return out
}

type FieldError struct {
	Field string
	Rule  string
}

func validateCPF(fl validator.FieldLevel) bool {
	return IsValidCPF(fl.Field().String())
}

// NormalizeCPF strips formatting, leaving only digits.
func NormalizeCPF(cpf string) string {
	var b strings.Builder
	for _, r := range cpf {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IsValidCPF checks length, repeated digits and both check digits. Dots and
// the dash of the usual XXX.XXX.XXX-XX layout are accepted.
func IsValidCPF(cpf string) bool {
	for _, r := range cpf {
		if (r < '0' || r > '9') && r != '.' && r != '-' {
			return false
		}
	}
	digits := NormalizeCPF(cpf)
	if len(digits) != 11 {
		return false
	}
	if strings.Count(digits, digits[:1]) == 11 {
		return false
	}
	return checkDigit(digits[:9], 10) == int(digits[9]-'0') &&
		checkDigit(digits[:10], 11) == int(digits[10]-'0')
}

func checkDigit(digits string, weight int) int {
	sum := 0
	for i, r := range digits {
		sum += int(r-'0') * (weight - i)
	}
	rem := (sum * 10) % 11
	if rem == 10 {
		rem = 0
	}
	return rem
}
