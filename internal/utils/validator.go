package utils

import (
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// MinPasswordLength is the shortest password accepted
const MinPasswordLength = 8

// MaxPasswordBytes is the longest input bcrypt hashes without truncation
const MaxPasswordBytes = 72

// PasswordPolicyMessage describes the password rule to clients
const PasswordPolicyMessage = "Password must be at least 8 characters and contain uppercase, lowercase, number and special character."

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateEmail validates an email address
func ValidateEmail(email string) bool {
	return validate.Var(email, "required,email") == nil
}

// ValidatePassword enforces the composition rule: minimum length plus at
// least one uppercase letter, lowercase letter, digit and special character
func ValidatePassword(password string) bool {
	if len([]rune(password)) < MinPasswordLength || len(password) > MaxPasswordBytes {
		return false
	}

	var hasUpper, hasLower, hasNumber, hasSpecial bool
	for _, char := range password {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsDigit(char):
			hasNumber = true
		case unicode.IsPunct(char) || unicode.IsSymbol(char):
			hasSpecial = true
		}
	}

	return hasUpper && hasLower && hasNumber && hasSpecial
}

// NormalizeName trims a display name and collapses internal whitespace
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}
