package auth

import (
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/obakengshepherd/risksentinel/internal/models"
)

const (
	// DefaultCost is the default bcrypt cost factor
	DefaultCost = 12
)

// HashPassword creates a bcrypt hash of the password
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// CheckPassword compares a password with a hash
func CheckPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// passwordSpecialChars is the set accepted as the "special character"
// requirement for the admin/analyst tier.
const passwordSpecialChars = "!@#$%^&*()-_=+[]{};:,.<>?/|"

// minPasswordLength is role-tiered: admin and analyst accounts can rewrite
// fraud rule weights and resolve alerts, so they clear a higher bar than a
// standard api/mobile caller registering as models.RoleUser.
func minPasswordLength(role string) int {
	switch role {
	case models.RoleAdmin, models.RoleAnalyst:
		return 12
	default:
		return 8
	}
}

// ValidatePasswordStrength checks password against the role-tiered policy:
// every role requires mixed case and a digit; admin and analyst additionally
// require a longer password and at least one special character, since those
// roles can act on live fraud decisions rather than just submit transactions.
func ValidatePasswordStrength(password, role string) bool {
	if len(password) < minPasswordLength(role) {
		return false
	}

	var hasUpper, hasLower, hasNumber, hasSpecial bool
	for _, char := range password {
		switch {
		case char >= 'A' && char <= 'Z':
			hasUpper = true
		case char >= 'a' && char <= 'z':
			hasLower = true
		case char >= '0' && char <= '9':
			hasNumber = true
		case strings.ContainsRune(passwordSpecialChars, char):
			hasSpecial = true
		}
	}

	if !hasUpper || !hasLower || !hasNumber {
		return false
	}

	if role == models.RoleAdmin || role == models.RoleAnalyst {
		return hasSpecial
	}
	return true
}
