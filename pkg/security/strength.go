// Package security provides password generation and strength checks for
// encrypted backups and key files.
package security

// PasswordStrength represents the strength level of a backup password.
type PasswordStrength int

const (
	// PasswordWeak indicates an insecure password (less than 8 chars).
	PasswordWeak PasswordStrength = iota
	// PasswordFair indicates a minimally acceptable password.
	PasswordFair
	// PasswordGood indicates a good password.
	PasswordGood
	// PasswordStrong indicates a strong password.
	PasswordStrong
)

// String returns a human-readable representation of the password strength.
func (s PasswordStrength) String() string {
	switch s {
	case PasswordWeak:
		return "Weak"
	case PasswordFair:
		return "Fair"
	case PasswordGood:
		return "Good"
	case PasswordStrong:
		return "Strong"
	default:
		return "Unknown"
	}
}

// CheckPasswordStrength evaluates a user-supplied password.
// Length is the primary factor per NIST guidelines (composition rules
// discouraged). NIST SP 800-63B recommends:
// - Minimum 8 characters for user-chosen passwords
// - No complexity requirements (uppercase, numbers, symbols)
// - Focus on length and avoiding compromised passwords
func CheckPasswordStrength(value string) PasswordStrength {
	length := len(value)

	switch {
	case length >= 20:
		return PasswordStrong
	case length >= 14:
		return PasswordGood
	case length >= 8:
		return PasswordFair
	default:
		return PasswordWeak
	}
}
