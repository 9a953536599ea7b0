package auth

import (
	"errors"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	MinPasswordLength = 8
	// MaxPasswordBytes is the bcrypt input limit.
	MaxPasswordBytes = 72
)

// ErrWeakPassword wraps every password policy violation.
var ErrWeakPassword = errors.New("password does not meet policy")

var commonPasswords = map[string]bool{
	"password":    true,
	"password1":   true,
	"password123": true,
	"12345678":    true,
	"123456789":   true,
	"qwerty123":   true,
	"letmein1":    true,
	"welcome1":    true,
	"admin123":    true,
	"iloveyou1":   true,
	"passw0rd":    true,
	"p@ssw0rd":    true,
	"p@ssword1":   true,
}

// PolicyError lists every rule a candidate password broke.
type PolicyError struct {
	Violations []string
}

func (e *PolicyError) Error() string {
	return "password " + strings.Join(e.Violations, "; ")
}

func (e *PolicyError) Unwrap() error { return ErrWeakPassword }

// ValidatePassword checks length, character classes and a common-password list.
func ValidatePassword(pw string) error {
	var v []string
	if len(pw) < MinPasswordLength {
		v = append(v, "must be at least 8 characters")
	}
	if len(pw) > MaxPasswordBytes {
		v = append(v, "must be at most 72 bytes")
	}

	var upper, lower, digit, special bool
	for _, r := range pw {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			special = true
		}
	}
	if !upper {
		v = append(v, "must contain an uppercase letter")
	}
	if !lower {
		v = append(v, "must contain a lowercase letter")
	}
	if !digit {
		v = append(v, "must contain a digit")
	}
	if !special {
		v = append(v, "must contain a special character")
	}
	if commonPasswords[strings.ToLower(pw)] {
		v = append(v, "is too common")
	}

	if len(v) > 0 {
		return &PolicyError{Violations: v}
	}
	return nil
}

func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func CheckPassword(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}
