package password

import (
	"errors"
	"unicode"
)

// Composition bounds enforced at registration time.
const (
	MinLength = 8
	MaxLength = 100
)

// Policy errors. Check reports the first violated rule only, in the order
// length, upper, lower, digit, symbol.
var (
	ErrTooShort  = errors.New("password must be at least 8 characters long")
	ErrTooLong   = errors.New("password must not exceed 100 characters")
	ErrNoUpper   = errors.New("password must contain at least one uppercase letter")
	ErrNoLower   = errors.New("password must contain at least one lowercase letter")
	ErrNoDigit   = errors.New("password must contain at least one digit")
	ErrNoSpecial = errors.New("password must contain at least one special character")
)

// Check validates password against the composition policy and returns the
// first violation, or nil when the password is acceptable.
func Check(password string) error {
	runes := []rune(password)
	if len(runes) < MinLength {
		return ErrTooShort
	}
	if len(runes) > MaxLength {
		return ErrTooLong
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range runes {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSpecial = true
		}
	}

	switch {
	case !hasUpper:
		return ErrNoUpper
	case !hasLower:
		return ErrNoLower
	case !hasDigit:
		return ErrNoDigit
	case !hasSpecial:
		return ErrNoSpecial
	}
	return nil
}
