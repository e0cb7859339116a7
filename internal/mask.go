package internal

import "strings"

// MaskEmail hides the local part of an address for log output, keeping the
// first character and the domain: "alice@x.com" -> "a***@x.com".
func MaskEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}

// MaskToken keeps a short recognizable prefix of an opaque token.
func MaskToken(token string) string {
	if len(token) <= 8 {
		return "***"
	}
	return token[:8] + "..."
}
