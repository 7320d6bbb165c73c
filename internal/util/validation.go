package util

import (
	"net/mail"
	"strings"

	"github.com/google/uuid"
)

func IsValidUUID(s string) bool {
	if s == "" {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

func IsValidEmail(s string) bool {
	if s == "" || strings.ContainsAny(s, " \t\r\n") {
		return false
	}
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}

func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// IsNumeric reports whether s is non-empty and made of ASCII digits only.
func IsNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
