package model

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// Permission is the access policy a share is created with.
type Permission string

const (
	PermissionInviteOnly      Permission = "inviteOnly"
	PermissionPublicReadOnly  Permission = "publicReadOnly"
	PermissionPublicReadWrite Permission = "publicReadWrite"
)

func ParsePermission(s string) (Permission, error) {
	switch p := Permission(strings.TrimSpace(s)); p {
	case PermissionInviteOnly, PermissionPublicReadOnly, PermissionPublicReadWrite:
		return p, nil
	case "":
		return PermissionInviteOnly, nil
	default:
		return "", fmt.Errorf("unknown share permission %q", s)
	}
}

// ShareRecord is the backend object that makes a household shareable.
type ShareRecord struct {
	ID          string     `json:"id"`
	HouseholdID string     `json:"household_id"`
	Title       string     `json:"title"`
	Thumbnail   string     `json:"thumbnail"`
	URL         string     `json:"url"`
	Permission  Permission `json:"permission"`
	Owner       Scope      `json:"owner"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Monogram returns up to two upper-case initials of name, used as the share
// thumbnail text.
func Monogram(name string) string {
	var b strings.Builder
	for _, word := range strings.Fields(name) {
		for _, r := range word {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				b.WriteRune(unicode.ToUpper(r))
				break
			}
		}
		if b.Len() > 0 && len([]rune(b.String())) == 2 {
			break
		}
	}
	return b.String()
}
