package ldap

import (
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// MapEntry converts a directory entry into an Identity. The username is the
// one the caller authenticated with, not an attribute of the entry. A nil
// entry or a missing attribute maps to an empty string.
func MapEntry(username string, entry *ldap.Entry, spec SearchSpec) Identity {
	identity := Identity{Username: username}
	if entry == nil {
		return identity
	}

	identity.Name = firstValue(entry, spec.FullNameAttribute)
	identity.Email = firstValue(entry, spec.EmailAttribute)
	return identity
}

// firstValue matches the attribute name case-insensitively, since servers
// echo back attribute names in their own casing.
func firstValue(entry *ldap.Entry, attribute string) string {
	if attribute == "" {
		return ""
	}
	for _, attr := range entry.Attributes {
		if attr == nil {
			continue
		}
		if len(attr.Values) > 0 && strings.EqualFold(attr.Name, attribute) {
			return attr.Values[0]
		}
	}
	return ""
}
