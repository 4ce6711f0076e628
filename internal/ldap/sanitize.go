package ldap

import "strings"

// filterSpecials are the characters that change the structure of a search filter.
const filterSpecials = "()|&*="

// Sanitize removes every filter-significant character from an identifier.
// All other characters are kept in their original order.
func Sanitize(identifier string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(filterSpecials, r) {
			return -1
		}
		return r
	}, identifier)
}
