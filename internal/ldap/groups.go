package ldap

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// ResolveGroups returns the memberOf values of every entry matching the principal.
// No matching entry yields an empty set.
func ResolveGroups(ctx context.Context, s *Session, cfg *Config, p Principal) (GroupSet, error) {
	attr := cfg.memberOfAttribute()
	filter := fmt.Sprintf("(%s=%s)", cfg.userAttribute(), ldap.EscapeFilter(p.Sanitized))

	searchReq := ldap.NewSearchRequest(
		cfg.BaseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0, // No size limit
		0, // No time limit
		false,
		filter,
		[]string{attr},
		nil,
	)

	entries, err := s.Search(ctx, searchReq)
	if err != nil {
		return nil, &ProtocolError{Op: "group search", Err: err}
	}

	groups := GroupSet{}
	for _, entry := range entries {
		for _, dn := range entry.GetAttributeValues(attr) {
			groups.Add(dn)
		}
	}
	return groups, nil
}

// Authorize decides whether groups grant membership in required.
func Authorize(groups GroupSet, required string, policy MatchPolicy) Decision {
	needle := "cn=" + strings.ToLower(strings.TrimSpace(required))
	if len(groups) == 0 {
		return Decision{Reason: "principal has no group memberships"}
	}

	for dn := range groups {
		switch policy {
		case MatchExact:
			if firstRDN(dn) == needle {
				return Decision{Granted: true, Reason: "member of " + dn}
			}
		default:
			if strings.Contains(dn, needle) {
				return Decision{Granted: true, Reason: "member of " + dn}
			}
		}
	}
	return Decision{Reason: fmt.Sprintf("no membership matches %q", needle)}
}

// firstRDN returns the leading "attr=value" component of a DN with spaces around "=" removed.
func firstRDN(dn string) string {
	rdn := dn
	if i := strings.IndexByte(dn, ','); i >= 0 {
		rdn = dn[:i]
	}
	attr, value, ok := strings.Cut(rdn, "=")
	if !ok {
		return strings.TrimSpace(rdn)
	}
	return strings.TrimSpace(attr) + "=" + strings.TrimSpace(value)
}
