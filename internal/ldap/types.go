// Package ldap provides Active Directory/LDAP integration
// for credential binding, group gating and inactive account reporting.
package ldap

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// BindFormat selects how a bind principal name is built from an identifier.
type BindFormat string

const (
	// BindFormatDN binds as "<rdn>=<id>,<baseDN>".
	BindFormatDN BindFormat = "dn"
	// BindFormatUPN binds as "<id>@<domain>".
	BindFormatUPN BindFormat = "upn"
)

// ParseBindFormat parses a configuration value into a BindFormat.
func ParseBindFormat(v string) (BindFormat, error) {
	switch BindFormat(strings.ToLower(strings.TrimSpace(v))) {
	case BindFormatDN:
		return BindFormatDN, nil
	case BindFormatUPN, "":
		return BindFormatUPN, nil
	}
	return "", errors.Newf("unknown bind format %q", v)
}

// MatchPolicy selects how a required group name is matched against member DNs.
type MatchPolicy string

const (
	// MatchSubstring grants when "cn=<group>" appears anywhere in a member DN.
	// This also matches OUs or longer CNs that contain the same text.
	MatchSubstring MatchPolicy = "substring"
	// MatchExact grants only when the first RDN of a member DN is "cn=<group>".
	MatchExact MatchPolicy = "exact"
)

// ParseMatchPolicy parses a configuration value into a MatchPolicy.
func ParseMatchPolicy(v string) (MatchPolicy, error) {
	switch MatchPolicy(strings.ToLower(strings.TrimSpace(v))) {
	case MatchSubstring, "":
		return MatchSubstring, nil
	case MatchExact:
		return MatchExact, nil
	}
	return "", errors.Newf("unknown group match policy %q", v)
}

// Config holds LDAP/AD configuration.
type Config struct {
	// URL is the LDAP server URL (e.g., ldap://dc.example.com:389 or ldaps://dc.example.com:636)
	URL string
	// BaseDN is the base DN for searches (e.g., DC=example,DC=com)
	BaseDN string
	// Domain is the UPN suffix (e.g., example.com)
	Domain string
	// BindFormat selects DN or UPN principal names
	BindFormat BindFormat
	// RDNAttribute is the naming attribute used for DN principals (default: uid)
	RDNAttribute string
	// UserAttribute identifies an account in search filters (default: sAMAccountName for UPN, uid for DN)
	UserAttribute string
	// MemberOfAttribute is the attribute containing group memberships (default: memberOf)
	MemberOfAttribute string
	// AdminGroup is the group required for administrative reporting (default: administrators)
	AdminGroup string
	// GroupMatch selects the group matching policy
	GroupMatch MatchPolicy
	// ExcludeDisabled drops disabled accounts from the inactivity report
	ExcludeDisabled bool
	// IncludeNeverLoggedOn also reports accounts without a lastLogonTimestamp
	IncludeNeverLoggedOn bool
	// StartTLS upgrades plain ldap:// connections
	StartTLS bool
	// InsecureSkipVerify skips TLS certificate verification (not recommended for production)
	InsecureSkipVerify bool
	// Timeout bounds dialing and every request on a connection
	Timeout time.Duration
	// ServiceBindDN and ServiceBindPassword are only used by TestConnection
	ServiceBindDN       string
	ServiceBindPassword string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BindFormat:        BindFormatUPN,
		RDNAttribute:      "uid",
		MemberOfAttribute: "memberOf",
		AdminGroup:        "administrators",
		GroupMatch:        MatchSubstring,
		Timeout:           10 * time.Second,
	}
}

func (c *Config) userAttribute() string {
	if c.UserAttribute != "" {
		return c.UserAttribute
	}
	if c.BindFormat == BindFormatDN {
		return "uid"
	}
	return "sAMAccountName"
}

func (c *Config) memberOfAttribute() string {
	if c.MemberOfAttribute != "" {
		return c.MemberOfAttribute
	}
	return "memberOf"
}

func (c *Config) adminGroup() string {
	if c.AdminGroup != "" {
		return c.AdminGroup
	}
	return "administrators"
}

// Principal is a caller-supplied identifier together with its filter-safe form.
type Principal struct {
	Raw       string
	Sanitized string
}

// NewPrincipal sanitizes the identifier once for use in every filter of an operation.
func NewPrincipal(identifier string) Principal {
	return Principal{Raw: identifier, Sanitized: Sanitize(identifier)}
}

// BindOutcome is the terminal result of a bind attempt.
type BindOutcome int

const (
	Authenticated BindOutcome = iota
	InvalidCredentials
	ConnectionFailure
)

func (o BindOutcome) String() string {
	switch o {
	case Authenticated:
		return "authenticated"
	case InvalidCredentials:
		return "invalid_credentials"
	case ConnectionFailure:
		return "connection_failure"
	}
	return "unknown"
}

// GroupSet holds lower-cased group DNs.
type GroupSet map[string]struct{}

// NewGroupSet builds a set from raw DN values.
func NewGroupSet(dns ...string) GroupSet {
	s := make(GroupSet, len(dns))
	for _, dn := range dns {
		s.Add(dn)
	}
	return s
}

// Add normalizes and inserts a DN.
func (s GroupSet) Add(dn string) {
	s[strings.ToLower(strings.TrimSpace(dn))] = struct{}{}
}

// Contains reports whether the normalized DN is present.
func (s GroupSet) Contains(dn string) bool {
	_, ok := s[strings.ToLower(strings.TrimSpace(dn))]
	return ok
}

// Decision is the result of an authorization check. Reason is for logs only.
type Decision struct {
	Granted bool
	Reason  string
}

// LastLogon is either a directory timestamp or "never".
type LastLogon struct {
	at    time.Time
	never bool
}

// Never is the sentinel for accounts without a recorded logon.
var Never = LastLogon{never: true}

// LoggedOnAt wraps a logon time.
func LoggedOnAt(t time.Time) LastLogon {
	return LastLogon{at: t.UTC()}
}

// IsNever reports whether no logon was recorded.
func (l LastLogon) IsNever() bool { return l.never }

// Time returns the logon time; zero when IsNever.
func (l LastLogon) Time() time.Time { return l.at }

func (l LastLogon) String() string {
	if l.never {
		return "never"
	}
	return l.at.Format(time.RFC3339)
}

// MarshalJSON encodes the sentinel as "never" and times as RFC 3339.
func (l LastLogon) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// InactiveAccount represents one dormant account in a report.
type InactiveAccount struct {
	DisplayName string    `json:"displayName,omitempty"`
	Email       string    `json:"email,omitempty"`
	LastLogon   LastLogon `json:"lastLogon"`
}

// Report is the result of a successful inactivity search.
type Report struct {
	Days      int               `json:"days"`
	Threshold time.Time         `json:"threshold"`
	Accounts  []InactiveAccount `json:"users"`
}
