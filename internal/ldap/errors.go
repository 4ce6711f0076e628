package ldap

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/go-ldap/ldap/v3"
)

var (
	// ErrInvalidCredentials is returned when the directory rejects a bind.
	// Unknown users and wrong passwords are not distinguished.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAuthFailure marks a failed admin bind on the report path.
	ErrAuthFailure = errors.New("authentication failed")
	// ErrAuthorizationDenied is returned when group membership does not grant access.
	ErrAuthorizationDenied = errors.New("access denied")
	// ErrSizeLimitExceeded is returned when the directory refuses to return all matches.
	ErrSizeLimitExceeded = errors.New("size limit exceeded")
	// ErrInvalidDays is returned for a report window below one day or reaching before 1601.
	ErrInvalidDays = errors.New("days must be at least 1 and not reach before 1601")
)

// ConnectionError is a transport failure while talking to the directory.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("directory connection failed: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError is a failed search or an operation abandoned by its context.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("directory %s failed: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// PublicMessage returns the caller-visible text for an error produced by this package.
// Bind DNs, group lists and raw protocol text never appear in it.
func PublicMessage(err error) string {
	var connErr *ConnectionError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrAuthFailure),
		errors.As(err, &connErr):
		return "invalid credentials"
	case errors.Is(err, ErrAuthorizationDenied):
		return "access denied"
	case errors.Is(err, ErrSizeLimitExceeded):
		return "too many accounts match; narrow the query (use fewer days)"
	case errors.Is(err, ErrInvalidDays):
		return ErrInvalidDays.Error()
	}
	return "directory request failed"
}

// classifyBind maps a go-ldap bind error to a BindOutcome.
func classifyBind(err error) BindOutcome {
	if err == nil {
		return Authenticated
	}
	var ldapErr *ldap.Error
	if !errors.As(err, &ldapErr) {
		return ConnectionFailure
	}
	switch ldapErr.ResultCode {
	case ldap.ErrorEmptyPassword:
		return InvalidCredentials
	case ldap.LDAPResultBusy, ldap.LDAPResultUnavailable, ldap.LDAPResultOther:
		return ConnectionFailure
	}
	// Result codes below the client-side range were sent by the server.
	if ldapErr.ResultCode < ldap.ErrorNetwork {
		return InvalidCredentials
	}
	return ConnectionFailure
}

func isSizeLimit(err error) bool {
	var ldapErr *ldap.Error
	return errors.As(err, &ldapErr) && ldapErr.ResultCode == ldap.LDAPResultSizeLimitExceeded
}
