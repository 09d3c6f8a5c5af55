package ldap

import (
	"errors"
	"fmt"

	"github.com/go-ldap/ldap/v3"
)

// ErrNotFound is returned when no entry matches the username or when the
// user bind is rejected. The two cases are indistinguishable.
var ErrNotFound = errors.New("directory user not found")

// ConnectionError reports a failure to reach the directory or to bind with
// the service credentials. It points at a configuration or availability
// problem rather than at the end user's credentials.
type ConnectionError struct {
	Operation string // "connect", "bind" or "user bind"
	Server    string
	Cause     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("LDAP %s to %s failed: %v", e.Operation, e.Server, e.Cause)
}

func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// SearchError reports a failed search request, as opposed to a search that
// returned no entries.
type SearchError struct {
	BaseDN string
	Filter string
	Cause  error
}

func (e *SearchError) Error() string {
	return fmt.Sprintf("LDAP search under %q with filter %q failed: %v", e.BaseDN, e.Filter, e.Cause)
}

func (e *SearchError) Unwrap() error {
	return e.Cause
}

// isNetworkError reports whether err came from the transport (including
// request timeouts) rather than from a directory result code.
func isNetworkError(err error) bool {
	var ldapErr *ldap.Error
	if !errors.As(err, &ldapErr) {
		return true
	}
	return ldap.IsErrorAnyOf(err,
		ldap.ErrorNetwork,
		ldap.LDAPResultTimeout,
		ldap.LDAPResultServerDown,
		ldap.LDAPResultConnectError,
		ldap.LDAPResultUnavailable,
		ldap.LDAPResultBusy,
	)
}
