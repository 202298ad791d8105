package ldap

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// ErrorCategory groups directory failures by how a caller should react.
type ErrorCategory string

const (
	ErrorCategoryConnection     ErrorCategory = "connection"
	ErrorCategoryAuthentication ErrorCategory = "authentication"
	ErrorCategoryPermission     ErrorCategory = "permission"
	ErrorCategoryNotFound       ErrorCategory = "not_found"
	ErrorCategoryValidation     ErrorCategory = "validation"
	ErrorCategoryServer         ErrorCategory = "server"
	ErrorCategoryUnknown        ErrorCategory = "unknown"
)

type resultClass struct {
	category  ErrorCategory
	retryable bool
}

// resultClasses classifies the LDAP result codes a domain controller returns
// during collection. Unlisted codes are unknown and final.
var resultClasses = map[uint16]resultClass{
	ldap.LDAPResultInvalidCredentials:          {ErrorCategoryAuthentication, false},
	ldap.LDAPResultInappropriateAuthentication: {ErrorCategoryAuthentication, false},
	ldap.LDAPResultStrongAuthRequired:          {ErrorCategoryAuthentication, false},

	ldap.LDAPResultInsufficientAccessRights: {ErrorCategoryPermission, false},
	ldap.LDAPResultUnwillingToPerform:       {ErrorCategoryPermission, false},

	ldap.LDAPResultNoSuchObject:           {ErrorCategoryNotFound, false},
	ldap.LDAPResultNoSuchAttribute:        {ErrorCategoryNotFound, false},
	ldap.LDAPResultUndefinedAttributeType: {ErrorCategoryNotFound, false},

	ldap.LDAPResultInvalidAttributeSyntax: {ErrorCategoryValidation, false},
	ldap.LDAPResultInvalidDNSyntax:        {ErrorCategoryValidation, false},
	ldap.LDAPResultFilterError:            {ErrorCategoryValidation, false},

	ldap.LDAPResultBusy:               {ErrorCategoryServer, true},
	ldap.LDAPResultUnavailable:        {ErrorCategoryServer, true},
	ldap.LDAPResultServerDown:         {ErrorCategoryServer, true},
	ldap.LDAPResultTimeLimitExceeded:  {ErrorCategoryServer, true},
	ldap.LDAPResultAdminLimitExceeded: {ErrorCategoryServer, false},

	ldap.ErrorNetwork:            {ErrorCategoryConnection, true},
	ldap.LDAPResultTimeout:       {ErrorCategoryConnection, true},
	ldap.LDAPResultConnectError:  {ErrorCategoryConnection, true},
	ldap.LDAPResultProtocolError: {ErrorCategoryConnection, false},
}

func classifyCode(code uint16) resultClass {
	if class, ok := resultClasses[code]; ok {
		return class
	}
	return resultClass{category: ErrorCategoryUnknown}
}

// Substrings of transport and GSSAPI errors that carry no result code.
var (
	connectionPatterns     = []string{"connection", "network", "timeout", "broken pipe", "eof"}
	authenticationPatterns = []string{"authentication", "credentials"}
)

func classifyMessage(err error) resultClass {
	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, connectionPatterns):
		return resultClass{ErrorCategoryConnection, true}
	case containsAny(msg, authenticationPatterns):
		return resultClass{category: ErrorCategoryAuthentication}
	default:
		return resultClass{category: ErrorCategoryUnknown}
	}
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// classify prefers an attached LDAPError, then a server result code, then
// the error text.
func classify(err error) resultClass {
	var ldapErr *LDAPError
	if errors.As(err, &ldapErr) {
		return resultClass{ldapErr.Category, ldapErr.Retryable}
	}

	var resultErr *ldap.Error
	if errors.As(err, &resultErr) {
		return classifyCode(resultErr.ResultCode)
	}

	return classifyMessage(err)
}

// LDAPError is a classified directory failure.
type LDAPError struct {
	Operation string
	Category  ErrorCategory
	LDAPCode  uint16
	Message   string
	BaseDN    string
	Retryable bool
	Cause     error
}

func (e *LDAPError) Error() string {
	var b strings.Builder

	fmt.Fprintf(&b, "LDAP %s failed", e.Operation)
	if e.LDAPCode > 0 {
		fmt.Fprintf(&b, " (code %d)", e.LDAPCode)
	}
	if e.Message != "" {
		b.WriteString(" - " + e.Message)
	}
	if e.BaseDN != "" {
		b.WriteString(" - base: " + e.BaseDN)
	}

	return b.String()
}

func (e *LDAPError) IsRetryable() bool {
	return e.Retryable
}

func (e *LDAPError) Unwrap() error {
	return e.Cause
}

// NewLDAPError classifies err as a failure of operation. It returns nil for
// a nil err.
func NewLDAPError(operation string, err error) *LDAPError {
	if err == nil {
		return nil
	}

	ldapErr := &LDAPError{Operation: operation, Cause: err}

	var resultErr *ldap.Error
	if !errors.As(err, &resultErr) {
		class := classifyMessage(err)
		ldapErr.Category, ldapErr.Retryable = class.category, class.retryable
		ldapErr.Message = err.Error()
		return ldapErr
	}

	class := classifyCode(resultErr.ResultCode)
	ldapErr.LDAPCode = resultErr.ResultCode
	ldapErr.Category, ldapErr.Retryable = class.category, class.retryable
	ldapErr.Message = ldap.LDAPResultCodeMap[resultErr.ResultCode]
	if resultErr.Err != nil {
		ldapErr.Message = strings.TrimSpace(ldapErr.Message + ": " + resultErr.Err.Error())
	}
	return ldapErr
}

// WrapError returns the LDAPError already in err's chain, naming operation
// if it has none, or classifies err afresh.
func WrapError(operation string, err error) error {
	if err == nil {
		return nil
	}

	var ldapErr *LDAPError
	if errors.As(err, &ldapErr) {
		if ldapErr.Operation == "" {
			ldapErr.Operation = operation
		}
		return ldapErr
	}

	return NewLDAPError(operation, err)
}

// GetErrorCategory returns the category of err, or unknown for nil.
func GetErrorCategory(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryUnknown
	}
	return classify(err).category
}

// IsRetryableError reports whether repeating the operation may succeed.
func IsRetryableError(err error) bool {
	return err != nil && classify(err).retryable
}

// IsNotFoundError reports whether err means the object or attribute is absent.
func IsNotFoundError(err error) bool {
	return GetErrorCategory(err) == ErrorCategoryNotFound
}
