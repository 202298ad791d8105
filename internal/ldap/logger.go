package ldap

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// tflog subsystems written by this package.
const (
	SubsystemLDAP     = "ldap"
	SubsystemKerberos = "kerberos"
)

// NewSubsystemContext registers the named tflog subsystems on ctx. Without it
// tflog creates the subsystem logger on first use and tags it with a warning.
// With no names it registers the subsystems of this package.
func NewSubsystemContext(ctx context.Context, subsystems ...string) context.Context {
	if len(subsystems) == 0 {
		subsystems = []string{SubsystemLDAP, SubsystemKerberos}
	}
	for _, name := range subsystems {
		ctx = tflog.NewSubsystem(ctx, name)
	}
	return ctx
}

// ConnectionEvent is a step in establishing a directory connection.
type ConnectionEvent int

const (
	EventDialing ConnectionEvent = iota
	EventConnected
	EventDialFailed
	EventBound
	EventBindFailed
)

var connectionEventNames = [...]string{
	EventDialing:    "dialing",
	EventConnected:  "connected",
	EventDialFailed: "dial_failed",
	EventBound:      "bound",
	EventBindFailed: "bind_failed",
}

func (e ConnectionEvent) String() string {
	if int(e) < len(connectionEventNames) {
		return connectionEventNames[e]
	}
	return "unknown"
}

func (e ConnectionEvent) failed() bool {
	return e == EventDialFailed || e == EventBindFailed
}

// logConnectionEvent writes e to the ldap subsystem. Failures log at warn;
// Connect returns the error that ends it.
func logConnectionEvent(ctx context.Context, e ConnectionEvent, fields map[string]any) {
	fields = SanitizeFields(fields)
	fields["event"] = e.String()

	switch {
	case e.failed():
		tflog.SubsystemWarn(ctx, SubsystemLDAP, "Connection event", fields)
	case e == EventBound:
		tflog.SubsystemInfo(ctx, SubsystemLDAP, "Connection event", fields)
	default:
		tflog.SubsystemDebug(ctx, SubsystemLDAP, "Connection event", fields)
	}
}

// timed runs fn and logs its outcome and duration under operation.
func timed(ctx context.Context, operation string, fields map[string]any, fn func() error) error {
	fields = SanitizeFields(fields)
	fields["operation"] = operation

	start := time.Now()
	tflog.SubsystemDebug(ctx, SubsystemLDAP, "Starting "+operation, fields)

	err := fn()
	fields["duration_ms"] = time.Since(start).Milliseconds()
	if err != nil {
		fields["error"] = err.Error()
		tflog.SubsystemError(ctx, SubsystemLDAP, operation+" failed", fields)
		return err
	}

	tflog.SubsystemDebug(ctx, SubsystemLDAP, operation+" completed", fields)
	return nil
}

// ErrorFields describes err as log fields, unwrapping the server result and
// the classification attached by NewLDAPError.
func ErrorFields(err error) map[string]any {
	fields := map[string]any{"error": err.Error()}

	var resultErr *ldap.Error
	if errors.As(err, &resultErr) {
		fields["ldap_result_code"] = resultErr.ResultCode
		if resultErr.MatchedDN != "" {
			fields["ldap_matched_dn"] = resultErr.MatchedDN
		}
		if resultErr.Err != nil {
			fields["ldap_diagnostic_message"] = resultErr.Err.Error()
		}
	}

	var wrapped *LDAPError
	if errors.As(err, &wrapped) {
		fields["error_category"] = string(wrapped.Category)
		fields["retryable"] = wrapped.Retryable
	}

	return fields
}

// logSearchError logs a failed search with its request fields.
func logSearchError(ctx context.Context, err error, request map[string]any) {
	fields := ErrorFields(err)
	for k, v := range request {
		fields[k] = v
	}
	tflog.SubsystemError(ctx, SubsystemLDAP, "Search failed", fields)
}

var sensitiveKeys = map[string]struct{}{
	"password":    {},
	"passwd":      {},
	"secret":      {},
	"token":       {},
	"key":         {},
	"private_key": {},
	"credential":  {},
	"credentials": {},
	"keytab_data": {},
}

var sensitivePatterns = []string{"password=", "passwd=", "secret=", "token=", "key="}

// SanitizeFields returns a copy of fields with credential values redacted.
func SanitizeFields(fields map[string]any) map[string]any {
	sanitized := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		if redact(k, v) {
			v = "[REDACTED]"
		}
		sanitized[k] = v
	}
	return sanitized
}

func redact(key string, value any) bool {
	if _, ok := sensitiveKeys[strings.ToLower(key)]; ok {
		return true
	}
	s, ok := value.(string)
	if !ok {
		return false
	}
	s = strings.ToLower(s)
	for _, pattern := range sensitivePatterns {
		if strings.Contains(s, pattern) {
			return true
		}
	}
	return false
}
