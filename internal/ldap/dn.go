package ldap

import (
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

var (
	ErrEmptyDN  = errors.New("empty DN")
	ErrNoParent = errors.New("DN has no parent")
)

func parseDN(dn string) (*ldap.DN, error) {
	if dn == "" {
		return nil, ErrEmptyDN
	}
	parsed, err := ldap.ParseDN(dn)
	if err != nil {
		return nil, fmt.Errorf("invalid DN syntax: %w", err)
	}
	return parsed, nil
}

// attributes yields every type/value pair of rdns from leaf to root.
func attributes(rdns []*ldap.RelativeDN) iter.Seq[*ldap.AttributeTypeAndValue] {
	return func(yield func(*ldap.AttributeTypeAndValue) bool) {
		for _, rdn := range rdns {
			for _, attr := range rdn.Attributes {
				if !yield(attr) {
					return
				}
			}
		}
	}
}

// formatDN writes rdns with upper-case attribute types, the form Active
// Directory returns. Values keep their case.
func formatDN(rdns []*ldap.RelativeDN) string {
	var b strings.Builder
	for i, rdn := range rdns {
		if i > 0 {
			b.WriteByte(',')
		}
		for j, attr := range rdn.Attributes {
			if j > 0 {
				b.WriteByte('+')
			}
			b.WriteString(strings.ToUpper(attr.Type))
			b.WriteByte('=')
			b.WriteString(attr.Value)
		}
	}
	return b.String()
}

// NormalizeDNCase rewrites dn with upper-case attribute types, so
// "cn=gpo,cn=policies,dc=corp" becomes "CN=gpo,CN=policies,DC=corp". A blank
// dn normalises to "".
func NormalizeDNCase(dn string) (string, error) {
	dn = strings.TrimSpace(dn)
	if dn == "" {
		return "", nil
	}
	parsed, err := parseDN(dn)
	if err != nil {
		return "", err
	}
	return formatDN(parsed.RDNs), nil
}

// ExtractRDNValue returns the value of the first component of type attrType,
// searching from the leaf.
func ExtractRDNValue(dn, attrType string) (string, error) {
	parsed, err := parseDN(dn)
	if err != nil {
		return "", err
	}
	for attr := range attributes(parsed.RDNs) {
		if strings.EqualFold(attr.Type, attrType) {
			return attr.Value, nil
		}
	}
	return "", fmt.Errorf("attribute type %q not found in DN %q", attrType, dn)
}

// GetDNParent drops the leaf RDN of dn. A single-RDN dn returns ErrNoParent.
func GetDNParent(dn string) (string, error) {
	parsed, err := parseDN(dn)
	if err != nil {
		return "", err
	}
	if len(parsed.RDNs) < 2 {
		return "", fmt.Errorf("%w: %s", ErrNoParent, dn)
	}
	return formatDN(parsed.RDNs[1:]), nil
}

// DomainNameFromDN joins the DC components of dn into an upper-case DNS
// name: "CN=x,DC=corp,DC=local" gives "CORP.LOCAL".
func DomainNameFromDN(dn string) (string, error) {
	parsed, err := parseDN(dn)
	if err != nil {
		return "", err
	}

	var labels []string
	for attr := range attributes(parsed.RDNs) {
		if strings.EqualFold(attr.Type, "DC") {
			labels = append(labels, attr.Value)
		}
	}
	if len(labels) == 0 {
		return "", fmt.Errorf("DN has no domain components: %s", dn)
	}
	return strings.ToUpper(strings.Join(labels, ".")), nil
}

// DomainNameToDN converts "corp.local" into "DC=corp,DC=local". Surrounding
// space and dots are ignored.
func DomainNameToDN(domain string) string {
	domain = strings.Trim(strings.TrimSpace(domain), ".")
	if domain == "" {
		return ""
	}
	return "DC=" + strings.ReplaceAll(domain, ".", ",DC=")
}
