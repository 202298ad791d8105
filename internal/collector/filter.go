package collector

import "strings"

// IsValidEntryDN rejects entries that are internal bookkeeping rather than
// principals: anything below CN=DomainUpdates,CN=System and the User/Machine
// halves of group policy containers under CN=Policies,CN=System.
func IsValidEntryDN(dn string) bool {
	lower := strings.ToLower(dn)

	if strings.Contains(lower, "cn=domainupdates,cn=system") {
		return false
	}

	if strings.Contains(lower, "cn=policies,cn=system") &&
		(strings.HasPrefix(lower, "cn=user") || strings.HasPrefix(lower, "cn=machine")) {
		return false
	}

	return true
}
