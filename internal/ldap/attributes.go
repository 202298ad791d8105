package ldap

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// Attribute names are matched case-insensitively; the lower-case spelling is canonical here.
const (
	AttrObjectGUID              = "objectguid"
	AttrObjectSID               = "objectsid"
	AttrObjectClass             = "objectclass"
	AttrDistinguishedName       = "distinguishedname"
	AttrSAMAccountName          = "samaccountname"
	AttrSAMAccountType          = "samaccounttype"
	AttrCN                      = "cn"
	AttrName                    = "name"
	AttrDisplayName             = "displayname"
	AttrDescription             = "description"
	AttrDNSHostName             = "dnshostname"
	AttrUserAccountControl      = "useraccountcontrol"
	AttrPrimaryGroupID          = "primarygroupid"
	AttrMember                  = "member"
	AttrAdminCount              = "admincount"
	AttrGroupType               = "grouptype"
	AttrSIDHistory              = "sidhistory"
	AttrServicePrincipalName    = "serviceprincipalname"
	AttrAllowedToDelegateTo     = "msds-allowedtodelegateto"
	AttrAllowedToActOnBehalf    = "msds-allowedtoactonbehalfofotheridentity"
	AttrHostServiceAccount      = "msds-hostserviceaccount"
	AttrGroupMSAMembership      = "msds-groupmsamembership"
	AttrOperatingSystem         = "operatingsystem"
	AttrOperatingSystemSP       = "operatingsystemservicepack"
	AttrWhenCreated             = "whencreated"
	AttrLastLogon               = "lastlogon"
	AttrLastLogonTimestamp      = "lastlogontimestamp"
	AttrPwdLastSet              = "pwdlastset"
	AttrGPLink                  = "gplink"
	AttrGPOptions               = "gpoptions"
	AttrGPCFileSysPath          = "gpcfilesyspath"
	AttrLegacyLAPSExpiry        = "ms-mcs-admpwdexpirationtime"
	AttrLAPSExpiry              = "mslaps-passwordexpirationtime"
	AttrSecurityIdentifier      = "securityidentifier"
	AttrTrustDirection          = "trustdirection"
	AttrTrustAttributes         = "trustattributes"
	AttrTrustType               = "trusttype"
	AttrFlatName                = "flatname"
	AttrCertificateTemplates    = "certificatetemplates"
	AttrCACertificate           = "cacertificate"
	AttrCertTemplateOID         = "mspki-cert-template-oid"
	AttrOIDGroupLink            = "msds-oidtogrouplink"
	AttrDomainFunctionality     = "msds-behavior-version"
	AttrCertificateNameFlag     = "mspki-certificate-name-flag"
	AttrEnrollmentFlag          = "mspki-enrollment-flag"
	AttrRASignature             = "mspki-ra-signature"
	AttrTemplateSchemaVersion   = "mspki-template-schema-version"
	AttrExtendedKeyUsage        = "pkiextendedkeyusage"
	AttrCertificateApplication  = "mspki-certificate-application-policy"
	AttrCAFlags                 = "flags"
	AttrSupportedEncryptionType = "msds-supportedencryptiontypes"

	// Root DSE and partition attributes.
	AttrRootDomainNamingContext    = "rootdomainnamingcontext"
	AttrConfigurationNamingContext = "configurationnamingcontext"
	AttrDNSRoot                    = "dnsroot"
)

// SAMAccountTypeMachine is the samAccountType of computer accounts.
const SAMAccountTypeMachine = 805306369

// User Account Control flags (from Microsoft documentation).
const (
	UACAccountDisabled       int64 = 0x00000002
	UACPasswordNotRequired   int64 = 0x00000020
	UACPasswordCantChange    int64 = 0x00000040
	UACEncryptedTextPwd      int64 = 0x00000080
	UACNormalAccount         int64 = 0x00000200
	UACWorkstationTrust      int64 = 0x00001000
	UACServerTrustAccount    int64 = 0x00002000
	UACPasswordNeverExpires  int64 = 0x00010000
	UACSmartCardRequired     int64 = 0x00040000
	UACTrustedForDelegation  int64 = 0x00080000
	UACNotDelegated          int64 = 0x00100000
	UACUseDESKeyOnly         int64 = 0x00200000
	UACDontRequirePreauth    int64 = 0x00400000
	UACPasswordExpired       int64 = 0x00800000
	UACTrustedToAuthForDeleg int64 = 0x01000000
	UACPartialSecretsAccount int64 = 0x04000000
)

// adEpoch is the number of 100ns intervals between 1601-01-01 and 1970-01-01.
const adEpoch = 116444736000000000

// generalizedTimeLayout is the AD whenCreated/whenChanged encoding.
const generalizedTimeLayout = "20060102150405.0Z"

// HasObjectClass reports whether the entry carries the given objectClass value.
func HasObjectClass(entry *ldap.Entry, class string) bool {
	for _, c := range entry.GetEqualFoldAttributeValues(AttrObjectClass) {
		if strings.EqualFold(c, class) {
			return true
		}
	}
	return false
}

// HasLAPS reports whether either legacy or Windows LAPS is configured on a computer.
func HasLAPS(entry *ldap.Entry) bool {
	return entry.GetEqualFoldAttributeValue(AttrLegacyLAPSExpiry) != "" ||
		entry.GetEqualFoldAttributeValue(AttrLAPSExpiry) != ""
}

// IntAttribute parses a numeric attribute. It reports false when the
// attribute is absent or not an integer.
func IntAttribute(entry *ldap.Entry, attribute string) (int64, bool) {
	raw := entry.GetEqualFoldAttributeValue(attribute)
	if raw == "" {
		return 0, false
	}

	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ParseADTimestamp parses Active Directory timestamp format (100-nanosecond intervals since Jan 1, 1601).
func ParseADTimestamp(timestamp string) (time.Time, error) {
	if timestamp == "" || timestamp == "0" {
		return time.Time{}, fmt.Errorf("empty or zero timestamp")
	}

	ticks, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp: %w", err)
	}

	if ticks <= adEpoch {
		return time.Time{}, fmt.Errorf("timestamp before Unix epoch")
	}

	return time.Unix(0, (ticks-adEpoch)*100).UTC(), nil
}

// ADTimestampToUnix converts an AD timestamp attribute to Unix seconds.
// Missing, zero and "never" values map to -1 for never set and 0 for absent.
func ADTimestampToUnix(entry *ldap.Entry, attribute string) int64 {
	raw := entry.GetEqualFoldAttributeValue(attribute)
	switch raw {
	case "":
		return 0
	case "0", "9223372036854775807":
		return -1
	}

	t, err := ParseADTimestamp(raw)
	if err != nil {
		return 0
	}
	return t.Unix()
}

// GeneralizedTimeToUnix converts a whenCreated-style attribute to Unix seconds, or 0.
func GeneralizedTimeToUnix(entry *ldap.Entry, attribute string) int64 {
	raw := entry.GetEqualFoldAttributeValue(attribute)
	if raw == "" {
		return 0
	}

	t, err := time.Parse(generalizedTimeLayout, raw)
	if err != nil {
		return 0
	}
	return t.Unix()
}
