package ldap

import (
	"github.com/go-ldap/ldap/v3"
)

// GroupScope represents the scope of an Active Directory group.
type GroupScope string

const (
	GroupScopeGlobal      GroupScope = "Global"      // Members from the same domain
	GroupScopeUniversal   GroupScope = "Universal"   // Members from any domain in the forest
	GroupScopeDomainLocal GroupScope = "DomainLocal" // Members from any domain
)

// GroupCategory represents the category of an Active Directory group.
type GroupCategory string

const (
	GroupCategorySecurity     GroupCategory = "Security"
	GroupCategoryDistribution GroupCategory = "Distribution"
)

// Active Directory groupType bit flags.
const (
	GroupTypeFlagGlobal      int32 = 0x00000002  // ADS_GROUP_TYPE_GLOBAL_GROUP
	GroupTypeFlagDomainLocal int32 = 0x00000004  // ADS_GROUP_TYPE_DOMAIN_LOCAL_GROUP
	GroupTypeFlagUniversal   int32 = 0x00000008  // ADS_GROUP_TYPE_UNIVERSAL_GROUP
	GroupTypeFlagSecurity    int32 = -2147483648 // ADS_GROUP_TYPE_SECURITY_ENABLED
)

// ParseGroupType extracts scope and category from a groupType value.
func ParseGroupType(groupType int32) (GroupScope, GroupCategory) {
	scope := GroupScopeGlobal
	switch {
	case groupType&GroupTypeFlagDomainLocal != 0:
		scope = GroupScopeDomainLocal
	case groupType&GroupTypeFlagUniversal != 0:
		scope = GroupScopeUniversal
	}

	if groupType&GroupTypeFlagSecurity != 0 {
		return scope, GroupCategorySecurity
	}
	return scope, GroupCategoryDistribution
}

// AccountFlags is the decoded form of userAccountControl.
type AccountFlags struct {
	Enabled                 bool
	PasswordNotRequired     bool
	PasswordNeverExpires    bool
	DontRequirePreauth      bool
	UnconstrainedDelegation bool
	TrustedToAuth           bool
	Sensitive               bool
	SmartcardRequired       bool
	UseDESKeyOnly           bool
	ServerTrust             bool
	EncryptedTextPwdAllowed bool
}

// ParseUserAccountControl decodes a userAccountControl value.
func ParseUserAccountControl(uac int64) AccountFlags {
	return AccountFlags{
		Enabled:                 uac&UACAccountDisabled == 0,
		PasswordNotRequired:     uac&UACPasswordNotRequired != 0,
		PasswordNeverExpires:    uac&UACPasswordNeverExpires != 0,
		DontRequirePreauth:      uac&UACDontRequirePreauth != 0,
		UnconstrainedDelegation: uac&UACTrustedForDelegation != 0,
		TrustedToAuth:           uac&UACTrustedToAuthForDeleg != 0,
		Sensitive:               uac&UACNotDelegated != 0,
		SmartcardRequired:       uac&UACSmartCardRequired != 0,
		UseDESKeyOnly:           uac&UACUseDESKeyOnly != 0,
		ServerTrust:             uac&UACServerTrustAccount != 0,
		EncryptedTextPwdAllowed: uac&UACEncryptedTextPwd != 0,
	}
}

// EntryAccountFlags reads and decodes userAccountControl from an entry.
// It reports false when the attribute is absent or malformed.
func EntryAccountFlags(entry *ldap.Entry) (AccountFlags, bool) {
	uac, ok := IntAttribute(entry, AttrUserAccountControl)
	if !ok {
		return AccountFlags{}, false
	}
	return ParseUserAccountControl(uac), true
}
