package collector

import (
	"encoding/json"
	"fmt"
)

// TypedPrincipal references another directory object by identifier and label.
type TypedPrincipal struct {
	ObjectIdentifier string `json:"ObjectIdentifier"`
	ObjectType       Label  `json:"ObjectType"`
}

// ACE is one permission grant on an object.
type ACE struct {
	PrincipalSID    string `json:"PrincipalSID"`
	PrincipalType   Label  `json:"PrincipalType"`
	RightName       string `json:"RightName"`
	IsInherited     bool   `json:"IsInherited"`
	InheritanceHash string `json:"InheritanceHash,omitempty"`
}

// Base is the shape shared by every record.
type Base struct {
	ObjectIdentifier string          `json:"ObjectIdentifier"`
	Properties       map[string]any  `json:"Properties"`
	Aces             []ACE           `json:"Aces"`
	IsACLProtected   bool            `json:"IsACLProtected"`
	IsDeleted        bool            `json:"IsDeleted"`
	ContainedBy      *TypedPrincipal `json:"ContainedBy"`
}

func (b *Base) base() *Base { return b }

func newBase(objectID string) Base {
	return Base{
		ObjectIdentifier: objectID,
		Properties:       make(map[string]any),
		Aces:             []ACE{},
	}
}

// Record is an assembled directory object. The set of implementations is
// closed to this package.
type Record interface {
	Label() Label
	base() *Base
}

// Common returns the shared fields of a record.
func Common(r Record) *Base {
	return r.base()
}

// SPNPrivilege is a service the account can reach through one of its SPNs.
type SPNPrivilege struct {
	ComputerSID string `json:"ComputerSID"`
	Port        int    `json:"Port"`
	Service     string `json:"Service"`
}

// GPLink is a group policy linked to a domain or OU.
type GPLink struct {
	GUID       string `json:"GUID"`
	IsEnforced bool   `json:"IsEnforced"`
}

// ResultingGPOChanges is the local group membership applied by linked GPOs.
type ResultingGPOChanges struct {
	LocalAdmins        []TypedPrincipal `json:"LocalAdmins"`
	RemoteDesktopUsers []TypedPrincipal `json:"RemoteDesktopUsers"`
	DcomUsers          []TypedPrincipal `json:"DcomUsers"`
	PSRemoteUsers      []TypedPrincipal `json:"PSRemoteUsers"`
	AffectedComputers  []TypedPrincipal `json:"AffectedComputers"`
}

// ComputerStatus is the outcome of the availability probe.
type ComputerStatus struct {
	Connectable bool   `json:"Connectable"`
	Error       string `json:"Error"`
}

// Session is a user logged on to a computer.
type Session struct {
	ComputerSID string `json:"ComputerSID"`
	UserSID     string `json:"UserSID"`
}

// APIResult carries whether a remote read succeeded.
type APIResult struct {
	Collected     bool   `json:"Collected"`
	FailureReason string `json:"FailureReason,omitempty"`
}

// SessionAPIResult is the result of a session enumeration.
type SessionAPIResult struct {
	APIResult
	Results []Session `json:"Results"`
}

// LocalGroupAPIResult is one local group read from a computer.
type LocalGroupAPIResult struct {
	APIResult
	Results          []TypedPrincipal `json:"Results"`
	LocalNames       []NamedPrincipal `json:"LocalNames"`
	Name             string           `json:"Name"`
	ObjectIdentifier string           `json:"ObjectIdentifier"`
}

// NamedPrincipal is a local account that could not be mapped to a directory object.
type NamedPrincipal struct {
	ObjectID      string `json:"ObjectId"`
	PrincipalName string `json:"PrincipalName"`
}

// UserRightsAssignmentAPIResult is one privilege read from a computer.
type UserRightsAssignmentAPIResult struct {
	APIResult
	Privilege  string           `json:"Privilege"`
	Results    []TypedPrincipal `json:"Results"`
	LocalNames []NamedPrincipal `json:"LocalNames"`
}

// IntRegistryAPIResult is an integer registry value.
type IntRegistryAPIResult struct {
	APIResult
	Value int `json:"Value"`
}

// BoolRegistryAPIResult is a boolean registry value.
type BoolRegistryAPIResult struct {
	APIResult
	Value bool `json:"Value"`
}

// EnrollmentAgentRestriction limits which agents can enroll on behalf of whom.
type EnrollmentAgentRestriction struct {
	AccessType   string           `json:"AccessType"`
	Agent        TypedPrincipal   `json:"Agent"`
	Targets      []TypedPrincipal `json:"Targets"`
	Template     *TypedPrincipal  `json:"Template"`
	AllTemplates bool             `json:"AllTemplates"`
	AllTargets   bool             `json:"AllTargets"`
}

// EnrollmentAgentRegistryAPIResult holds the enrollment agent restrictions of a CA.
type EnrollmentAgentRegistryAPIResult struct {
	APIResult
	Restrictions []EnrollmentAgentRestriction `json:"Restrictions"`
}

// ACLRegistryAPIResult is a security descriptor read from the CA registry.
type ACLRegistryAPIResult struct {
	APIResult
	Data []ACE `json:"Data"`
}

// DCRegistryData holds the certificate binding settings of a domain controller.
type DCRegistryData struct {
	CertificateMappingMethods           *IntRegistryAPIResult `json:"CertificateMappingMethods"`
	StrongCertificateBindingEnforcement *IntRegistryAPIResult `json:"StrongCertificateBindingEnforcement"`
}

// CARegistryData holds the registry findings of an enterprise CA.
type CARegistryData struct {
	CASecurity                  ACLRegistryAPIResult             `json:"CASecurity"`
	EnrollmentAgentRestrictions EnrollmentAgentRegistryAPIResult `json:"EnrollmentAgentRestrictions"`
	IsUserSpecifiesSanEnabled   BoolRegistryAPIResult            `json:"IsUserSpecifiesSanEnabled"`
	RoleSeparationEnabled       BoolRegistryAPIResult            `json:"RoleSeparationEnabled"`
}

// User is an assembled user account.
type User struct {
	Base
	AllowedToDelegate       []TypedPrincipal `json:"AllowedToDelegate"`
	SPNTargets              []SPNPrivilege   `json:"SPNTargets"`
	PrimaryGroupSID         string           `json:"PrimaryGroupSID"`
	HasSIDHistory           []TypedPrincipal `json:"HasSIDHistory"`
	UnconstrainedDelegation bool             `json:"UnconstrainedDelegation"`
	DomainSID               string           `json:"DomainSID"`
}

// Computer is an assembled computer account.
type Computer struct {
	Base
	PrimaryGroupSID         string                          `json:"PrimaryGroupSID"`
	AllowedToDelegate       []TypedPrincipal                `json:"AllowedToDelegate"`
	AllowedToAct            []TypedPrincipal                `json:"AllowedToAct"`
	HasSIDHistory           []TypedPrincipal                `json:"HasSIDHistory"`
	DumpSMSAPassword        []TypedPrincipal                `json:"DumpSMSAPassword"`
	UnconstrainedDelegation bool                            `json:"UnconstrainedDelegation"`
	IsDC                    bool                            `json:"IsDC"`
	DomainSID               string                          `json:"DomainSID"`
	Status                  *ComputerStatus                 `json:"Status"`
	Sessions                *SessionAPIResult               `json:"Sessions"`
	PrivilegedSessions      *SessionAPIResult               `json:"PrivilegedSessions"`
	RegistrySessions        *SessionAPIResult               `json:"RegistrySessions"`
	UserRights              []UserRightsAssignmentAPIResult `json:"UserRights"`
	LocalGroups             []LocalGroupAPIResult           `json:"LocalGroups"`
	DCRegistryData          *DCRegistryData                 `json:"DCRegistryData"`
}

// Group is an assembled group.
type Group struct {
	Base
	Members []TypedPrincipal `json:"Members"`
}

// GPO is an assembled group policy object.
type GPO struct {
	Base
}

// Domain is an assembled domain head.
type Domain struct {
	Base
	Trusts               []DomainTrust        `json:"Trusts"`
	ForestRootIdentifier string               `json:"ForestRootIdentifier,omitempty"`
	Links                []GPLink             `json:"Links"`
	GPOChanges           *ResultingGPOChanges `json:"GPOChanges"`
	InheritanceHashes    []string             `json:"InheritanceHashes"`
}

// OU is an assembled organizational unit.
type OU struct {
	Base
	Links             []GPLink             `json:"Links"`
	GPOChanges        *ResultingGPOChanges `json:"GPOChanges"`
	InheritanceHashes []string             `json:"InheritanceHashes"`
}

// Container is an assembled container or configuration object.
type Container struct {
	Base
	InheritanceHashes []string `json:"InheritanceHashes"`
}

// CertTemplate is an assembled certificate template.
type CertTemplate struct {
	Base
}

// RootCA is an assembled root certification authority.
type RootCA struct {
	Base
	DomainSID string `json:"DomainSID"`
}

// AIACA is an assembled AIA certification authority.
type AIACA struct {
	Base
}

// EnterpriseCA is an assembled enterprise certification authority.
type EnterpriseCA struct {
	Base
	HostingComputer      string           `json:"HostingComputer,omitempty"`
	CARegistryData       *CARegistryData  `json:"CARegistryData"`
	EnabledCertTemplates []TypedPrincipal `json:"EnabledCertTemplates"`
}

// NTAuthStore is an assembled NTAuth certificate store.
type NTAuthStore struct {
	Base
}

// IssuancePolicy is an assembled issuance policy OID object.
type IssuancePolicy struct {
	Base
	GroupLink *TypedPrincipal `json:"GroupLink"`
}

func (*User) Label() Label           { return LabelUser }
func (*Computer) Label() Label       { return LabelComputer }
func (*Group) Label() Label          { return LabelGroup }
func (*GPO) Label() Label            { return LabelGPO }
func (*Domain) Label() Label         { return LabelDomain }
func (*OU) Label() Label             { return LabelOU }
func (*Container) Label() Label      { return LabelContainer }
func (*CertTemplate) Label() Label   { return LabelCertTemplate }
func (*RootCA) Label() Label         { return LabelRootCA }
func (*AIACA) Label() Label          { return LabelAIACA }
func (*EnterpriseCA) Label() Label   { return LabelEnterpriseCA }
func (*NTAuthStore) Label() Label    { return LabelNTAuthStore }
func (*IssuancePolicy) Label() Label { return LabelIssuancePolicy }

// TrustDirection is the direction of a trust, as stored in trustDirection.
type TrustDirection int

const (
	TrustDirectionDisabled      TrustDirection = 0
	TrustDirectionInbound       TrustDirection = 1
	TrustDirectionOutbound      TrustDirection = 2
	TrustDirectionBidirectional TrustDirection = 3
)

func (d TrustDirection) String() string {
	switch d {
	case TrustDirectionDisabled:
		return "Disabled"
	case TrustDirectionInbound:
		return "Inbound"
	case TrustDirectionOutbound:
		return "Outbound"
	case TrustDirectionBidirectional:
		return "Bidirectional"
	}
	return fmt.Sprintf("TrustDirection(%d)", int(d))
}

// MarshalJSON writes the direction by name.
func (d TrustDirection) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// TrustType classifies a trust from its attribute flags.
type TrustType string

const (
	TrustTypeParentChild TrustType = "ParentChild"
	TrustTypeForest      TrustType = "Forest"
	TrustTypeExternal    TrustType = "External"
	TrustTypeUnknown     TrustType = "Unknown"
)

// DomainTrust is one trust relationship of a domain.
type DomainTrust struct {
	TargetDomainSid     string         `json:"TargetDomainSid"`
	TargetDomainName    string         `json:"TargetDomainName"`
	IsTransitive        bool           `json:"IsTransitive"`
	SidFilteringEnabled bool           `json:"SidFilteringEnabled"`
	TrustDirection      TrustDirection `json:"TrustDirection"`
	TrustType           TrustType      `json:"TrustType"`
}
