package collector

import "strings"

// Label is the classification of a directory object.
type Label string

const (
	LabelBase           Label = "Base"
	LabelUser           Label = "User"
	LabelComputer       Label = "Computer"
	LabelGroup          Label = "Group"
	LabelGPO            Label = "GPO"
	LabelDomain         Label = "Domain"
	LabelOU             Label = "OU"
	LabelContainer      Label = "Container"
	LabelConfiguration  Label = "Configuration"
	LabelCertTemplate   Label = "CertTemplate"
	LabelRootCA         Label = "RootCA"
	LabelAIACA          Label = "AIACA"
	LabelEnterpriseCA   Label = "EnterpriseCA"
	LabelNTAuthStore    Label = "NTAuthStore"
	LabelIssuancePolicy Label = "IssuancePolicy"
)

var labels = []Label{
	LabelBase, LabelUser, LabelComputer, LabelGroup, LabelGPO, LabelDomain, LabelOU,
	LabelContainer, LabelConfiguration, LabelCertTemplate, LabelRootCA, LabelAIACA,
	LabelEnterpriseCA, LabelNTAuthStore, LabelIssuancePolicy,
}

// ParseLabel matches a label name case-insensitively. Unknown names map to LabelBase.
func ParseLabel(s string) Label {
	for _, l := range labels {
		if strings.EqualFold(string(l), s) {
			return l
		}
	}
	return LabelBase
}

func (l Label) String() string {
	return string(l)
}

// ResolvedEntry is the identity of a raw directory entry as established by an
// EntryResolver. It is read-only once produced.
type ResolvedEntry struct {
	ObjectID           string
	ObjectType         Label
	DomainSID          string
	Domain             string
	DisplayName        string
	IsDomainController bool
}
