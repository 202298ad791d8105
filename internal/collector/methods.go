package collector

import (
	"fmt"
	"strings"
)

// CollectionMethod is a set of independently enabled collection categories.
type CollectionMethod uint32

const (
	MethodGroup CollectionMethod = 1 << iota
	MethodLocalAdmin
	MethodGPOLocalGroup
	MethodSession
	MethodLoggedOn
	MethodTrusts
	MethodACL
	MethodContainer
	MethodRDP
	MethodObjectProps
	MethodDCOM
	MethodSPNTargets
	MethodPSRemote
	MethodUserRights
	MethodCARegistry
	MethodDCRegistry
	MethodCertServices
)

// Composite sets.
const (
	MethodLocalGroups  = MethodLocalAdmin | MethodRDP | MethodDCOM | MethodPSRemote
	MethodComputerOnly = MethodLocalGroups | MethodSession | MethodUserRights | MethodCARegistry | MethodDCRegistry
	MethodDCOnly       = MethodACL | MethodContainer | MethodGroup | MethodObjectProps | MethodTrusts | MethodGPOLocalGroup | MethodCertServices
	MethodDefault      = MethodGroup | MethodSession | MethodTrusts | MethodACL | MethodObjectProps | MethodLocalGroups | MethodSPNTargets | MethodContainer | MethodCertServices
	MethodAll          = MethodDefault | MethodLoggedOn | MethodGPOLocalGroup | MethodUserRights | MethodCARegistry | MethodDCRegistry
	MethodNone         = CollectionMethod(0)
)

// computerEnrichment is every category that needs a live computer.
const computerEnrichment = MethodSession | MethodLoggedOn | MethodUserRights | MethodDCRegistry | MethodLocalGroups

var methodNames = []struct {
	name   string
	method CollectionMethod
}{
	{"Group", MethodGroup},
	{"LocalAdmin", MethodLocalAdmin},
	{"GPOLocalGroup", MethodGPOLocalGroup},
	{"Session", MethodSession},
	{"LoggedOn", MethodLoggedOn},
	{"Trusts", MethodTrusts},
	{"ACL", MethodACL},
	{"Container", MethodContainer},
	{"RDP", MethodRDP},
	{"ObjectProps", MethodObjectProps},
	{"DCOM", MethodDCOM},
	{"SPNTargets", MethodSPNTargets},
	{"PSRemote", MethodPSRemote},
	{"UserRights", MethodUserRights},
	{"CARegistry", MethodCARegistry},
	{"DCRegistry", MethodDCRegistry},
	{"CertServices", MethodCertServices},
}

var compositeNames = map[string]CollectionMethod{
	"localgroup":   MethodLocalGroups,
	"localgroups":  MethodLocalGroups,
	"computeronly": MethodComputerOnly,
	"dconly":       MethodDCOnly,
	"default":      MethodDefault,
	"all":          MethodAll,
	"none":         MethodNone,
}

// Has reports whether every bit of m2 is set.
func (m CollectionMethod) Has(m2 CollectionMethod) bool {
	return m&m2 == m2
}

// Any reports whether at least one bit of m2 is set.
func (m CollectionMethod) Any(m2 CollectionMethod) bool {
	return m&m2 != 0
}

// IsLocalGroupCollectionSet reports whether any local group variant is enabled.
func (m CollectionMethod) IsLocalGroupCollectionSet() bool {
	return m.Any(MethodLocalGroups)
}

// IsComputerCollectionSet reports whether anything needs a reachable computer.
func (m CollectionMethod) IsComputerCollectionSet() bool {
	return m.Any(computerEnrichment)
}

// CollectsProperties reports whether the property extractors run.
func (m CollectionMethod) CollectsProperties() bool {
	return m.Any(MethodObjectProps | MethodCertServices)
}

// CollectsACL reports whether ACL processing runs.
func (m CollectionMethod) CollectsACL() bool {
	return m.Any(MethodACL | MethodCertServices)
}

// CollectsContainers reports whether container and GPO link resolution runs.
func (m CollectionMethod) CollectsContainers() bool {
	return m.Any(MethodContainer | MethodCertServices)
}

// String lists the set categories separated by commas.
func (m CollectionMethod) String() string {
	if m == MethodNone {
		return "None"
	}
	var names []string
	for _, n := range methodNames {
		if m.Has(n.method) {
			names = append(names, n.name)
		}
	}
	return strings.Join(names, ",")
}

// ParseCollectionMethods combines method names, case-insensitively. Composite
// names (Default, DCOnly, ComputerOnly, LocalGroup, All) are accepted.
func ParseCollectionMethods(names []string) (CollectionMethod, error) {
	var m CollectionMethod
	for _, raw := range names {
		for _, part := range strings.Split(raw, ",") {
			name := strings.ToLower(strings.TrimSpace(part))
			if name == "" {
				continue
			}
			if c, ok := compositeNames[name]; ok {
				m |= c
				continue
			}
			found := false
			for _, n := range methodNames {
				if strings.ToLower(n.name) == name {
					m |= n.method
					found = true
					break
				}
			}
			if !found {
				return MethodNone, fmt.Errorf("unknown collection method %q", strings.TrimSpace(part))
			}
		}
	}
	return m, nil
}
