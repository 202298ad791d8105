// Package collector classifies Active Directory entries and assembles them
// into graph records.
//
// # Classification
//
// ObjectProcessor.Classify takes one raw *ldap.Entry, drops known noise
// (domain update and policy delta objects), resolves the entry's identity
// through an EntryResolver and hands it to the assembler for its label.
// Entries that cannot be resolved or have no known label produce no record
// and no error.
//
// # Assembly
//
// Every assembler runs the same shared collectors in order: properties,
// ACL, group data (users, computers and groups only) and containers. Each
// is gated by the enabled CollectionMethod set. Computers are then probed
// and, when reachable, enumerated remotely with a pacing delay before each
// step. Domains add trusts and the forest root; enterprise CAs add their
// registry configuration.
//
// # Collaborators
//
// Directory queries, name resolution, remote enumeration and security
// descriptor decoding are injected through Dependencies. Per-host failures
// are reported inside the returned API results; an error returned by a
// collaborator aborts the record. DirectoryDependencies supplies the
// collaborators that only need directory searches.
//
// # Logging
//
// The package logs through the tflog "collector" subsystem. Wrap the context
// with LoggingContext before the first call.
package collector
