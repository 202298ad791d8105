/*
Package ldap provides the Active Directory access layer used by the collector.

# Connection Management

Client owns a single bound go-ldap connection:

  - SRV-based domain controller discovery with LDAPS preferred
  - LDAPS or StartTLS transport
  - Simple bind or Kerberos (GSSAPI) authentication
  - Paged searches exposed as lazy iter.Seq2 sequences
  - Retry with exponential backoff for transient server errors

# Attribute Decoding

Helpers turn raw directory attributes into collector-friendly values:

  - SIDHandler: binary objectSid / securityIdentifier / sIDHistory decoding
  - GUIDHandler: mixed-endian objectGUID decoding
  - userAccountControl and groupType flag parsing
  - AD FILETIME and generalized-time timestamps
  - DN parsing for parents, RDN values and domain names

# Error Handling

Directory failures are wrapped in LDAPError, which carries an ErrorCategory
and a retryable classification derived from the LDAP result code.

# Logging

All logging goes through tflog subsystems ("ldap", "kerberos"). Register
them on the context with NewSubsystemContext.
*/
package ldap
