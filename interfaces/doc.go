// Package interfaces defines the core types and contracts of the capability
// engine: the persisted entities (roles, delegation edges, wrapped keys,
// grants, pending shares, recovery material, ledger entries), the error
// taxonomy, the transactional record store, and the content-addressed blob
// store used for ledger archival.
//
// It provides the contract between components without implementation details.
// Authorization in this system is not a database flag: a principal is
// authorized to read, write or administer a role exactly when it can decrypt
// that role's capability key of the matching level. All entities here store
// key material exclusively as ciphertext; plaintext keys exist only inside a
// request-scoped key ring.
package interfaces
