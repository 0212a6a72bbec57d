/*
Package engine implements the capability engine: role issuance, data
protection, the role sharing protocol, the N-of-N recovery protocol and the
ledger bookkeeping around them.

Every operation takes the caller's key ring, rebuilt per request from the
roles the principal controls and its session master secret. Authorization is
purely cryptographic: an operation proceeds exactly when the ring holds the
capability keys the operation needs to wrap or unwrap, and fails with
ErrForbidden otherwise.

All mutating operations run inside one store transaction. The audit ledger
entry is appended first and the entities written after reference it as their
provenance, so a crash can never leave a key without provenance or a
provenance record for a key that does not exist.
*/
package engine
