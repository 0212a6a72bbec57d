package interfaces

import "fmt"

// Context-binding strings for the envelope primitive. Sealing and opening
// must use the identical context bytes; these helpers are the single place
// the conventions live. Every ciphertext is bound to the identity of the
// entity it protects, so it cannot be replayed as another entity's.

// KeyEntryContext binds a master-wrapped or owner-wrapped key entry to the
// role and key type it belongs to.
func KeyEntryContext(role RoleID, keyType KeyType) []byte {
	return []byte(fmt.Sprintf("keyentry:%s:%s", role, keyType))
}

// EdgeKeyContext binds a delegated key copy to the child role and key type
// it transmits.
func EdgeKeyContext(child RoleID, keyType KeyType) []byte {
	return []byte(fmt.Sprintf("edgekey:%s:%s", child, keyType))
}

// EdgeRelationshipContext binds an edge's sealed access level to the edge.
func EdgeRelationshipContext(edge EdgeID) []byte {
	return []byte(fmt.Sprintf("edgerel:%s", edge))
}

// RelationshipIndexInput is the blind-index input for an edge's access
// level, keyed by the parent's read key.
func RelationshipIndexInput(level AccessLevel) []byte {
	return []byte(fmt.Sprintf("edgerel-index:%s", level))
}

// RoleBlobContext binds a role's sealed private key blob to the role.
func RoleBlobContext(role RoleID) []byte {
	return []byte(fmt.Sprintf("roleblob:%s", role))
}

// DataItemContext binds a data item's sealed content to the item.
func DataItemContext(item DataItemID) []byte {
	return []byte(fmt.Sprintf("dataitem:%s", item))
}

// DataKeyContext binds a wrapped data key copy to the item it protects.
func DataKeyContext(item DataItemID) []byte {
	return []byte(fmt.Sprintf("datakey:%s", item))
}

// DataSigningKeyContext binds a wrapped item signing key to the item.
func DataSigningKeyContext(item DataItemID) []byte {
	return []byte(fmt.Sprintf("datasign:%s", item))
}

// RecoveryServerTermContext binds the server's sealed XOR term to the
// recovery configuration.
func RecoveryServerTermContext(key RecoveryKeyID) []byte {
	return []byte(fmt.Sprintf("recovery-server:%s", key))
}

// RecoveryOwnerKeyContext binds the owner key sealed under the recovery
// secret to the recovery configuration.
func RecoveryOwnerKeyContext(key RecoveryKeyID) []byte {
	return []byte(fmt.Sprintf("recovery-owner:%s", key))
}
