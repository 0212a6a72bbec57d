package enginehandler

// CreateRoleRequest asks for a new role under an existing parent. The
// delegation edge to the parent carries the given relationship level.
type CreateRoleRequest struct {
	ParentRoleID string `json:"parent_role_id"`
	Relationship string `json:"relationship"`
}

// CreateRoleResponse returns the identifier of a newly created role.
type CreateRoleResponse struct {
	RoleID string `json:"role_id"`
}

// RoleCapability lists the access levels the caller's key ring holds for
// one reachable role.
type RoleCapability struct {
	RoleID string   `json:"role_id"`
	Levels []string `json:"levels"`
}

// KeyRingResponse describes the caller's expanded key ring. It carries
// reachability only, never key material.
type KeyRingResponse struct {
	Roles []RoleCapability `json:"roles"`
}

// ShareRequest asks to share the source role's capabilities with the target
// role at the given level.
type ShareRequest struct {
	SourceRoleID string `json:"source_role_id"`
	TargetRoleID string `json:"target_role_id"`
	Level        string `json:"level"`
}

// ShareResponse reports whether the share materialized directly or awaits
// acceptance by the target.
type ShareResponse struct {
	Outcome        string `json:"outcome"`
	PendingShareID string `json:"pending_share_id,omitempty"`
}

// CreateDataItemRequest creates a protected content record owned by one of
// the caller's roles. Plaintext is base64 on the wire.
type CreateDataItemRequest struct {
	OwnerRoleID string `json:"owner_role_id"`
	Plaintext   []byte `json:"plaintext"`
}

// CreateDataItemResponse returns the identifier of a new data item.
type CreateDataItemResponse struct {
	ItemID string `json:"item_id"`
}

// DataItemResponse carries decrypted content back to an authorized caller.
type DataItemResponse struct {
	Plaintext []byte `json:"plaintext"`
}

// UpdateDataItemRequest replaces a data item's content.
type UpdateDataItemRequest struct {
	Plaintext []byte `json:"plaintext"`
}

// GrantRequest grants a role access to a data item at the given level.
type GrantRequest struct {
	GranteeRoleID string `json:"grantee_role_id"`
	Level         string `json:"level"`
}

// GrantResponse returns the identifier of a new grant.
type GrantResponse struct {
	GrantID string `json:"grant_id"`
}
