package enginehandler

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/veilkey/capability-backend/api"
	"github.com/veilkey/capability-backend/cryptoutils"
	"github.com/veilkey/capability-backend/interfaces"
)

// Client is a typed HTTP client for the engine API. It holds the caller's
// session credentials and attaches them to every request.
type Client struct {
	BaseURL string
	Client  *http.Client

	// Master is the caller's master secret, sent hex-encoded in the
	// credentials header of every request.
	Master cryptoutils.SymmetricKey

	// Roots are the role ids the caller controls directly.
	Roots []interfaces.RoleID
}

// NewClient creates a client for the given server with the caller's session
// credentials.
func NewClient(baseURL string, master cryptoutils.SymmetricKey, roots []interfaces.RoleID) *Client {
	return &Client{
		BaseURL: baseURL,
		Client:  http.DefaultClient,
		Master:  master,
		Roots:   roots,
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("could not encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("could not initialize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(api.MasterSecretHeader, hex.EncodeToString(c.Master))
	if len(c.Roots) > 0 {
		roots := make([]string, len(c.Roots))
		for i, root := range c.Roots {
			roots[i] = root.String()
		}
		req.Header.Set(api.RootRolesHeader, strings.Join(roots, ","))
	}

	httpClient := c.Client
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("could not reach server: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("could not read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(raw))
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("could not parse response: %w", err)
		}
	}
	return nil
}

// CreateRootRole creates a root role sealed under the client's master secret
// and records it as one of the client's roots.
func (c *Client) CreateRootRole(ctx context.Context) (interfaces.RoleID, error) {
	var resp CreateRoleResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/roles/root", nil, &resp); err != nil {
		return "", err
	}
	roleID, err := interfaces.ParseRoleID(resp.RoleID)
	if err != nil {
		return "", err
	}
	c.Roots = append(c.Roots, roleID)
	return roleID, nil
}

// CreateRole creates a child role under a parent the caller controls.
func (c *Client) CreateRole(ctx context.Context, parent interfaces.RoleID, relationship interfaces.AccessLevel) (interfaces.RoleID, error) {
	req := CreateRoleRequest{ParentRoleID: parent.String(), Relationship: relationship.String()}
	var resp CreateRoleResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/roles", req, &resp); err != nil {
		return "", err
	}
	return interfaces.ParseRoleID(resp.RoleID)
}

// KeyRing reports the roles and levels the caller's ring reaches.
func (c *Client) KeyRing(ctx context.Context) (*KeyRingResponse, error) {
	var resp KeyRingResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/keyring", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ShareRole shares the source role with the target at the given level.
func (c *Client) ShareRole(ctx context.Context, source, target interfaces.RoleID, level interfaces.AccessLevel) (*ShareResponse, error) {
	req := ShareRequest{SourceRoleID: source.String(), TargetRoleID: target.String(), Level: level.String()}
	var resp ShareResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/shares", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AcceptPendingShare accepts a pending share addressed to one of the
// caller's roles.
func (c *Client) AcceptPendingShare(ctx context.Context, shareID interfaces.PendingShareID) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/shares/%s/accept", shareID), nil, nil)
}

// RevokeEdge revokes a delegation edge.
func (c *Client) RevokeEdge(ctx context.Context, edgeID interfaces.EdgeID) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/edges/%s/revoke", edgeID), nil, nil)
}

// CreateDataItem creates a protected content record.
func (c *Client) CreateDataItem(ctx context.Context, owner interfaces.RoleID, plaintext []byte) (interfaces.DataItemID, error) {
	req := CreateDataItemRequest{OwnerRoleID: owner.String(), Plaintext: plaintext}
	var resp CreateDataItemResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/data", req, &resp); err != nil {
		return "", err
	}
	return interfaces.ParseDataItemID(resp.ItemID)
}

// OpenDataItem fetches and decrypts a data item.
func (c *Client) OpenDataItem(ctx context.Context, itemID interfaces.DataItemID) ([]byte, error) {
	var resp DataItemResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/data/%s", itemID), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Plaintext, nil
}

// UpdateDataItem replaces a data item's content.
func (c *Client) UpdateDataItem(ctx context.Context, itemID interfaces.DataItemID, plaintext []byte) error {
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/api/v1/data/%s", itemID), UpdateDataItemRequest{Plaintext: plaintext}, nil)
}

// DestroyDataItem destroys a data item and its key material.
func (c *Client) DestroyDataItem(ctx context.Context, itemID interfaces.DataItemID) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/v1/data/%s", itemID), nil, nil)
}

// GrantData grants a role access to a data item.
func (c *Client) GrantData(ctx context.Context, itemID interfaces.DataItemID, grantee interfaces.RoleID, level interfaces.AccessLevel) (interfaces.GrantID, error) {
	req := GrantRequest{GranteeRoleID: grantee.String(), Level: level.String()}
	var resp GrantResponse
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/data/%s/grants", itemID), req, &resp); err != nil {
		return "", err
	}
	return interfaces.ParseGrantID(resp.GrantID)
}

// RevokeGrant revokes a data item grant.
func (c *Client) RevokeGrant(ctx context.Context, grantID interfaces.GrantID) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/grants/%s/revoke", grantID), nil, nil)
}
