package recoveryhandler

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

// Client is a typed HTTP client for the recovery API. It carries the same
// session credentials as the engine client.
type Client struct {
	BaseURL string
	Client  *http.Client

	Master cryptoutils.SymmetricKey
	Roots  []interfaces.RoleID
}

// NewClient creates a recovery client for the given server.
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

// Activate enrolls holders as recovery trustees for the role.
func (c *Client) Activate(ctx context.Context, roleID interfaces.RoleID, holders []interfaces.RoleID) (*ActivateResponse, error) {
	req := ActivateRequest{RoleID: roleID.String()}
	for _, holder := range holders {
		req.HolderRoleIDs = append(req.HolderRoleIDs, holder.String())
	}
	var resp ActivateResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/recovery/activate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Request opens a recovery request for the role.
func (c *Client) Request(ctx context.Context, roleID interfaces.RoleID) (*RequestRecoveryResponse, error) {
	var resp RequestRecoveryResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/recovery/requests", RequestRecoveryRequest{RoleID: roleID.String()}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status reports the state of a recovery request.
func (c *Client) Status(ctx context.Context, requestID interfaces.RecoveryRequestID) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/recovery/requests/%s", requestID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Approve records the holder's approval, proven by the share code.
func (c *Client) Approve(ctx context.Context, requestID interfaces.RecoveryRequestID, holder interfaces.RoleID, shareCode string) error {
	req := ApproveRequest{HolderRoleID: holder.String(), ShareCode: shareCode}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/recovery/requests/%s/approve", requestID), req, nil)
}

// Cancel cancels an open recovery request.
func (c *Client) Cancel(ctx context.Context, requestID interfaces.RecoveryRequestID) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/recovery/requests/%s/cancel", requestID), nil, nil)
}

// Complete finishes a ready recovery and returns the recovered owner key.
func (c *Client) Complete(ctx context.Context, requestID interfaces.RecoveryRequestID, sessionPrivateKey []byte) (cryptoutils.SymmetricKey, error) {
	var resp CompleteResponse
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/recovery/requests/%s/complete", requestID), CompleteRequest{SessionPrivateKey: sessionPrivateKey}, &resp); err != nil {
		return nil, err
	}
	return cryptoutils.SymmetricKey(resp.OwnerKey), nil
}
