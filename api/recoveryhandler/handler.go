package recoveryhandler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/veilkey/capability-backend/api"
	"github.com/veilkey/capability-backend/cryptoutils"
	"github.com/veilkey/capability-backend/engine"
	"github.com/veilkey/capability-backend/interfaces"
)

// ActivateRequest enrolls holder roles as recovery trustees for a role.
type ActivateRequest struct {
	RoleID        string   `json:"role_id"`
	HolderRoleIDs []string `json:"holder_role_ids"`
}

// HolderShareInfo pairs a holder with its out-of-band share code. Codes
// appear in this response exactly once and are never stored.
type HolderShareInfo struct {
	HolderRoleID string `json:"holder_role_id"`
	ShareCode    string `json:"share_code"`
}

// ActivateResponse returns the new configuration and the share codes to
// distribute out of band.
type ActivateResponse struct {
	RecoveryKeyID string            `json:"recovery_key_id"`
	Shares        []HolderShareInfo `json:"shares"`
}

// RequestRecoveryRequest opens a recovery request for a role.
type RequestRecoveryRequest struct {
	RoleID string `json:"role_id"`
}

// RequestRecoveryResponse returns the request id and the session private
// key the requester must present at completion. The server does not keep
// the private key.
type RequestRecoveryResponse struct {
	RequestID         string `json:"request_id"`
	SessionPrivateKey []byte `json:"session_private_key"`
}

// ApproveRequest is one holder's approval, proven by the share code.
type ApproveRequest struct {
	HolderRoleID string `json:"holder_role_id"`
	ShareCode    string `json:"share_code"`
}

// CompleteRequest finishes a ready recovery with the requester's session
// private key.
type CompleteRequest struct {
	SessionPrivateKey []byte `json:"session_private_key"`
}

// CompleteResponse carries the recovered owner key back to the requester.
type CompleteResponse struct {
	OwnerKey []byte `json:"owner_key"`
}

// StatusResponse reports where a recovery request stands.
type StatusResponse struct {
	RequestID          string     `json:"request_id"`
	RoleID             string     `json:"role_id"`
	Status             string     `json:"status"`
	RequiredApprovals  int        `json:"required_approvals"`
	SubmittedApprovals int        `json:"submitted_approvals"`
	CreatedUTC         time.Time  `json:"created_utc"`
	ResolvedUTC        *time.Time `json:"resolved_utc,omitempty"`
}

// Handler processes HTTP requests for the social recovery lifecycle.
type Handler struct {
	engine *engine.Engine
	log    *slog.Logger
}

// NewHandler creates a new recovery request handler over the capability
// engine.
func NewHandler(eng *engine.Engine, log *slog.Logger) *Handler {
	return &Handler{engine: eng, log: log}
}

// RegisterRoutes mounts the handler's routes on the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/v1/recovery/activate", h.HandleActivate)
	r.Post("/api/v1/recovery/requests", h.HandleRequest)
	r.Get("/api/v1/recovery/requests/{request_id}", h.HandleStatus)
	r.Post("/api/v1/recovery/requests/{request_id}/approve", h.HandleApprove)
	r.Post("/api/v1/recovery/requests/{request_id}/cancel", h.HandleCancel)
	r.Post("/api/v1/recovery/requests/{request_id}/complete", h.HandleComplete)
}

// HandleActivate enrolls the given holders as recovery trustees. The share
// codes in the response must reach the holders out of band; the store keeps
// only their digests.
func (h *Handler) HandleActivate(w http.ResponseWriter, r *http.Request) {
	var req ActivateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, h.log, fmt.Errorf("%w: %s", interfaces.ErrBadRequest, err))
		return
	}

	roleID, err := interfaces.ParseRoleID(req.RoleID)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}
	holders := make([]interfaces.RoleID, 0, len(req.HolderRoleIDs))
	for _, raw := range req.HolderRoleIDs {
		holder, err := interfaces.ParseRoleID(raw)
		if err != nil {
			api.WriteError(w, h.log, err)
			return
		}
		holders = append(holders, holder)
	}

	ring, err := api.RingFromRequest(r.Context(), h.engine, r)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	result, err := h.engine.ActivateRecovery(r.Context(), roleID, holders, ring)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	resp := ActivateResponse{RecoveryKeyID: result.RecoveryKeyID.String()}
	for _, share := range result.Shares {
		resp.Shares = append(resp.Shares, HolderShareInfo{
			HolderRoleID: share.HolderRoleID.String(),
			ShareCode:    share.ShareCode,
		})
	}
	api.WriteJSON(w, http.StatusCreated, resp)
}

// HandleRequest opens a recovery request. The session private key in the
// response stays with the requester until completion.
func (h *Handler) HandleRequest(w http.ResponseWriter, r *http.Request) {
	var req RequestRecoveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, h.log, fmt.Errorf("%w: %s", interfaces.ErrBadRequest, err))
		return
	}

	roleID, err := interfaces.ParseRoleID(req.RoleID)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	ring, err := api.RingFromRequest(r.Context(), h.engine, r)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	result, err := h.engine.RequestRecovery(r.Context(), roleID, ring)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	api.WriteJSON(w, http.StatusCreated, RequestRecoveryResponse{
		RequestID:         result.RequestID.String(),
		SessionPrivateKey: result.SessionPrivateKey,
	})
}

// HandleStatus reports the state of a recovery request. No key ring is
// needed; the response carries identifiers and counters only.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	requestID, err := interfaces.ParseRecoveryRequestID(chi.URLParam(r, "request_id"))
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	view, err := h.engine.RecoveryRequestStatus(r.Context(), requestID)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	api.WriteJSON(w, http.StatusOK, StatusResponse{
		RequestID:          view.ID.String(),
		RoleID:             view.RoleID.String(),
		Status:             view.Status.String(),
		RequiredApprovals:  view.RequiredApprovals,
		SubmittedApprovals: view.SubmittedApprovals,
		CreatedUTC:         view.CreatedUTC,
		ResolvedUTC:        view.ResolvedUTC,
	})
}

// HandleApprove records one holder's approval of a recovery request.
func (h *Handler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	requestID, err := interfaces.ParseRecoveryRequestID(chi.URLParam(r, "request_id"))
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	var req ApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, h.log, fmt.Errorf("%w: %s", interfaces.ErrBadRequest, err))
		return
	}

	holderID, err := interfaces.ParseRoleID(req.HolderRoleID)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	ring, err := api.RingFromRequest(r.Context(), h.engine, r)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	if err := h.engine.ApproveRecovery(r.Context(), requestID, holderID, req.ShareCode, ring); err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	api.WriteJSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

// HandleCancel cancels an open recovery request.
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	requestID, err := interfaces.ParseRecoveryRequestID(chi.URLParam(r, "request_id"))
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	ring, err := api.RingFromRequest(r.Context(), h.engine, r)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	if err := h.engine.CancelRecovery(r.Context(), requestID, ring); err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	api.WriteJSON(w, http.StatusOK, map[string]string{"status": "canceled"})
}

// HandleComplete finishes a ready recovery and returns the recovered owner
// key to the requester.
func (h *Handler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	requestID, err := interfaces.ParseRecoveryRequestID(chi.URLParam(r, "request_id"))
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	var req CompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, h.log, fmt.Errorf("%w: %s", interfaces.ErrBadRequest, err))
		return
	}

	ring, err := api.RingFromRequest(r.Context(), h.engine, r)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	result, err := h.engine.CompleteRecovery(r.Context(), requestID, cryptoutils.PrivateKeyPEM(req.SessionPrivateKey), ring)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	api.WriteJSON(w, http.StatusOK, CompleteResponse{OwnerKey: result.OwnerKey})
}
