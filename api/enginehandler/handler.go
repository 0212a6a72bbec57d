package enginehandler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/veilkey/capability-backend/api"
	"github.com/veilkey/capability-backend/engine"
	"github.com/veilkey/capability-backend/interfaces"
)

// Handler processes HTTP requests for role issuance, sharing and protected
// data items. Every authenticated request rebuilds the caller's key ring
// from the master secret and root role headers; the server keeps no key
// material between requests.
type Handler struct {
	engine *engine.Engine
	log    *slog.Logger
}

// NewHandler creates a new HTTP request handler over the capability engine.
func NewHandler(eng *engine.Engine, log *slog.Logger) *Handler {
	return &Handler{engine: eng, log: log}
}

// RegisterRoutes mounts the handler's routes on the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/v1/roles/root", h.HandleCreateRootRole)
	r.Post("/api/v1/roles", h.HandleCreateRole)
	r.Get("/api/v1/keyring", h.HandleKeyRing)

	r.Post("/api/v1/shares", h.HandleShareRole)
	r.Post("/api/v1/shares/{share_id}/accept", h.HandleAcceptShare)
	r.Post("/api/v1/edges/{edge_id}/revoke", h.HandleRevokeEdge)

	r.Post("/api/v1/data", h.HandleCreateDataItem)
	r.Get("/api/v1/data/{item_id}", h.HandleOpenDataItem)
	r.Put("/api/v1/data/{item_id}", h.HandleUpdateDataItem)
	r.Delete("/api/v1/data/{item_id}", h.HandleDestroyDataItem)
	r.Post("/api/v1/data/{item_id}/grants", h.HandleGrantData)
	r.Post("/api/v1/grants/{grant_id}/revoke", h.HandleRevokeGrant)
}

// HandleCreateRootRole creates a root role sealed under the caller's master
// secret. Only the master secret header is required; the new role id becomes
// a root the caller lists on later requests.
func (h *Handler) HandleCreateRootRole(w http.ResponseWriter, r *http.Request) {
	master, err := api.MasterSecretFromRequest(r)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	roleID, err := h.engine.CreateRootRole(r.Context(), master)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	api.WriteJSON(w, http.StatusCreated, CreateRoleResponse{RoleID: roleID.String()})
}

// HandleCreateRole creates a child role under a parent the caller controls.
func (h *Handler) HandleCreateRole(w http.ResponseWriter, r *http.Request) {
	var req CreateRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, h.log, fmt.Errorf("%w: %s", interfaces.ErrBadRequest, err))
		return
	}

	parentID, err := interfaces.ParseRoleID(req.ParentRoleID)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}
	relationship, err := interfaces.ParseAccessLevel(req.Relationship)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	ring, err := api.RingFromRequest(r.Context(), h.engine, r)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	roleID, err := h.engine.CreateRole(r.Context(), parentID, relationship, ring)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	api.WriteJSON(w, http.StatusCreated, CreateRoleResponse{RoleID: roleID.String()})
}

// HandleKeyRing reports which roles the caller's ring reaches and at what
// levels. The response contains identifiers only.
func (h *Handler) HandleKeyRing(w http.ResponseWriter, r *http.Request) {
	ring, err := api.RingFromRequest(r.Context(), h.engine, r)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	resp := KeyRingResponse{Roles: []RoleCapability{}}
	for _, roleID := range ring.RoleIDs() {
		var levels []string
		for _, level := range []interfaces.AccessLevel{interfaces.AccessRead, interfaces.AccessWrite, interfaces.AccessOwner} {
			if ring.Has(roleID, level) {
				levels = append(levels, level.String())
			}
		}
		resp.Roles = append(resp.Roles, RoleCapability{RoleID: roleID.String(), Levels: levels})
	}

	api.WriteJSON(w, http.StatusOK, resp)
}

// HandleShareRole shares one role's capabilities with another.
func (h *Handler) HandleShareRole(w http.ResponseWriter, r *http.Request) {
	var req ShareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, h.log, fmt.Errorf("%w: %s", interfaces.ErrBadRequest, err))
		return
	}

	sourceID, err := interfaces.ParseRoleID(req.SourceRoleID)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}
	targetID, err := interfaces.ParseRoleID(req.TargetRoleID)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}
	level, err := interfaces.ParseAccessLevel(req.Level)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	ring, err := api.RingFromRequest(r.Context(), h.engine, r)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	result, err := h.engine.ShareRole(r.Context(), sourceID, targetID, level, ring)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	api.WriteJSON(w, http.StatusOK, ShareResponse{
		Outcome:        string(result.Outcome),
		PendingShareID: result.PendingShareID.String(),
	})
}

// HandleAcceptShare accepts a pending share addressed to a role the caller
// owns.
func (h *Handler) HandleAcceptShare(w http.ResponseWriter, r *http.Request) {
	shareID, err := interfaces.ParsePendingShareID(chi.URLParam(r, "share_id"))
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	ring, err := api.RingFromRequest(r.Context(), h.engine, r)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	if err := h.engine.AcceptPendingShare(r.Context(), shareID, ring); err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	api.WriteJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

// HandleRevokeEdge revokes a delegation edge the caller's ring owns the
// parent of.
func (h *Handler) HandleRevokeEdge(w http.ResponseWriter, r *http.Request) {
	edgeID, err := interfaces.ParseEdgeID(chi.URLParam(r, "edge_id"))
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	ring, err := api.RingFromRequest(r.Context(), h.engine, r)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	if err := h.engine.RevokeEdge(r.Context(), edgeID, ring); err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	api.WriteJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

// HandleCreateDataItem creates a protected content record.
func (h *Handler) HandleCreateDataItem(w http.ResponseWriter, r *http.Request) {
	var req CreateDataItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, h.log, fmt.Errorf("%w: %s", interfaces.ErrBadRequest, err))
		return
	}

	ownerID, err := interfaces.ParseRoleID(req.OwnerRoleID)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	ring, err := api.RingFromRequest(r.Context(), h.engine, r)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	itemID, err := h.engine.CreateDataItem(r.Context(), ownerID, req.Plaintext, ring)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	api.WriteJSON(w, http.StatusCreated, CreateDataItemResponse{ItemID: itemID.String()})
}

// HandleOpenDataItem decrypts a data item for an authorized caller.
func (h *Handler) HandleOpenDataItem(w http.ResponseWriter, r *http.Request) {
	itemID, err := interfaces.ParseDataItemID(chi.URLParam(r, "item_id"))
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	ring, err := api.RingFromRequest(r.Context(), h.engine, r)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	plaintext, err := h.engine.OpenDataItem(r.Context(), itemID, ring)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	api.WriteJSON(w, http.StatusOK, DataItemResponse{Plaintext: plaintext})
}

// HandleUpdateDataItem replaces a data item's content.
func (h *Handler) HandleUpdateDataItem(w http.ResponseWriter, r *http.Request) {
	itemID, err := interfaces.ParseDataItemID(chi.URLParam(r, "item_id"))
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	var req UpdateDataItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, h.log, fmt.Errorf("%w: %s", interfaces.ErrBadRequest, err))
		return
	}

	ring, err := api.RingFromRequest(r.Context(), h.engine, r)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	if err := h.engine.UpdateDataItem(r.Context(), itemID, req.Plaintext, ring); err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	api.WriteJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// HandleDestroyDataItem destroys a data item and its key material.
func (h *Handler) HandleDestroyDataItem(w http.ResponseWriter, r *http.Request) {
	itemID, err := interfaces.ParseDataItemID(chi.URLParam(r, "item_id"))
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	ring, err := api.RingFromRequest(r.Context(), h.engine, r)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	if err := h.engine.DestroyDataItem(r.Context(), itemID, ring); err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	api.WriteJSON(w, http.StatusOK, map[string]string{"status": "destroyed"})
}

// HandleGrantData grants a role access to a data item.
func (h *Handler) HandleGrantData(w http.ResponseWriter, r *http.Request) {
	itemID, err := interfaces.ParseDataItemID(chi.URLParam(r, "item_id"))
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	var req GrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, h.log, fmt.Errorf("%w: %s", interfaces.ErrBadRequest, err))
		return
	}

	granteeID, err := interfaces.ParseRoleID(req.GranteeRoleID)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}
	level, err := interfaces.ParseAccessLevel(req.Level)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	ring, err := api.RingFromRequest(r.Context(), h.engine, r)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	grantID, err := h.engine.GrantData(r.Context(), itemID, granteeID, level, ring)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	api.WriteJSON(w, http.StatusCreated, GrantResponse{GrantID: grantID.String()})
}

// HandleRevokeGrant revokes a data item grant.
func (h *Handler) HandleRevokeGrant(w http.ResponseWriter, r *http.Request) {
	grantID, err := interfaces.ParseGrantID(chi.URLParam(r, "grant_id"))
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	ring, err := api.RingFromRequest(r.Context(), h.engine, r)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	if err := h.engine.RevokeGrant(r.Context(), grantID, ring); err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	api.WriteJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}
