package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/veilkey/capability-backend/cryptoutils"
	"github.com/veilkey/capability-backend/engine"
	"github.com/veilkey/capability-backend/interfaces"
	"github.com/veilkey/capability-backend/keyring"
)

// MasterSecretHeader carries the caller's hex-encoded master secret. The
// server uses it to rebuild the caller's key ring for one request and never
// stores it.
const MasterSecretHeader = "X-Capability-Master-Secret"

// RootRolesHeader carries the comma-separated role ids the caller controls
// directly.
const RootRolesHeader = "X-Capability-Roots"

// MasterSecretFromRequest parses the caller's master secret header.
func MasterSecretFromRequest(r *http.Request) (cryptoutils.SymmetricKey, error) {
	raw := r.Header.Get(MasterSecretHeader)
	if raw == "" {
		return nil, fmt.Errorf("%w: missing %s header", interfaces.ErrPreconditionRequired, MasterSecretHeader)
	}
	master, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed master secret", interfaces.ErrBadRequest)
	}
	key := cryptoutils.SymmetricKey(master)
	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrBadRequest, err)
	}
	return key, nil
}

// RootRolesFromRequest parses the caller's root role header.
func RootRolesFromRequest(r *http.Request) ([]interfaces.RoleID, error) {
	raw := r.Header.Get(RootRolesHeader)
	if raw == "" {
		return nil, fmt.Errorf("%w: missing %s header", interfaces.ErrPreconditionRequired, RootRolesHeader)
	}
	var roots []interfaces.RoleID
	for _, part := range strings.Split(raw, ",") {
		id, err := interfaces.ParseRoleID(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("%w: %s", interfaces.ErrBadRequest, err)
		}
		roots = append(roots, id)
	}
	return roots, nil
}

// RingFromRequest rebuilds the caller's key ring from the request headers.
// The ring lives for the request only.
func RingFromRequest(ctx context.Context, eng *engine.Engine, r *http.Request) (*keyring.KeyRing, error) {
	master, err := MasterSecretFromRequest(r)
	if err != nil {
		return nil, err
	}
	roots, err := RootRolesFromRequest(r)
	if err != nil {
		return nil, err
	}
	return eng.BuildKeyRing(ctx, roots, master)
}

// StatusForError maps engine sentinel errors to HTTP status codes. Both
// authentication and decryption failures surface as 401 so the wire leaks
// nothing about which seal failed.
func StatusForError(err error) int {
	switch {
	case errors.Is(err, interfaces.ErrPreconditionRequired):
		return http.StatusPreconditionRequired
	case errors.Is(err, interfaces.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, interfaces.ErrNotFound), errors.Is(err, interfaces.ErrContentNotFound):
		return http.StatusNotFound
	case errors.Is(err, interfaces.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, interfaces.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, interfaces.ErrAuthentication), errors.Is(err, interfaces.ErrDecryption):
		return http.StatusUnauthorized
	case errors.Is(err, interfaces.ErrCorruptGraph):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes the error as a JSON body with the mapped status code.
func WriteError(w http.ResponseWriter, log *slog.Logger, err error) {
	status := StatusForError(err)
	if status == http.StatusInternalServerError {
		log.Error("Request failed", "err", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// WriteJSON writes a JSON response body with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
