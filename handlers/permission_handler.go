package handlers

import (
	"net/http"

	"github.com/camden-git/framearchive/permissions"
)

type PermissionHandler struct{}

// ListPermissionDefinitions serves the statically defined permission groups.
func (h *PermissionHandler) ListPermissionDefinitions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, permissions.DefinedPermissionGroups)
}

// CurrentPermissions serves the profile of the caller and the permission keys it holds.
func (h *PermissionHandler) CurrentPermissions(w http.ResponseWriter, r *http.Request) {
	profile, ok := ProfileFromContext(r.Context())
	if !ok {
		WriteAPIError(w, http.StatusUnauthorized, "not_authenticated", "Authentication credentials were not provided.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"username":    profile.Username,
		"is_staff":    profile.IsStaff,
		"permissions": permissions.Granted(profile.IsStaff),
	})
}
