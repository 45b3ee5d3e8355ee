package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hugh/go-tenant/internal/api/dto"
	"github.com/hugh/go-tenant/internal/api/middleware"
	"github.com/hugh/go-tenant/internal/api/validation"
	"github.com/hugh/go-tenant/internal/database/models"
	"github.com/hugh/go-tenant/internal/entitlement"
	"github.com/hugh/go-tenant/pkg/util"
	"gorm.io/gorm"
)

type RoleHandler struct {
	db       *gorm.DB
	registry *entitlement.Registry
	logger   *slog.Logger
}

func NewRoleHandler(db *gorm.DB, registry *entitlement.Registry, logger *slog.Logger) *RoleHandler {
	if logger == nil {
		logger = util.DiscardLogger()
	}
	return &RoleHandler{db: db, registry: registry, logger: logger}
}

// List handles GET /api/v1/organizations/roles. It returns the stored
// grants along with every capability a role may be given.
func (h *RoleHandler) List(w http.ResponseWriter, r *http.Request) {
	orgID := middleware.GetOrganizationID(r.Context())

	var grants []models.RolePermission
	if err := h.db.WithContext(r.Context()).
		Where("organization_id = ?", orgID).
		Order("role_slug ASC").
		Find(&grants).Error; err != nil {
		h.logger.Error("listing role grants", "org_id", orgID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	roles := make([]dto.RolePermissionsResponse, len(grants))
	for i, g := range grants {
		roles[i] = dto.RolePermissionsResponse{Role: g.RoleSlug, Permissions: g.Permissions.Data()}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":       roles,
		"assignable": h.registry.Tenant(),
	})
}

// Update handles PUT /api/v1/organizations/roles/{role}/permissions
func (h *RoleHandler) Update(w http.ResponseWriter, r *http.Request) {
	role := chi.URLParam(r, "role")
	if !validation.IsValidSlug(role) {
		writeValidationError(w, map[string]string{"role": "must be a lowercase slug"})
		return
	}

	var req dto.RolePermissionsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := validation.Struct(req); errs != nil {
		writeValidationError(w, errs)
		return
	}
	if errs := validation.ValidatePermissions(req.Permissions); errs != nil {
		writeValidationError(w, errs)
		return
	}

	orgID := middleware.GetOrganizationID(r.Context())
	grant, err := entitlement.SetRoleGrant(r.Context(), h.db, h.registry, orgID, role, req.Permissions)
	if errors.Is(err, entitlement.ErrOutsideTenantTier) {
		writeValidationError(w, map[string]string{"permissions": "includes capabilities an organization cannot grant"})
		return
	}
	if err != nil {
		h.logger.Error("saving role grant", "org_id", orgID, "role", role, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.logger.Info("role grant updated",
		"org_id", orgID,
		"role", role,
		"by", middleware.GetUserID(r.Context()),
	)
	writeJSON(w, http.StatusOK, dto.RolePermissionsResponse{Role: grant.RoleSlug, Permissions: grant.Permissions.Data()})
}

// Delete handles DELETE /api/v1/organizations/roles/{role}/permissions
func (h *RoleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	role := chi.URLParam(r, "role")
	orgID := middleware.GetOrganizationID(r.Context())

	if err := entitlement.DeleteRoleGrant(r.Context(), h.db, orgID, role); err != nil {
		h.logger.Error("deleting role grant", "org_id", orgID, "role", role, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
