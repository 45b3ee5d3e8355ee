package entitlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hugh/go-tenant/internal/database/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormSource reads role grants and product entitlements from the database.
type GormSource struct {
	db *gorm.DB
}

var _ GrantSource = (*GormSource)(nil)

func NewGormSource(db *gorm.DB) *GormSource {
	return &GormSource{db: db}
}

func (s *GormSource) RoleGrant(ctx context.Context, orgID uuid.UUID, role string) (models.Permissions, error) {
	var grant models.RolePermission
	err := s.db.WithContext(ctx).
		Where("organization_id = ? AND role_slug = ?", orgID, role).
		First(&grant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying role permission: %w", err)
	}
	return grant.Permissions.Data(), nil
}

func (s *GormSource) ActiveProductPermissions(ctx context.Context, orgID uuid.UUID) ([]models.Permissions, error) {
	var products []models.Product
	err := s.db.WithContext(ctx).
		Joins("JOIN subscriptions ON subscriptions.product_id = products.id").
		Where("subscriptions.organization_id = ?", orgID).
		Where("subscriptions.status = ?", models.SubscriptionActive).
		Where("products.active = ?", true).
		Find(&products).Error
	if err != nil {
		return nil, fmt.Errorf("querying active products: %w", err)
	}

	out := make([]models.Permissions, 0, len(products))
	for _, p := range products {
		out = append(out, p.Permissions.Data())
	}
	return out, nil
}

// SetRoleGrant creates or replaces the grant for (orgID, role). Permissions
// outside the tenant tier are rejected since no tenant could ever use them.
func SetRoleGrant(ctx context.Context, db *gorm.DB, reg *Registry, orgID uuid.UUID, role string, perms models.Permissions) (*models.RolePermission, error) {
	if !reg.tenant.Covers(perms) {
		return nil, ErrOutsideTenantTier
	}

	grant := models.RolePermission{
		OrganizationID: orgID,
		RoleSlug:       role,
		Permissions:    datatypes.NewJSONType(perms),
	}
	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "organization_id"}, {Name: "role_slug"}},
		DoUpdates: clause.AssignmentColumns([]string{"permissions", "updated_at"}),
	}).Create(&grant).Error
	if err != nil {
		return nil, fmt.Errorf("saving role permission: %w", err)
	}

	// The insert may have resolved to an existing row; read back the stored one.
	var stored models.RolePermission
	if err := db.WithContext(ctx).
		Where("organization_id = ? AND role_slug = ?", orgID, role).
		First(&stored).Error; err != nil {
		return nil, fmt.Errorf("reloading role permission: %w", err)
	}
	return &stored, nil
}

// DeleteRoleGrant removes the grant for (orgID, role). Removing a grant
// that does not exist is not an error.
func DeleteRoleGrant(ctx context.Context, db *gorm.DB, orgID uuid.UUID, role string) error {
	err := db.WithContext(ctx).
		Where("organization_id = ? AND role_slug = ?", orgID, role).
		Delete(&models.RolePermission{}).Error
	if err != nil {
		return fmt.Errorf("deleting role permission: %w", err)
	}
	return nil
}

// ErrOutsideTenantTier is returned when a role grant names a capability
// no tenant may hold.
var ErrOutsideTenantTier = errors.New("permission outside tenant tier")
