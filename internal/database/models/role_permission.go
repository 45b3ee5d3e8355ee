package models

import (
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// RolePermission grants a role within one organization a permission set.
// A missing row means the role holds no role-granted permissions.
type RolePermission struct {
	Record
	OrganizationID uuid.UUID                       `gorm:"type:uuid;not null;uniqueIndex:idx_role_permissions_org_role" json:"organization_id"`
	RoleSlug       string                          `gorm:"not null;uniqueIndex:idx_role_permissions_org_role" json:"role_slug"`
	Permissions    datatypes.JSONType[Permissions] `gorm:"not null" json:"permissions"`
}

func (RolePermission) TableName() string {
	return "role_permissions"
}
