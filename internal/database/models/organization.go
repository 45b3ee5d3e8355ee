package models

import "github.com/google/uuid"

// Default member roles. Role slugs are free form; these are the ones the
// platform creates on its own.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

type Organization struct {
	Base
	Name        string    `gorm:"not null" json:"name"`
	Slug        string    `gorm:"uniqueIndex;not null" json:"slug"`
	OwnerUserID uuid.UUID `gorm:"type:uuid;index" json:"owner_user_id"`

	// Relationships
	Members       []Member       `gorm:"foreignKey:OrganizationID" json:"-"`
	Subscriptions []Subscription `gorm:"foreignKey:OrganizationID" json:"-"`
}

func (Organization) TableName() string {
	return "organizations"
}

// Member links a user to an organization with a role slug.
type Member struct {
	Base
	OrganizationID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_members_org_user" json:"organization_id"`
	UserID         uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_members_org_user" json:"user_id"`
	Role           string    `gorm:"not null;default:'member'" json:"role"`

	User *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

func (Member) TableName() string {
	return "members"
}
