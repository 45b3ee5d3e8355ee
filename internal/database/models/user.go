package models

// PlatformRoleAdmin marks a platform administrator. Any other value is a
// regular user.
const PlatformRoleAdmin = "admin"

type User struct {
	Base
	Email        string `gorm:"uniqueIndex;not null" json:"email"`
	Name         string `json:"name"`
	PlatformRole string `gorm:"default:'user'" json:"platform_role"`

	// Payment provider customer id, written once on the first checkout.
	ExternalCustomerID *string `gorm:"uniqueIndex" json:"-"`
}

func (User) TableName() string {
	return "users"
}

func (u *User) IsPlatformAdmin() bool {
	return u.PlatformRole == PlatformRoleAdmin
}
