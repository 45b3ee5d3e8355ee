package entitlement

import (
	"errors"
	"fmt"

	"github.com/hugh/go-tenant/internal/database/models"
)

// Features known to the platform.
const (
	FeatureMember  = "member"
	FeatureBilling = "billing"
	FeatureRole    = "role"
	FeatureProduct = "product"
	FeatureCoupon  = "coupon"
)

// Actions known to the platform.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
	ActionView   = "view"
)

var crud = []string{ActionCreate, ActionUpdate, ActionDelete, ActionView}

// Registry holds the two allow-lists the resolver gates on. The global tier
// is every capability the platform recognizes; the tenant tier is the
// subset a regular tenant may ever hold. A Registry is immutable once built.
type Registry struct {
	global models.Permissions
	tenant models.Permissions
}

// NewRegistry copies both tiers and rejects a tenant tier that is not a
// subset of the global tier.
func NewRegistry(global, tenant models.Permissions) (*Registry, error) {
	if len(global) == 0 {
		return nil, errors.New("global registry is empty")
	}
	if !global.Covers(tenant) {
		return nil, fmt.Errorf("tenant registry is not a subset of the global registry")
	}
	return &Registry{
		global: global.Clone(),
		tenant: tenant.Clone(),
	}, nil
}

// DefaultRegistry is the registry the server runs with. Product and coupon
// management exist only in the global tier, so only platform administrators
// can reach them.
func DefaultRegistry() *Registry {
	tenant := models.Permissions{
		FeatureMember:  crud,
		FeatureBilling: crud,
		FeatureRole:    crud,
	}
	global := tenant.Merge(models.Permissions{
		FeatureProduct: crud,
		FeatureCoupon:  crud,
	})
	reg, err := NewRegistry(global, tenant)
	if err != nil {
		panic(err)
	}
	return reg
}

func (r *Registry) InGlobal(feature, action string) bool {
	return r.global.Has(feature, action)
}

func (r *Registry) InTenant(feature, action string) bool {
	return r.tenant.Has(feature, action)
}

// Tenant returns a copy of the tenant tier, e.g. for listing which
// capabilities an organization admin may assign to a role.
func (r *Registry) Tenant() models.Permissions {
	return r.tenant.Clone()
}

// Global returns a copy of the global tier.
func (r *Registry) Global() models.Permissions {
	return r.global.Clone()
}
