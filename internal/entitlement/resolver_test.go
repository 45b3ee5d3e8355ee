package entitlement_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/hugh/go-tenant/internal/database/models"
	"github.com/hugh/go-tenant/internal/entitlement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	roles    map[string]models.Permissions
	products []models.Permissions
	err      error

	roleCalls    int
	productCalls int
}

func (f *fakeSource) RoleGrant(_ context.Context, _ uuid.UUID, role string) (models.Permissions, error) {
	f.roleCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.roles[role], nil
}

func (f *fakeSource) ActiveProductPermissions(_ context.Context, _ uuid.UUID) ([]models.Permissions, error) {
	f.productCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.products, nil
}

func member(role string) entitlement.Actor {
	return entitlement.Actor{
		UserID:         uuid.New(),
		OrganizationID: uuid.New(),
		Role:           role,
	}
}

func platformAdmin() entitlement.Actor {
	a := member(models.RoleMember)
	a.PlatformRole = models.PlatformRoleAdmin
	return a
}

func req(actor entitlement.Actor, feature, action string) entitlement.Request {
	return entitlement.Request{Actor: actor, Feature: feature, Action: action}
}

func TestResolver_StepOrder(t *testing.T) {
	r := entitlement.NewResolver(entitlement.DefaultRegistry(), &fakeSource{})
	assert.Equal(t, []string{
		entitlement.StepGlobalGate,
		entitlement.StepPlatformAdmin,
		entitlement.StepTenantGate,
		entitlement.StepRoleGrant,
		entitlement.StepProductEntitlement,
	}, r.Steps())
}

func TestResolver_GlobalGateBeatsEveryone(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{
		roles:    map[string]models.Permissions{"owner": {"reports": {"export"}}},
		products: []models.Permissions{{"reports": {"export"}}},
	}
	r := entitlement.NewResolver(entitlement.DefaultRegistry(), src)

	actors := map[string]entitlement.Actor{
		"platform admin": platformAdmin(),
		"owner":          member("owner"),
		"member":         member("member"),
	}
	for name, actor := range actors {
		t.Run(name, func(t *testing.T) {
			d, err := r.Decide(ctx, req(actor, "reports", "export"))
			require.NoError(t, err)
			assert.False(t, d.Granted)
			assert.Equal(t, entitlement.StepGlobalGate, d.Step)
		})
	}
	assert.Zero(t, src.roleCalls, "grant lookups must not run for unknown capabilities")
	assert.Zero(t, src.productCalls)
}

func TestResolver_PlatformAdminBypass(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{}
	r := entitlement.NewResolver(entitlement.DefaultRegistry(), src)

	global := entitlement.DefaultRegistry().Global()
	for feature, actions := range global {
		for _, action := range actions {
			d, err := r.Decide(ctx, req(platformAdmin(), feature, action))
			require.NoError(t, err)
			assert.True(t, d.Granted, "%s:%s", feature, action)
			assert.Equal(t, entitlement.StepPlatformAdmin, d.Step)
		}
	}
	assert.Zero(t, src.roleCalls)
	assert.Zero(t, src.productCalls)
}

func TestResolver_TenantGateDeniesPlatformOnlyCapabilities(t *testing.T) {
	src := &fakeSource{
		roles: map[string]models.Permissions{"owner": {entitlement.FeatureProduct: {entitlement.ActionCreate}}},
	}
	r := entitlement.NewResolver(entitlement.DefaultRegistry(), src)

	d, err := r.Decide(context.Background(), req(member("owner"), entitlement.FeatureProduct, entitlement.ActionCreate))
	require.NoError(t, err)
	assert.False(t, d.Granted)
	assert.Equal(t, entitlement.StepTenantGate, d.Step)
	assert.Zero(t, src.roleCalls)
}

func TestResolver_RoleGrant(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{
		roles: map[string]models.Permissions{
			"owner":  {entitlement.FeatureBilling: {entitlement.ActionCreate, entitlement.ActionView}},
			"member": {entitlement.FeatureBilling: {entitlement.ActionView}},
		},
	}
	r := entitlement.NewResolver(entitlement.DefaultRegistry(), src)

	tests := []struct {
		name    string
		actor   entitlement.Actor
		action  string
		granted bool
		step    string
	}{
		{"owner creates", member("owner"), entitlement.ActionCreate, true, entitlement.StepRoleGrant},
		{"member views", member("member"), entitlement.ActionView, true, entitlement.StepRoleGrant},
		{"member cannot create", member("member"), entitlement.ActionCreate, false, entitlement.StepFallthrough},
		{"role without grant", member("auditor"), entitlement.ActionView, false, entitlement.StepFallthrough},
		{"no role", member(""), entitlement.ActionView, false, entitlement.StepFallthrough},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := r.Decide(ctx, req(tt.actor, entitlement.FeatureBilling, tt.action))
			require.NoError(t, err)
			assert.Equal(t, tt.granted, d.Granted)
			assert.Equal(t, tt.step, d.Step)
		})
	}
}

func TestResolver_ProductEntitlement(t *testing.T) {
	ctx := context.Background()

	t.Run("grants from any active product", func(t *testing.T) {
		src := &fakeSource{products: []models.Permissions{
			{entitlement.FeatureMember: {entitlement.ActionView}},
			{entitlement.FeatureBilling: {entitlement.ActionCreate}},
		}}
		r := entitlement.NewResolver(entitlement.DefaultRegistry(), src)

		d, err := r.Decide(ctx, req(member("member"), entitlement.FeatureBilling, entitlement.ActionCreate))
		require.NoError(t, err)
		assert.True(t, d.Granted)
		assert.Equal(t, entitlement.StepProductEntitlement, d.Step)
	})

	t.Run("no active products denies", func(t *testing.T) {
		r := entitlement.NewResolver(entitlement.DefaultRegistry(), &fakeSource{})

		d, err := r.Decide(ctx, req(member("owner"), entitlement.FeatureBilling, entitlement.ActionCreate))
		require.NoError(t, err)
		assert.False(t, d.Granted)
	})
}

func TestResolver_LookupErrorIsNotADenial(t *testing.T) {
	boom := errors.New("db down")
	r := entitlement.NewResolver(entitlement.DefaultRegistry(), &fakeSource{err: boom})

	err := r.Authorize(context.Background(), req(member("owner"), entitlement.FeatureBilling, entitlement.ActionView))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, entitlement.ErrUnauthorized)
}

func TestResolver_Authorize(t *testing.T) {
	src := &fakeSource{roles: map[string]models.Permissions{
		"owner": {entitlement.FeatureBilling: {entitlement.ActionView}},
	}}
	r := entitlement.NewResolver(entitlement.DefaultRegistry(), src)
	ctx := context.Background()

	assert.NoError(t, r.Authorize(ctx, req(member("owner"), entitlement.FeatureBilling, entitlement.ActionView)))
	assert.ErrorIs(t, r.Authorize(ctx, req(member("owner"), entitlement.FeatureBilling, entitlement.ActionDelete)), entitlement.ErrUnauthorized)
}

func TestResolver_StepKindLimitsVerdict(t *testing.T) {
	always := func(v entitlement.Verdict) func(context.Context, entitlement.Request) (entitlement.Verdict, error) {
		return func(context.Context, entitlement.Request) (entitlement.Verdict, error) { return v, nil }
	}

	r := entitlement.NewResolverWithSteps([]entitlement.Step{
		{Name: "gate-that-grants", Kind: entitlement.Gate, Check: always(entitlement.Grant)},
		{Name: "granter-that-denies", Kind: entitlement.Granter, Check: always(entitlement.Deny)},
		{Name: "granter", Kind: entitlement.Granter, Check: always(entitlement.Grant)},
	})

	d, err := r.Decide(context.Background(), req(member("owner"), "x", "y"))
	require.NoError(t, err)
	assert.True(t, d.Granted)
	assert.Equal(t, "granter", d.Step)
}

func TestNewRegistry(t *testing.T) {
	_, err := entitlement.NewRegistry(nil, nil)
	assert.Error(t, err)

	_, err = entitlement.NewRegistry(
		models.Permissions{"billing": {"view"}},
		models.Permissions{"billing": {"view", "create"}},
	)
	assert.Error(t, err)

	global := models.Permissions{"billing": {"view", "create"}}
	reg, err := entitlement.NewRegistry(global, models.Permissions{"billing": {"view"}})
	require.NoError(t, err)

	global["billing"] = append(global["billing"], "delete")
	assert.False(t, reg.InGlobal("billing", "delete"), "registry must not alias its input")
	assert.True(t, reg.InTenant("billing", "view"))
	assert.False(t, reg.InTenant("billing", "create"))
}
