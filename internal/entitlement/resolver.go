package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hugh/go-tenant/internal/database/models"
	"github.com/hugh/go-tenant/internal/metrics"
	"github.com/hugh/go-tenant/pkg/util"
)

// ErrUnauthorized is the only denial callers ever see, whichever step denied.
var ErrUnauthorized = errors.New("unauthorized")

// Actor is the already authenticated caller.
type Actor struct {
	UserID         uuid.UUID
	OrganizationID uuid.UUID
	// Role is the member role slug within OrganizationID.
	Role string
	// PlatformRole is the user's platform-wide role.
	PlatformRole string
}

type Request struct {
	Actor   Actor
	Feature string
	Action  string
}

type Verdict int

const (
	Continue Verdict = iota
	Grant
	Deny
)

func (v Verdict) String() string {
	switch v {
	case Grant:
		return "grant"
	case Deny:
		return "deny"
	}
	return "continue"
}

// StepKind restricts what a step may decide. Gates can only deny and
// grant steps can only grant; any other verdict is treated as Continue.
type StepKind int

const (
	Gate StepKind = iota
	Granter
)

type Step struct {
	Name  string
	Kind  StepKind
	Check func(ctx context.Context, req Request) (Verdict, error)
}

// Step names, in cascade order.
const (
	StepGlobalGate         = "global-gate"
	StepPlatformAdmin      = "platform-admin"
	StepTenantGate         = "tenant-gate"
	StepRoleGrant          = "role-grant"
	StepProductEntitlement = "product-entitlement"
	StepFallthrough        = "fallthrough"
)

// GrantSource supplies the per-organization data the grant steps read.
type GrantSource interface {
	// RoleGrant returns the permissions granted to role in org, or nil when
	// no grant exists.
	RoleGrant(ctx context.Context, orgID uuid.UUID, role string) (models.Permissions, error)
	// ActiveProductPermissions returns the permission maps of every active
	// product the organization holds an ACTIVE subscription to.
	ActiveProductPermissions(ctx context.Context, orgID uuid.UUID) ([]models.Permissions, error)
}

func GlobalGate(reg *Registry) Step {
	return Step{Name: StepGlobalGate, Kind: Gate, Check: func(_ context.Context, req Request) (Verdict, error) {
		if !reg.InGlobal(req.Feature, req.Action) {
			return Deny, nil
		}
		return Continue, nil
	}}
}

func PlatformAdminBypass() Step {
	return Step{Name: StepPlatformAdmin, Kind: Granter, Check: func(_ context.Context, req Request) (Verdict, error) {
		if req.Actor.PlatformRole == models.PlatformRoleAdmin {
			return Grant, nil
		}
		return Continue, nil
	}}
}

func TenantGate(reg *Registry) Step {
	return Step{Name: StepTenantGate, Kind: Gate, Check: func(_ context.Context, req Request) (Verdict, error) {
		if !reg.InTenant(req.Feature, req.Action) {
			return Deny, nil
		}
		return Continue, nil
	}}
}

func RoleGrant(src GrantSource) Step {
	return Step{Name: StepRoleGrant, Kind: Granter, Check: func(ctx context.Context, req Request) (Verdict, error) {
		if req.Actor.OrganizationID == uuid.Nil || req.Actor.Role == "" {
			return Continue, nil
		}
		perms, err := src.RoleGrant(ctx, req.Actor.OrganizationID, req.Actor.Role)
		if err != nil {
			return Continue, fmt.Errorf("loading role grant: %w", err)
		}
		if perms.Has(req.Feature, req.Action) {
			return Grant, nil
		}
		return Continue, nil
	}}
}

func ProductEntitlement(src GrantSource) Step {
	return Step{Name: StepProductEntitlement, Kind: Granter, Check: func(ctx context.Context, req Request) (Verdict, error) {
		if req.Actor.OrganizationID == uuid.Nil {
			return Continue, nil
		}
		grants, err := src.ActiveProductPermissions(ctx, req.Actor.OrganizationID)
		if err != nil {
			return Continue, fmt.Errorf("loading product entitlements: %w", err)
		}
		var union models.Permissions
		for _, g := range grants {
			union = union.Merge(g)
		}
		if union.Has(req.Feature, req.Action) {
			return Grant, nil
		}
		return Continue, nil
	}}
}

// Decision records which step settled a request.
type Decision struct {
	Granted bool
	Step    string
}

type Resolver struct {
	steps   []Step
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Resolver)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) { r.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// NewResolver builds the standard cascade: global gate, platform admin
// bypass, tenant gate, role grant, product entitlement. A request no step
// grants is denied.
func NewResolver(reg *Registry, src GrantSource, opts ...Option) *Resolver {
	return NewResolverWithSteps([]Step{
		GlobalGate(reg),
		PlatformAdminBypass(),
		TenantGate(reg),
		RoleGrant(src),
		ProductEntitlement(src),
	}, opts...)
}

// NewResolverWithSteps builds a resolver over an explicit cascade.
func NewResolverWithSteps(steps []Step, opts ...Option) *Resolver {
	r := &Resolver{
		steps:  append([]Step(nil), steps...),
		logger: util.DiscardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Steps returns the cascade in evaluation order.
func (r *Resolver) Steps() []string {
	names := make([]string, len(r.steps))
	for i, s := range r.steps {
		names[i] = s.Name
	}
	return names
}

// Decide walks the cascade and reports the outcome along with the step that
// settled it. Errors from a step abort the walk and are returned as is.
func (r *Resolver) Decide(ctx context.Context, req Request) (Decision, error) {
	for _, step := range r.steps {
		verdict, err := step.Check(ctx, req)
		if err != nil {
			return Decision{Step: step.Name}, fmt.Errorf("%s: %w", step.Name, err)
		}
		switch {
		case verdict == Deny && step.Kind == Gate:
			return Decision{Granted: false, Step: step.Name}, nil
		case verdict == Grant && step.Kind == Granter:
			return Decision{Granted: true, Step: step.Name}, nil
		}
	}
	return Decision{Granted: false, Step: StepFallthrough}, nil
}

// Authorize returns nil when req is granted and ErrUnauthorized when it is
// denied. Lookup failures are returned wrapped, not as denials.
func (r *Resolver) Authorize(ctx context.Context, req Request) error {
	decision, err := r.Decide(ctx, req)
	if err != nil {
		r.logger.Error("authorization lookup failed",
			"step", decision.Step,
			"feature", req.Feature,
			"action", req.Action,
			"org_id", req.Actor.OrganizationID,
			"error", err,
		)
		return err
	}

	r.metrics.AuthorizationDecision(decision.Step, decision.Granted)
	r.logger.Debug("authorization decided",
		"granted", decision.Granted,
		"step", decision.Step,
		"feature", req.Feature,
		"action", req.Action,
		"user_id", req.Actor.UserID,
		"org_id", req.Actor.OrganizationID,
	)

	if !decision.Granted {
		return ErrUnauthorized
	}
	return nil
}
