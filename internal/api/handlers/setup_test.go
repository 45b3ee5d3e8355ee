package handlers_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/hugh/go-tenant/internal/api/handlers"
	"github.com/hugh/go-tenant/internal/api/middleware"
	"github.com/hugh/go-tenant/internal/billing"
	"github.com/hugh/go-tenant/internal/database/models"
	"github.com/hugh/go-tenant/internal/entitlement"
	"github.com/hugh/go-tenant/internal/testutil"
)

// fakeQueue records enqueued tasks in place of an asynq client.
type fakeQueue struct {
	mu    sync.Mutex
	tasks []*asynq.Task
}

func (q *fakeQueue) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{ID: fmt.Sprintf("task-%d", len(q.tasks)), Type: task.Type()}, nil
}

func (q *fakeQueue) types() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, len(q.tasks))
	for i, t := range q.tasks {
		out[i] = t.Type()
	}
	return out
}

type testEnv struct {
	*testutil.TestSetup
	router   *chi.Mux
	provider *testutil.FakeProvider
	queue    *fakeQueue
	price    *models.ProductPrice

	memberToken string
	adminToken  string
}

// setupTestRouter wires the handlers behind the same auth and permission
// middleware the server uses. The org owner holds every billing and role
// capability through a role grant; the member holds none.
func setupTestRouter(t *testing.T) *testEnv {
	t.Helper()

	tc := testutil.NewTestContext(t)
	reg := entitlement.DefaultRegistry()
	resolver := entitlement.NewResolver(reg, entitlement.NewGormSource(tc.DB))
	provider := testutil.NewFakeProvider()
	queue := &fakeQueue{}
	store := billing.NewGormStore(tc.DB)

	testutil.CreateTestRoleGrant(t, tc.DB, tc.Org.ID, models.RoleOwner, models.Permissions{
		entitlement.FeatureBilling: {"create", "update", "delete", "view"},
		entitlement.FeatureRole:    {"create", "update", "delete", "view"},
	})
	member := testutil.CreateTestUser(t, tc.DB, tc.Org, models.RoleMember)
	admin := testutil.CreateTestPlatformAdmin(t, tc.DB, tc.Org)

	product := testutil.CreateTestProduct(t, tc.DB, models.Permissions{entitlement.FeatureBilling: {"view"}})
	env := &testEnv{
		TestSetup:   tc,
		provider:    provider,
		queue:       queue,
		price:       testutil.CreateTestPrice(t, tc.DB, product, "price_pro"),
		memberToken: testutil.GenerateTestToken(t, tc.JWTService, member, tc.Org.ID, models.RoleMember),
		adminToken:  testutil.GenerateTestToken(t, tc.JWTService, admin, tc.Org.ID, models.RoleMember),
	}

	coupons := billing.NewCoupons(tc.DB, nil)
	initiator := billing.NewInitiator(billing.InitiatorConfig{
		Store:      store,
		Coupons:    coupons,
		Provider:   provider,
		SuccessURL: "https://app.example.com/billing?success=true",
		CancelURL:  "https://app.example.com/billing?canceled=true",
	})
	billingHandler := handlers.NewBillingHandler(initiator, coupons, store, nil)
	roleHandler := handlers.NewRoleHandler(tc.DB, reg, nil)
	catalogHandler := handlers.NewCatalogHandler(tc.DB, reg, queue, nil)

	allow := func(feature, action string) func(http.Handler) http.Handler {
		return middleware.RequirePermission(resolver, feature, action)
	}

	r := chi.NewRouter()
	r.Use(middleware.Auth(tc.JWTService))
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/billing/products", catalogHandler.ListProducts)
		r.With(allow("billing", "create")).Get("/billing/coupons/{code}", billingHandler.Coupon)
		r.With(allow("billing", "create")).Post("/billing/checkout", billingHandler.Checkout)
		r.With(allow("billing", "view")).Get("/billing/subscription", billingHandler.Subscription)
		r.With(allow("billing", "delete")).Post("/billing/subscription/cancel", billingHandler.Cancel)
		r.With(allow("billing", "view")).Get("/billing/transactions", billingHandler.Transactions)

		r.With(allow("role", "view")).Get("/organizations/roles", roleHandler.List)
		r.With(allow("role", "update")).Put("/organizations/roles/{role}/permissions", roleHandler.Update)
		r.With(allow("role", "delete")).Delete("/organizations/roles/{role}/permissions", roleHandler.Delete)

		r.With(allow("product", "create")).Post("/admin/products", catalogHandler.CreateProduct)
		r.With(allow("product", "update")).Put("/admin/products/{id}", catalogHandler.UpdateProduct)
		r.With(allow("product", "delete")).Delete("/admin/products/{id}", catalogHandler.ArchiveProduct)
		r.With(allow("product", "create")).Post("/admin/products/{id}/prices", catalogHandler.CreatePrice)
		r.With(allow("product", "delete")).Delete("/admin/prices/{id}", catalogHandler.DeactivatePrice)
		r.With(allow("coupon", "create")).Post("/admin/coupons", catalogHandler.CreateCoupon)
		r.With(allow("coupon", "update")).Put("/admin/coupons/{id}", catalogHandler.UpdateCoupon)
		r.With(allow("coupon", "delete")).Delete("/admin/coupons/{id}", catalogHandler.DeleteCoupon)
	})
	env.router = r
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, testutil.AuthenticatedRequest(t, method, path, body, token))
	return rr
}
