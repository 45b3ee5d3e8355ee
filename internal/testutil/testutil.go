package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/go-tenant/internal/auth"
	"github.com/hugh/go-tenant/internal/database"
	"github.com/hugh/go-tenant/internal/database/models"
	"github.com/hugh/go-tenant/internal/entitlement"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SetupTestDB creates a migrated in-memory SQLite database. The pool is
// pinned to one connection: every connection to ":memory:" is its own
// database, and a single writer keeps conditional updates deterministic.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	return db
}

// CreateTestOrg creates an organization with no members.
func CreateTestOrg(t *testing.T, db *gorm.DB) *models.Organization {
	t.Helper()

	org := &models.Organization{
		Base: models.Base{ID: uuid.New()},
		Name: "Test Organization",
		Slug: "test-org-" + uuid.New().String()[:8],
	}
	if err := db.Create(org).Error; err != nil {
		t.Fatalf("failed to create test organization: %v", err)
	}
	return org
}

// CreateTestUser creates a user and makes them a member of org with role.
// The first user created this way for an organization becomes its owner.
func CreateTestUser(t *testing.T, db *gorm.DB, org *models.Organization, role string) *models.User {
	t.Helper()

	user := &models.User{
		Base:  models.Base{ID: uuid.New()},
		Email: "test-" + uuid.New().String()[:8] + "@example.com",
		Name:  "Test User",
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}

	member := &models.Member{OrganizationID: org.ID, UserID: user.ID, Role: role}
	if err := db.Create(member).Error; err != nil {
		t.Fatalf("failed to create test member: %v", err)
	}

	if org.OwnerUserID == uuid.Nil {
		org.OwnerUserID = user.ID
		if err := db.Model(org).Update("owner_user_id", user.ID).Error; err != nil {
			t.Fatalf("failed to set organization owner: %v", err)
		}
	}
	return user
}

// CreateTestPlatformAdmin creates a platform administrator who is a plain
// member of org.
func CreateTestPlatformAdmin(t *testing.T, db *gorm.DB, org *models.Organization) *models.User {
	t.Helper()

	user := CreateTestUser(t, db, org, models.RoleMember)
	if err := db.Model(user).Update("platform_role", models.PlatformRoleAdmin).Error; err != nil {
		t.Fatalf("failed to promote user: %v", err)
	}
	user.PlatformRole = models.PlatformRoleAdmin
	return user
}

// CreateTestRoleGrant stores perms for role in org.
func CreateTestRoleGrant(t *testing.T, db *gorm.DB, orgID uuid.UUID, role string, perms models.Permissions) *models.RolePermission {
	t.Helper()

	grant := &models.RolePermission{
		OrganizationID: orgID,
		RoleSlug:       role,
		Permissions:    datatypes.NewJSONType(perms),
	}
	if err := db.Create(grant).Error; err != nil {
		t.Fatalf("failed to create test role grant: %v", err)
	}
	return grant
}

// CreateTestProduct creates an active product granting perms. The product
// is marked as synced with the provider.
func CreateTestProduct(t *testing.T, db *gorm.DB, perms models.Permissions) *models.Product {
	t.Helper()

	externalID := "prod_" + uuid.New().String()[:8]
	product := &models.Product{
		Base:              models.Base{ID: uuid.New()},
		Name:              "Test Product",
		Active:            true,
		Permissions:       datatypes.NewJSONType(perms),
		ExternalProductID: &externalID,
	}
	if err := db.Create(product).Error; err != nil {
		t.Fatalf("failed to create test product: %v", err)
	}
	return product
}

// CreateTestPrice creates an active monthly price for product, synced with
// the provider under externalPriceID.
func CreateTestPrice(t *testing.T, db *gorm.DB, product *models.Product, externalPriceID string) *models.ProductPrice {
	t.Helper()

	price := &models.ProductPrice{
		Base:          models.Base{ID: uuid.New()},
		ProductID:     product.ID,
		AmountCents:   2900,
		Currency:      "usd",
		Interval:      models.IntervalMonth,
		IntervalCount: 1,
		Active:        true,
	}
	if externalPriceID != "" {
		price.ExternalPriceID = &externalPriceID
	}
	if err := db.Create(price).Error; err != nil {
		t.Fatalf("failed to create test price: %v", err)
	}
	price.Product = product
	return price
}

// CreateTestSubscription creates a subscription of org to price in status.
func CreateTestSubscription(t *testing.T, db *gorm.DB, orgID uuid.UUID, price *models.ProductPrice, status models.SubscriptionStatus, externalID string) *models.Subscription {
	t.Helper()

	now := time.Now().UTC().Truncate(time.Second)
	sub := &models.Subscription{
		Record:                 models.Record{ID: uuid.New()},
		OrganizationID:         orgID,
		ProductID:              price.ProductID,
		ProductPriceID:         price.ID,
		Status:                 status,
		CurrentPeriodStart:     now,
		CurrentPeriodEnd:       now.AddDate(0, 1, 0),
		ExternalSubscriptionID: externalID,
	}
	if err := db.Create(sub).Error; err != nil {
		t.Fatalf("failed to create test subscription: %v", err)
	}
	return sub
}

// CreateTestCoupon creates an active percentage coupon synced with the
// provider. A nil limit means unlimited uses.
func CreateTestCoupon(t *testing.T, db *gorm.DB, code string, limit *int) *models.Coupon {
	t.Helper()

	externalID := code
	coupon := &models.Coupon{
		Base:             models.Base{ID: uuid.New()},
		Code:             code,
		DiscountType:     models.DiscountPercentage,
		Value:            20,
		Currency:         "usd",
		UsageLimit:       limit,
		Active:           true,
		ExternalCouponID: &externalID,
	}
	if err := db.Create(coupon).Error; err != nil {
		t.Fatalf("failed to create test coupon: %v", err)
	}
	return coupon
}

// ActorFor returns the actor a request by user in org would resolve to.
func ActorFor(user *models.User, orgID uuid.UUID, role string) entitlement.Actor {
	return entitlement.Actor{
		UserID:         user.ID,
		OrganizationID: orgID,
		Role:           role,
		PlatformRole:   user.PlatformRole,
	}
}

// CreateTestJWTService creates a JWT service for testing
func CreateTestJWTService() *auth.JWTService {
	return auth.NewJWTService("test-secret-key-for-testing", 24*time.Hour)
}

// GenerateTestToken generates a valid token for user acting in orgID.
func GenerateTestToken(t *testing.T, jwtService *auth.JWTService, user *models.User, orgID uuid.UUID, role string) string {
	t.Helper()

	token, err := jwtService.GenerateToken(auth.Identity{
		UserID:         user.ID,
		OrganizationID: orgID,
		Email:          user.Email,
		Role:           role,
		PlatformRole:   user.PlatformRole,
	})
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return token
}

// AuthenticatedRequest creates an HTTP request with authentication
func AuthenticatedRequest(t *testing.T, method, path string, body interface{}, token string) *http.Request {
	t.Helper()

	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

// UnauthenticatedRequest creates an HTTP request without authentication
func UnauthenticatedRequest(t *testing.T, method, path string, body interface{}) *http.Request {
	t.Helper()
	return AuthenticatedRequest(t, method, path, body, "")
}

// AssertStatus checks if the response has the expected status code
func AssertStatus(t *testing.T, rr *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if rr.Code != expected {
		t.Errorf("expected status %d, got %d. Body: %s", expected, rr.Code, rr.Body.String())
	}
}

// ParseJSONResponse parses the response body into the given struct
func ParseJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()

	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to parse response body: %v. Body: %s", err, rr.Body.String())
	}
}

// TestContext creates a context with a timeout for tests
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// TestSetup holds all the common test dependencies
type TestSetup struct {
	DB         *gorm.DB
	JWTService *auth.JWTService
	Org        *models.Organization
	User       *models.User
	Token      string
}

// NewTestContext creates a DB, an organization, its owner and a token for
// the owner. The owner role gets no grant; tests add the ones they need.
func NewTestContext(t *testing.T) *TestSetup {
	t.Helper()

	db := SetupTestDB(t)
	jwtService := CreateTestJWTService()
	org := CreateTestOrg(t, db)
	user := CreateTestUser(t, db, org, models.RoleOwner)
	token := GenerateTestToken(t, jwtService, user, org.ID, models.RoleOwner)

	return &TestSetup{
		DB:         db,
		JWTService: jwtService,
		Org:        org,
		User:       user,
		Token:      token,
	}
}

// Actor is the owner's actor.
func (ts *TestSetup) Actor() entitlement.Actor {
	return ActorFor(ts.User, ts.Org.ID, models.RoleOwner)
}
