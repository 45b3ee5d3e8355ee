//go:build ignore

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/hugh/go-tenant/internal/auth"
	"github.com/hugh/go-tenant/internal/database"
	"github.com/hugh/go-tenant/internal/database/models"
	"github.com/hugh/go-tenant/internal/entitlement"
	"github.com/hugh/go-tenant/internal/tasks"
	"github.com/hugh/go-tenant/pkg/config"
	"github.com/hugh/go-tenant/pkg/queue"
	"github.com/hugh/go-tenant/pkg/util"
	"github.com/joho/godotenv"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type seedPlan struct {
	name        string
	description string
	perms       models.Permissions
	prices      []models.ProductPrice
}

var plans = []seedPlan{
	{
		name:        "Starter",
		description: "Billing visibility for small teams",
		perms: models.Permissions{
			entitlement.FeatureBilling: {entitlement.ActionView},
			entitlement.FeatureMember:  {entitlement.ActionView},
		},
		prices: []models.ProductPrice{
			{AmountCents: 900, Currency: "usd", Interval: models.IntervalMonth, IntervalCount: 1},
		},
	},
	{
		name:        "Pro",
		description: "Member and role management",
		perms: models.Permissions{
			entitlement.FeatureBilling: {entitlement.ActionView},
			entitlement.FeatureMember:  {entitlement.ActionCreate, entitlement.ActionUpdate, entitlement.ActionDelete, entitlement.ActionView},
			entitlement.FeatureRole:    {entitlement.ActionView, entitlement.ActionUpdate},
		},
		prices: []models.ProductPrice{
			{AmountCents: 2900, Currency: "usd", Interval: models.IntervalMonth, IntervalCount: 1},
			{AmountCents: 29000, Currency: "usd", Interval: models.IntervalYear, IntervalCount: 1},
		},
	},
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Server.Env)
	ctx := context.Background()

	db, err := database.Connect(&cfg.Database, logger)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	adminEmail := envOr("ADMIN_EMAIL", "admin@example.com")
	ownerEmail := envOr("OWNER_EMAIL", "owner@example.com")
	memberEmail := envOr("MEMBER_EMAIL", "member@example.com")

	admin := upsertUser(db, adminEmail, "Platform Admin", models.PlatformRoleAdmin)
	owner := upsertUser(db, ownerEmail, "Demo Owner", "user")
	member := upsertUser(db, memberEmail, "Demo Member", "user")

	var org models.Organization
	err = db.Where("slug = ?", "demo").First(&org).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		org = models.Organization{Name: "Demo Organization", Slug: "demo"}
		if err := database.CreateOrganization(ctx, db, &org, owner); err != nil {
			log.Fatalf("failed to create organization: %v", err)
		}
		fmt.Printf("Created organization: %s\n", org.Slug)
	case err != nil:
		log.Fatalf("failed to look up organization: %v", err)
	default:
		fmt.Printf("Organization already exists: %s\n", org.Slug)
	}

	for _, u := range []*models.User{member, admin} {
		m := models.Member{OrganizationID: org.ID, UserID: u.ID, Role: models.RoleMember}
		if err := db.Where(models.Member{OrganizationID: org.ID, UserID: u.ID}).FirstOrCreate(&m).Error; err != nil {
			log.Fatalf("failed to add member %s: %v", u.Email, err)
		}
	}

	ownerGrant := models.RolePermission{
		OrganizationID: org.ID,
		RoleSlug:       models.RoleOwner,
		Permissions:    datatypes.NewJSONType(entitlement.DefaultRegistry().Tenant()),
	}
	if err := db.Where(models.RolePermission{OrganizationID: org.ID, RoleSlug: models.RoleOwner}).
		FirstOrCreate(&ownerGrant).Error; err != nil {
		log.Fatalf("failed to grant owner role: %v", err)
	}

	priceIDs := seedCatalog(db)

	// Sync the new catalog to the provider when a worker can pick it up.
	if len(priceIDs) > 0 {
		client := queue.NewClient(&cfg.Redis)
		defer client.Close()
		for _, id := range priceIDs {
			task, err := tasks.NewSyncPriceTask(id)
			if err != nil {
				log.Fatalf("failed to build sync task: %v", err)
			}
			if _, err := client.EnqueueContext(ctx, task); err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
				fmt.Printf("Could not enqueue price sync (is Redis up?): %v\n", err)
				break
			}
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Expiry())
	for _, row := range []struct {
		user *models.User
		role string
	}{
		{admin, models.RoleMember},
		{owner, models.RoleOwner},
		{member, models.RoleMember},
	} {
		token, err := jwtService.GenerateToken(auth.Identity{
			UserID:         row.user.ID,
			OrganizationID: org.ID,
			Email:          row.user.Email,
			Role:           row.role,
			PlatformRole:   row.user.PlatformRole,
		})
		if err != nil {
			log.Fatalf("failed to generate token: %v", err)
		}
		fmt.Printf("\n%s (%s):\n%s\n", row.user.Email, row.role, token)
	}
}

func upsertUser(db *gorm.DB, email, name, platformRole string) *models.User {
	user := models.User{Email: email, Name: name, PlatformRole: platformRole}
	if err := db.Where(models.User{Email: email}).FirstOrCreate(&user).Error; err != nil {
		log.Fatalf("failed to create user %s: %v", email, err)
	}
	return &user
}

// seedCatalog creates the demo plans once and returns the ids of new prices.
func seedCatalog(db *gorm.DB) []uuid.UUID {
	var created []uuid.UUID
	for _, plan := range plans {
		var count int64
		db.Model(&models.Product{}).Where("name = ?", plan.name).Count(&count)
		if count > 0 {
			fmt.Printf("Product already exists: %s\n", plan.name)
			continue
		}

		product := models.Product{
			Name:        plan.name,
			Description: plan.description,
			Active:      true,
			Permissions: datatypes.NewJSONType(plan.perms),
		}
		err := db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(&product).Error; err != nil {
				return err
			}
			for _, p := range plan.prices {
				p.ProductID = product.ID
				p.Active = true
				if err := tx.Create(&p).Error; err != nil {
					return err
				}
				created = append(created, p.ID)
			}
			return nil
		})
		if err != nil {
			log.Fatalf("failed to create product %s: %v", plan.name, err)
		}
		fmt.Printf("Created product: %s\n", plan.name)
	}
	return created
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
