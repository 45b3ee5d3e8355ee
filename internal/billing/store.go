package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/go-tenant/internal/database/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SubscriptionOwner carries the fields needed to create a subscription row.
type SubscriptionOwner struct {
	OrganizationID uuid.UUID
	ProductID      uuid.UUID
	ProductPriceID uuid.UUID
	UserID         *uuid.UUID
}

// PaymentRecord is a payment to append alongside a subscription change.
type PaymentRecord struct {
	ExternalPaymentID string
	ExternalInvoiceID string
	AmountCents       int64
	Currency          string
	// UserID defaults to the subscription's purchaser when nil.
	UserID *uuid.UUID
}

// SubscriptionChange describes one reconciliation write, keyed by the
// external subscription id. Nil fields are left untouched.
type SubscriptionChange struct {
	ExternalSubscriptionID string

	// Create turns the change into an upsert: a missing row is inserted
	// from Create plus the fields below. Without it a missing row is
	// ErrSubscriptionNotFound.
	Create *SubscriptionOwner

	Status            *models.SubscriptionStatus
	PeriodStart       *time.Time
	PeriodEnd         *time.Time
	CancelAtPeriodEnd *bool

	// Payment, when set, is appended in the same database transaction.
	// A payment already recorded under the same external id is skipped.
	Payment *PaymentRecord
}

type ApplyResult struct {
	Subscription    *models.Subscription
	PaymentRecorded bool
}

// Store is the persistence the billing engine needs.
type Store interface {
	ApplySubscriptionChange(ctx context.Context, change SubscriptionChange) (*ApplyResult, error)
	FindSubscriptionByExternalID(ctx context.Context, externalSubscriptionID string) (*models.Subscription, error)
	FindActiveSubscription(ctx context.Context, orgID uuid.UUID) (*models.Subscription, error)
	LatestSubscription(ctx context.Context, orgID uuid.UUID) (*models.Subscription, error)
	ListOverdueSubscriptions(ctx context.Context, endedBefore time.Time, limit int) ([]models.Subscription, error)
	MarkSubscriptionChecked(ctx context.Context, subscriptionID uuid.UUID, at time.Time) error
	ListTransactions(ctx context.Context, orgID uuid.UUID, offset, limit int) ([]models.Transaction, int64, error)
	FindPriceByExternalID(ctx context.Context, externalPriceID string) (*models.ProductPrice, error)
	FindPrice(ctx context.Context, priceID uuid.UUID) (*models.ProductPrice, error)
	FindUser(ctx context.Context, userID uuid.UUID) (*models.User, error)
	SetCustomerID(ctx context.Context, userID uuid.UUID, customerID string) (string, error)
}

type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

var _ Store = (*GormStore)(nil)

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db, now: time.Now}
}

func (c SubscriptionChange) columns() map[string]interface{} {
	cols := make(map[string]interface{})
	if c.Status != nil {
		cols["status"] = *c.Status
	}
	if c.PeriodStart != nil {
		cols["current_period_start"] = c.PeriodStart.UTC()
	}
	if c.PeriodEnd != nil {
		cols["current_period_end"] = c.PeriodEnd.UTC()
	}
	if c.CancelAtPeriodEnd != nil {
		cols["cancel_at_period_end"] = *c.CancelAtPeriodEnd
	}
	return cols
}

// ApplySubscriptionChange is the single write path for subscription state.
// Every statement is keyed by the unique external subscription id, so
// concurrent deliveries for one subscription serialize on that row in the
// database. A CANCELED row never leaves CANCELED.
func (s *GormStore) ApplySubscriptionChange(ctx context.Context, change SubscriptionChange) (*ApplyResult, error) {
	if change.ExternalSubscriptionID == "" {
		return nil, errors.New("external subscription id is required")
	}

	cols := change.columns()
	cols["updated_at"] = s.now().UTC()
	reopens := change.Status != nil && *change.Status != models.SubscriptionCanceled
	notCanceled := clause.Expr{SQL: "subscriptions.status <> ?", Vars: []interface{}{models.SubscriptionCanceled}}

	result := &ApplyResult{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if change.Create != nil {
			if err := s.upsert(tx, change, cols, notCanceled); err != nil {
				return err
			}
		} else {
			q := tx.Model(&models.Subscription{}).
				Where("external_subscription_id = ?", change.ExternalSubscriptionID)
			if reopens {
				q = q.Where(notCanceled)
			}
			res := q.Updates(cols)
			if res.Error != nil {
				return fmt.Errorf("updating subscription: %w", res.Error)
			}
			// Zero rows either means no such subscription or a stale
			// event against a canceled one; the lookup below tells them apart.
		}

		var sub models.Subscription
		err := tx.Where("external_subscription_id = ?", change.ExternalSubscriptionID).First(&sub).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSubscriptionNotFound
		}
		if err != nil {
			return fmt.Errorf("loading subscription: %w", err)
		}
		result.Subscription = &sub

		if change.Payment != nil {
			recorded, err := appendTransaction(tx, &sub, change.Payment)
			if err != nil {
				return err
			}
			result.PaymentRecorded = recorded
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *GormStore) upsert(tx *gorm.DB, change SubscriptionChange, cols map[string]interface{}, notCanceled clause.Expr) error {
	status := models.SubscriptionActive
	if change.Status != nil {
		status = *change.Status
	}
	row := models.Subscription{
		OrganizationID:         change.Create.OrganizationID,
		ProductID:              change.Create.ProductID,
		ProductPriceID:         change.Create.ProductPriceID,
		UserID:                 change.Create.UserID,
		Status:                 status,
		ExternalSubscriptionID: change.ExternalSubscriptionID,
	}
	if change.PeriodStart != nil {
		row.CurrentPeriodStart = change.PeriodStart.UTC()
	}
	if change.PeriodEnd != nil {
		row.CurrentPeriodEnd = change.PeriodEnd.UTC()
	}
	if change.CancelAtPeriodEnd != nil {
		row.CancelAtPeriodEnd = *change.CancelAtPeriodEnd
	}

	assign := make([]string, 0, len(cols))
	for col := range cols {
		assign = append(assign, col)
	}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_subscription_id"}},
		DoUpdates: clause.AssignmentColumns(assign),
		Where:     clause.Where{Exprs: []clause.Expression{notCanceled}},
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upserting subscription: %w", err)
	}
	return nil
}

func appendTransaction(tx *gorm.DB, sub *models.Subscription, p *PaymentRecord) (bool, error) {
	if p.ExternalPaymentID == "" {
		return false, errors.New("external payment id is required")
	}
	userID := p.UserID
	if userID == nil {
		userID = sub.UserID
	}
	txn := models.Transaction{
		OrganizationID:    sub.OrganizationID,
		SubscriptionID:    sub.ID,
		UserID:            userID,
		AmountCents:       p.AmountCents,
		Currency:          p.Currency,
		Status:            models.TransactionSucceeded,
		ExternalPaymentID: p.ExternalPaymentID,
		ExternalInvoiceID: p.ExternalInvoiceID,
	}
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_payment_id"}},
		DoNothing: true,
	}).Create(&txn)
	if res.Error != nil {
		return false, fmt.Errorf("appending transaction: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) FindSubscriptionByExternalID(ctx context.Context, externalSubscriptionID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.db.WithContext(ctx).
		Where("external_subscription_id = ?", externalSubscriptionID).
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying subscription: %w", err)
	}
	return &sub, nil
}

func (s *GormStore) FindActiveSubscription(ctx context.Context, orgID uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.db.WithContext(ctx).
		Where("organization_id = ? AND status = ?", orgID, models.SubscriptionActive).
		Order("current_period_end DESC").
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoActiveSubscription
	}
	if err != nil {
		return nil, fmt.Errorf("querying active subscription: %w", err)
	}
	return &sub, nil
}

func (s *GormStore) LatestSubscription(ctx context.Context, orgID uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.db.WithContext(ctx).
		Preload("Product").
		Where("organization_id = ?", orgID).
		Order("created_at DESC").
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying subscription: %w", err)
	}
	return &sub, nil
}

// ListOverdueSubscriptions returns live subscriptions whose period ended
// before endedBefore. Rows never checked come first, then the least recently
// checked, so a row that stays overdue cannot hold back the ones behind it.
func (s *GormStore) ListOverdueSubscriptions(ctx context.Context, endedBefore time.Time, limit int) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := s.db.WithContext(ctx).
		Where("status IN ?", []models.SubscriptionStatus{
			models.SubscriptionActive,
			models.SubscriptionTrialing,
			models.SubscriptionPastDue,
		}).
		Where("current_period_end < ?", endedBefore.UTC()).
		Order("last_checked_at ASC NULLS FIRST").
		Order("current_period_end ASC").
		Order("id ASC").
		Limit(limit).
		Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("querying overdue subscriptions: %w", err)
	}
	return subs, nil
}

func (s *GormStore) MarkSubscriptionChecked(ctx context.Context, subscriptionID uuid.UUID, at time.Time) error {
	err := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("id = ?", subscriptionID).
		UpdateColumn("last_checked_at", at.UTC()).Error
	if err != nil {
		return fmt.Errorf("marking subscription checked: %w", err)
	}
	return nil
}

func (s *GormStore) ListTransactions(ctx context.Context, orgID uuid.UUID, offset, limit int) ([]models.Transaction, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Transaction{}).Where("organization_id = ?", orgID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting transactions: %w", err)
	}

	var txns []models.Transaction
	if err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&txns).Error; err != nil {
		return nil, 0, fmt.Errorf("listing transactions: %w", err)
	}
	return txns, total, nil
}

func (s *GormStore) FindPriceByExternalID(ctx context.Context, externalPriceID string) (*models.ProductPrice, error) {
	var price models.ProductPrice
	err := s.db.WithContext(ctx).
		Preload("Product").
		Where("external_price_id = ?", externalPriceID).
		First(&price).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying price: %w", err)
	}
	return &price, nil
}

func (s *GormStore) FindPrice(ctx context.Context, priceID uuid.UUID) (*models.ProductPrice, error) {
	var price models.ProductPrice
	err := s.db.WithContext(ctx).Preload("Product").First(&price, "id = ?", priceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying price: %w", err)
	}
	return &price, nil
}

func (s *GormStore) FindUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return &user, nil
}

// SetCustomerID records customerID for the user unless one is already
// stored, and returns whichever id the user ends up with.
func (s *GormStore) SetCustomerID(ctx context.Context, userID uuid.UUID, customerID string) (string, error) {
	res := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND external_customer_id IS NULL", userID).
		Update("external_customer_id", customerID)
	if res.Error != nil {
		return "", fmt.Errorf("storing customer id: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return customerID, nil
	}

	user, err := s.FindUser(ctx, userID)
	if err != nil {
		return "", err
	}
	if user.ExternalCustomerID == nil {
		return "", fmt.Errorf("customer id for user %s was not stored", userID)
	}
	return *user.ExternalCustomerID, nil
}
