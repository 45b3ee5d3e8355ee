package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/hugh/go-tenant/internal/billing"
	"github.com/hugh/go-tenant/internal/database/models"
	"github.com/hugh/go-tenant/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeper_RefreshesOverdueSubscriptions(t *testing.T) {
	ts := testutil.NewTestContext(t)
	ctx := testutil.TestContext(t)
	provider := testutil.NewFakeProvider()
	price := testutil.CreateTestPrice(t, ts.DB, testutil.CreateTestProduct(t, ts.DB, nil), "price_1")

	now := time.Now().UTC().Truncate(time.Second)
	lapsed := now.Add(-48 * time.Hour)
	makeOverdue := func(externalID string) {
		sub := testutil.CreateTestSubscription(t, ts.DB, ts.Org.ID, price, models.SubscriptionActive, externalID)
		require.NoError(t, ts.DB.Model(sub).Update("current_period_end", lapsed).Error)
	}

	// Renewed at the provider; the invoice webhook was lost.
	makeOverdue("sub_renewed")
	provider.PutSubscription(&billing.ProviderSubscription{
		ID: "sub_renewed", Status: "active", PriceID: "price_1",
		CurrentPeriodStart: lapsed, CurrentPeriodEnd: lapsed.AddDate(0, 1, 0),
	})
	// Gone at the provider.
	makeOverdue("sub_gone")
	// Provider failing for this one.
	makeOverdue("sub_flaky")
	// Still within the grace window.
	fresh := testutil.CreateTestSubscription(t, ts.DB, ts.Org.ID, price, models.SubscriptionActive, "sub_fresh")
	require.NoError(t, ts.DB.Model(fresh).Update("current_period_end", now.Add(-10*time.Minute)).Error)

	sweeper := billing.NewSweeper(billing.SweeperConfig{
		Store:         billing.NewGormStore(ts.DB),
		Subscriptions: &flakyReader{FakeProvider: provider, failFor: "sub_flaky"},
		Grace:         time.Hour,
	})

	res, err := sweeper.Sweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Checked)
	assert.Equal(t, 2, res.Updated)
	assert.Equal(t, 1, res.Failed)

	renewed := loadSubscription(t, ts.DB, "sub_renewed")
	assert.Equal(t, models.SubscriptionActive, renewed.Status)
	assert.WithinDuration(t, lapsed.AddDate(0, 1, 0), renewed.CurrentPeriodEnd, time.Second)

	assert.Equal(t, models.SubscriptionCanceled, loadSubscription(t, ts.DB, "sub_gone").Status)
	assert.Equal(t, models.SubscriptionActive, loadSubscription(t, ts.DB, "sub_flaky").Status)
	assert.Equal(t, models.SubscriptionActive, loadSubscription(t, ts.DB, "sub_fresh").Status)

	// Only the failed one is still overdue.
	res, err = sweeper.Sweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Checked)
}

type flakyReader struct {
	*testutil.FakeProvider
	failFor string
}

func (f *flakyReader) RetrieveSubscription(ctx context.Context, id string) (*billing.ProviderSubscription, error) {
	if id == f.failFor {
		return nil, billing.ErrProviderUnavailable
	}
	return f.FakeProvider.RetrieveSubscription(ctx, id)
}

func TestSweeper_StuckRowDoesNotStarveOthers(t *testing.T) {
	ts := testutil.NewTestContext(t)
	ctx := testutil.TestContext(t)
	provider := testutil.NewFakeProvider()
	price := testutil.CreateTestPrice(t, ts.DB, testutil.CreateTestProduct(t, ts.DB, nil), "price_1")

	now := time.Now().UTC().Truncate(time.Second)
	stuckEnd := now.Add(-72 * time.Hour)
	lostEnd := now.Add(-48 * time.Hour)

	// Unpaid at the provider: its period never moves, so it stays overdue.
	stuck := testutil.CreateTestSubscription(t, ts.DB, ts.Org.ID, price, models.SubscriptionPastDue, "sub_stuck")
	require.NoError(t, ts.DB.Model(stuck).Update("current_period_end", stuckEnd).Error)
	provider.PutSubscription(&billing.ProviderSubscription{
		ID: "sub_stuck", Status: "past_due", PriceID: "price_1",
		CurrentPeriodStart: stuckEnd.AddDate(0, -1, 0), CurrentPeriodEnd: stuckEnd,
	})

	// Canceled at the provider; the deletion webhook was lost.
	lost := testutil.CreateTestSubscription(t, ts.DB, ts.Org.ID, price, models.SubscriptionActive, "sub_lost")
	require.NoError(t, ts.DB.Model(lost).Update("current_period_end", lostEnd).Error)
	provider.PutSubscription(&billing.ProviderSubscription{
		ID: "sub_lost", Status: "canceled", PriceID: "price_1",
		CurrentPeriodStart: lostEnd.AddDate(0, -1, 0), CurrentPeriodEnd: lostEnd,
	})

	sweeper := billing.NewSweeper(billing.SweeperConfig{
		Store:         billing.NewGormStore(ts.DB),
		Subscriptions: provider,
		Grace:         time.Hour,
		Batch:         1,
	})

	res, err := sweeper.Sweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, &billing.SweepResult{Checked: 1}, res)
	assert.Equal(t, models.SubscriptionPastDue, loadSubscription(t, ts.DB, "sub_stuck").Status)
	assert.Equal(t, models.SubscriptionActive, loadSubscription(t, ts.DB, "sub_lost").Status)

	res, err = sweeper.Sweep(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, &billing.SweepResult{Checked: 1, Updated: 1}, res)
	assert.Equal(t, models.SubscriptionCanceled, loadSubscription(t, ts.DB, "sub_lost").Status)

	// Only the stuck row is left, and it keeps being rechecked.
	res, err = sweeper.Sweep(ctx, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Checked)
	stamped := loadSubscription(t, ts.DB, "sub_stuck")
	require.NotNil(t, stamped.LastCheckedAt)
	assert.WithinDuration(t, now.Add(2*time.Minute), *stamped.LastCheckedAt, time.Second)
}
