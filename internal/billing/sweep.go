package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hugh/go-tenant/internal/database/models"
	"github.com/hugh/go-tenant/pkg/util"
)

const defaultSweepBatch = 100

// SweepResult summarises one sweep run.
type SweepResult struct {
	Checked int
	Updated int
	Failed  int
}

// Sweeper catches subscriptions whose webhooks were lost. Anything still
// live well past the end of its period is refreshed from the provider and
// written through the same path as reconciled events.
type Sweeper struct {
	store   Store
	reader  SubscriptionReader
	grace   time.Duration
	batch   int
	timeout time.Duration
	logger  *slog.Logger
}

type SweeperConfig struct {
	Store         Store
	Subscriptions SubscriptionReader
	// Grace is how long past period end a subscription may go unrenewed
	// before it is checked.
	Grace   time.Duration
	Batch   int
	Timeout time.Duration
	Logger  *slog.Logger
}

func NewSweeper(cfg SweeperConfig) *Sweeper {
	logger := cfg.Logger
	if logger == nil {
		logger = util.DiscardLogger()
	}
	batch := cfg.Batch
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	return &Sweeper{
		store:   cfg.Store,
		reader:  cfg.Subscriptions,
		grace:   cfg.Grace,
		batch:   batch,
		timeout: cfg.Timeout,
		logger:  logger,
	}
}

// Sweep checks one batch of overdue subscriptions. A failure on a single
// subscription is counted and logged and does not stop the run. Every
// checked row is stamped so the next run moves on to the rows behind it.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (*SweepResult, error) {
	subs, err := s.store.ListOverdueSubscriptions(ctx, now.Add(-s.grace), s.batch)
	if err != nil {
		return nil, err
	}

	result := &SweepResult{}
	for i := range subs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Checked++

		changed, err := s.refresh(ctx, &subs[i])
		if markErr := s.store.MarkSubscriptionChecked(context.WithoutCancel(ctx), subs[i].ID, now); markErr != nil {
			s.logger.Warn("failed to stamp swept subscription",
				"subscription_id", subs[i].ID,
				"error", markErr,
			)
		}
		if err != nil {
			result.Failed++
			s.logger.Warn("subscription refresh failed",
				"subscription_id", subs[i].ID,
				"external_id", subs[i].ExternalSubscriptionID,
				"error", err,
			)
			continue
		}
		if changed {
			result.Updated++
		}
	}

	if result.Checked > 0 {
		s.logger.Info("subscription sweep finished",
			"checked", result.Checked,
			"updated", result.Updated,
			"failed", result.Failed,
		)
	}
	return result, nil
}

func (s *Sweeper) refresh(ctx context.Context, sub *models.Subscription) (bool, error) {
	ps, err := providerCall(ctx, s.timeout, func(ctx context.Context) (*ProviderSubscription, error) {
		return s.reader.RetrieveSubscription(ctx, sub.ExternalSubscriptionID)
	})

	var change SubscriptionChange
	switch {
	case errors.Is(err, ErrProviderNotFound):
		canceled := models.SubscriptionCanceled
		change = SubscriptionChange{ExternalSubscriptionID: sub.ExternalSubscriptionID, Status: &canceled}
	case err != nil:
		return false, fmt.Errorf("retrieving subscription: %w", err)
	default:
		change = ChangeFromProvider(ps)
		change.ExternalSubscriptionID = sub.ExternalSubscriptionID
	}

	res, err := s.store.ApplySubscriptionChange(ctx, change)
	if err != nil {
		return false, err
	}
	updated := res.Subscription
	return updated.Status != sub.Status || !updated.CurrentPeriodEnd.Equal(sub.CurrentPeriodEnd), nil
}
