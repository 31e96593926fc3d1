// Package badges applies achievement badges once an order has been placed.
// Which badges a user has earned is decided by Rules; this package only
// evaluates them and records the awards.
package badges

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/safar/rewear-store/internal/config"
	"github.com/safar/rewear-store/internal/models"
	"github.com/safar/rewear-store/internal/orders"
)

type Store interface {
	UserImpact(ctx context.Context, userID string) (models.ImpactTotals, error)
	// AwardBadge is idempotent and reports whether the badge was newly added.
	AwardBadge(ctx context.Context, userID, badgeName string, at time.Time) (bool, error)
}

type Rule interface {
	Badge() string
	Earned(stats models.ImpactTotals) bool
}

// CarbonMilestone is earned once lifetime carbon savings reach Threshold.
type CarbonMilestone struct {
	Name      string
	Threshold decimal.Decimal
}

func (m CarbonMilestone) Badge() string { return m.Name }

func (m CarbonMilestone) Earned(stats models.ImpactTotals) bool {
	return stats.CarbonSaved.GreaterThanOrEqual(m.Threshold)
}

func RulesFromConfig(cfg config.BadgesConfig) []Rule {
	rules := make([]Rule, 0, len(cfg.CarbonMilestones))
	for _, m := range cfg.CarbonMilestones {
		rules = append(rules, CarbonMilestone{Name: m.Badge, Threshold: m.Threshold})
	}
	return rules
}

var _ orders.CreatedHook = (*Awarder)(nil)

type Awarder struct {
	store  Store
	rules  []Rule
	logger *zap.Logger
	now    func() time.Time
}

func NewAwarder(store Store, logger *zap.Logger, rules ...Rule) *Awarder {
	return &Awarder{
		store:  store,
		rules:  rules,
		logger: logger.Named("badges"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// OnOrderCreated re-evaluates every rule against the user's lifetime impact.
// One failing award does not stop the others.
func (a *Awarder) OnOrderCreated(ctx context.Context, userID string, order *models.Order) error {
	if len(a.rules) == 0 {
		return nil
	}

	stats, err := a.store.UserImpact(ctx, userID)
	if err != nil {
		return fmt.Errorf("load impact for %s: %w", userID, err)
	}

	var errs []error
	for _, rule := range a.rules {
		if !rule.Earned(stats) {
			continue
		}
		added, err := a.store.AwardBadge(ctx, userID, rule.Badge(), a.now())
		if err != nil {
			errs = append(errs, fmt.Errorf("award %s: %w", rule.Badge(), err))
			continue
		}
		if added {
			a.logger.Info("badge awarded",
				zap.String("user_id", userID),
				zap.String("badge", rule.Badge()),
				zap.String("order_id", order.ID),
				zap.String("carbon_saved", stats.CarbonSaved.String()),
			)
		}
	}
	return errors.Join(errs...)
}
