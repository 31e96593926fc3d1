package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/safar/rewear-store/internal/apperr"
	"github.com/safar/rewear-store/internal/models"
)

func CreateUser(ctx context.Context, db querier, email, name string, isAdmin bool) (*models.User, error) {
	user := &models.User{}

	query := `
		INSERT INTO users (id, email, name, is_admin, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, NOW(), NOW(), 1)
		RETURNING id, email, name, is_admin, monthly_carbon_goal, created_at, updated_at, version`

	err := db.QueryRowContext(ctx, query, uuid.NewString(), email, name, isAdmin).Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.IsAdmin,
		&user.MonthlyCarbonGoal,
		&user.CreatedAt,
		&user.UpdatedAt,
		&user.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	return user, nil
}

func GetUser(ctx context.Context, db querier, id string) (*models.User, error) {
	user := &models.User{}

	query := `
		SELECT id, email, name, is_admin, monthly_carbon_goal, created_at, updated_at, version
		FROM users
		WHERE id = $1`

	err := db.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.IsAdmin,
		&user.MonthlyCarbonGoal,
		&user.CreatedAt,
		&user.UpdatedAt,
		&user.Version,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, apperr.NotFound("user", id)
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return user, nil
}

// UserImpact sums the impact of the user's orders that still hold their
// stock, i.e. everything not cancelled or returned.
func UserImpact(ctx context.Context, db querier, userID string) (models.ImpactTotals, error) {
	var totals models.ImpactTotals

	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(total_carbon_saved), 0),
		        COALESCE(SUM(total_water_saved), 0),
		        COALESCE(SUM(total_waste_diverted), 0)
		 FROM orders
		 WHERE user_id = $1
		   AND status NOT IN ($2, $3)`,
		userID, models.OrderStatusCancelled, models.OrderStatusReturned).Scan(
		&totals.Orders,
		&totals.CarbonSaved,
		&totals.WaterSaved,
		&totals.WasteDiverted,
	)
	if err != nil {
		return totals, fmt.Errorf("user impact: %w", err)
	}

	return totals, nil
}

// AwardBadge links the named badge to the user. Awarding a badge the user
// already holds is a no-op; the result reports whether a row was added.
func AwardBadge(ctx context.Context, db querier, userID, badgeName string, at time.Time) (bool, error) {
	result, err := db.ExecContext(ctx,
		`INSERT INTO user_badges (user_id, badge_id, earned_at)
		 SELECT $1::text, id, $3::timestamptz FROM badges WHERE name = $2
		 ON CONFLICT (user_id, badge_id) DO NOTHING`,
		userID, badgeName, at)
	if err != nil {
		return false, fmt.Errorf("award badge %s: %w", badgeName, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		var exists bool
		err := db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM badges WHERE name = $1)`, badgeName).Scan(&exists)
		if err != nil {
			return false, fmt.Errorf("check badge exists: %w", err)
		}
		if !exists {
			return false, apperr.NotFound("badge", badgeName)
		}
	}

	return rowsAffected == 1, nil
}

func ListUserBadges(ctx context.Context, db querier, userID string) ([]models.Badge, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT b.id, b.name, b.description, ub.earned_at
		 FROM user_badges ub
		 JOIN badges b ON b.id = ub.badge_id
		 WHERE ub.user_id = $1
		 ORDER BY ub.earned_at, b.name`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list user badges: %w", err)
	}
	defer rows.Close()

	var badges []models.Badge
	for rows.Next() {
		var badge models.Badge
		if err := rows.Scan(&badge.ID, &badge.Name, &badge.Description, &badge.EarnedAt); err != nil {
			return nil, fmt.Errorf("scan badge: %w", err)
		}
		badges = append(badges, badge)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return badges, nil
}
