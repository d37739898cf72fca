package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"loyalty-app/internal/logger"
	"loyalty-app/internal/repository/db"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// uniqueViolation is the PostgreSQL error code for a duplicate key
const uniqueViolation = "23505"

// RedeemCode claims the code, credits the user and records the history in one transaction.
// The claim is a conditional update on used = false, so concurrent redemptions of one code
// cannot both succeed.
func (p *PostgresDB) RedeemCode(ctx context.Context, code, userID, displayName string) (*db.RedeemResult, error) {
	tx, err := p.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	now := p.now().UTC()

	claimed := db.RedeemCode{Code: code, Used: true, UsedBy: &userID, UsedAt: &now}
	err = tx.QueryRowContext(ctx, `
	UPDATE redeem_codes SET used = TRUE, used_by = $2, used_at = $3
	WHERE code = $1 AND used = FALSE
	RETURNING points, created_at
	`, code, userID, now).Scan(&claimed.Points, &claimed.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, p.missingCodeError(ctx, tx, code)
		}
		return nil, fmt.Errorf("error claiming redeem code: %w", err)
	}

	var total int
	err = tx.QueryRowContext(ctx, `
	INSERT INTO users (user_id, display_name, points, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $4)
	ON CONFLICT (user_id) DO UPDATE SET
		points = users.points + EXCLUDED.points,
		display_name = COALESCE(NULLIF(EXCLUDED.display_name, ''), users.display_name),
		updated_at = EXCLUDED.updated_at
	RETURNING points
	`, userID, displayName, claimed.Points, now).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("error crediting points: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
	INSERT INTO point_history (id, user_id, code, points, created_at)
	VALUES ($1, $2, $3, $4, $5)
	`, uuid.New().String(), userID, code, claimed.Points, now); err != nil {
		return nil, fmt.Errorf("error recording point history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("error committing redemption: %w", err)
	}

	logger.Log.WithFields(logrus.Fields{
		"code":         code,
		"user_id":      userID,
		"points":       claimed.Points,
		"total_points": total,
	}).Info("Redeemed code")

	return &db.RedeemResult{Code: claimed, PointsAdded: claimed.Points, TotalPoints: total}, nil
}

func (p *PostgresDB) missingCodeError(ctx context.Context, tx *sql.Tx, code string) error {
	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM redeem_codes WHERE code = $1)`, code).Scan(&exists); err != nil {
		return fmt.Errorf("error looking up redeem code: %w", err)
	}
	if !exists {
		return db.ErrCodeNotFound
	}
	return db.ErrCodeAlreadyUsed
}

// GetUser retrieves a user's balance
func (p *PostgresDB) GetUser(ctx context.Context, userID string) (*db.User, error) {
	var user db.User
	query := `SELECT user_id, display_name, points, created_at, updated_at FROM users WHERE user_id = $1`

	err := p.conn.QueryRowContext(ctx, query, userID).Scan(&user.UserID, &user.DisplayName, &user.Points, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, db.ErrUserNotFound
		}
		return nil, fmt.Errorf("error retrieving user: %w", err)
	}

	return &user, nil
}

// GetPointHistory returns the newest entries first
func (p *PostgresDB) GetPointHistory(ctx context.Context, userID string, limit int) ([]db.PointHistory, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := p.conn.QueryContext(ctx, `
	SELECT id, user_id, code, points, created_at
	FROM point_history
	WHERE user_id = $1
	ORDER BY created_at DESC
	LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying point history: %w", err)
	}
	defer rows.Close()

	history := []db.PointHistory{}
	for rows.Next() {
		var h db.PointHistory
		if err := rows.Scan(&h.ID, &h.UserID, &h.Code, &h.Points, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning point history: %w", err)
		}
		history = append(history, h)
	}

	return history, rows.Err()
}

// CreateCodes inserts unused codes in one transaction
func (p *PostgresDB) CreateCodes(ctx context.Context, codes []db.RedeemCode) error {
	tx, err := p.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	now := p.now().UTC()
	for _, c := range codes {
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO redeem_codes (code, points, used, created_at) VALUES ($1, $2, FALSE, $3)`,
			c.Code, c.Points, createdAt,
		); err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
				return db.ErrCodeExists
			}
			return fmt.Errorf("error inserting redeem code: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing redeem codes: %w", err)
	}

	logger.Log.WithField("count", len(codes)).Info("Created redeem codes")
	return nil
}
