package redeem

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"loyalty-app/internal/logger"
	"loyalty-app/internal/metrics"
	"loyalty-app/internal/repository/db"
	"loyalty-app/pkg/validation"
	"math/big"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// codeAlphabet leaves out 0/O and 1/I so printed codes can be typed back
	codeAlphabet      = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	generatedCodeLen  = 10
	defaultHistoryLen = 20
	maxIssueAttempts  = 3
)

// ErrInvalidCode is returned when a code fails format validation
var ErrInvalidCode = errors.New("invalid redeem code")

// RedeemResponse is the outcome of a redemption
type RedeemResponse struct {
	Code        string
	PointsAdded int
	TotalPoints int
}

// PointsResponse is a user's balance with recent history
type PointsResponse struct {
	UserID      string
	DisplayName string
	Points      int
	History     []db.PointHistory
}

// RedeemService handles the business logic for points redemption
type RedeemService struct {
	store     db.RewardsStore
	validator *validation.RedeemRequestValidator
	now       func() time.Time
	newCode   func() (string, error)
}

// NewRedeemService creates a new RedeemService
func NewRedeemService(store db.RewardsStore) *RedeemService {
	return &RedeemService{
		store:     store,
		validator: validation.NewRedeemRequestValidator(),
		now:       time.Now,
		newCode:   generateCode,
	}
}

// Redeem validates code and credits its points to userID. A code is credited at most once;
// the store reports db.ErrCodeNotFound or db.ErrCodeAlreadyUsed otherwise.
func (s *RedeemService) Redeem(ctx context.Context, code, userID, displayName string) (*RedeemResponse, error) {
	code = validation.NormalizeRedeemCode(code)
	if err := s.validator.ValidateRedeemCode(code); err != nil {
		metrics.ObserveRedemption("invalid", 0)
		return nil, fmt.Errorf("%w: %v", ErrInvalidCode, err)
	}
	if userID == "" {
		return nil, errors.New("user id is required")
	}

	result, err := s.store.RedeemCode(ctx, code, userID, displayName)
	if err != nil {
		switch {
		case errors.Is(err, db.ErrCodeNotFound):
			metrics.ObserveRedemption("not_found", 0)
		case errors.Is(err, db.ErrCodeAlreadyUsed):
			metrics.ObserveRedemption("already_used", 0)
		default:
			metrics.ObserveRedemption("error", 0)
			logger.Log.WithError(err).WithFields(logrus.Fields{
				"code":    code,
				"user_id": userID,
			}).Error("Redemption failed")
		}
		return nil, err
	}

	metrics.ObserveRedemption("success", result.PointsAdded)
	return &RedeemResponse{
		Code:        code,
		PointsAdded: result.PointsAdded,
		TotalPoints: result.TotalPoints,
	}, nil
}

// GetPoints returns the balance and newest history entries. Unknown users have zero points.
func (s *RedeemService) GetPoints(ctx context.Context, userID string, historyLimit int) (*PointsResponse, error) {
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLen
	}

	resp := &PointsResponse{UserID: userID, History: []db.PointHistory{}}

	user, err := s.store.GetUser(ctx, userID)
	switch {
	case errors.Is(err, db.ErrUserNotFound):
		return resp, nil
	case err != nil:
		return nil, fmt.Errorf("error retrieving user: %w", err)
	}
	resp.DisplayName = user.DisplayName
	resp.Points = user.Points

	history, err := s.store.GetPointHistory(ctx, userID, historyLimit)
	if err != nil {
		return nil, fmt.Errorf("error retrieving point history: %w", err)
	}
	resp.History = history
	return resp, nil
}

// IssueCodes generates count new codes worth points each.
// A batch that collides with an existing code is regenerated.
func (s *RedeemService) IssueCodes(ctx context.Context, count, points int) ([]db.RedeemCode, error) {
	if err := s.validator.ValidateIssueCodesRequest(count, points); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCode, err)
	}

	for attempt := 1; attempt <= maxIssueAttempts; attempt++ {
		codes, err := s.generateBatch(count, points)
		if err != nil {
			return nil, err
		}

		err = s.store.CreateCodes(ctx, codes)
		if err == nil {
			metrics.ObserveCodesIssued(len(codes))
			logger.Log.WithFields(logrus.Fields{
				"count":  count,
				"points": points,
			}).Info("Issued redeem codes")
			return codes, nil
		}
		if !errors.Is(err, db.ErrCodeExists) {
			return nil, fmt.Errorf("error storing codes: %w", err)
		}
		logger.Log.WithField("attempt", attempt).Warn("Generated code collided, regenerating batch")
	}
	return nil, fmt.Errorf("error issuing codes after %d attempts: %w", maxIssueAttempts, db.ErrCodeExists)
}

func (s *RedeemService) generateBatch(count, points int) ([]db.RedeemCode, error) {
	now := s.now().UTC()
	seen := make(map[string]struct{}, count)
	codes := make([]db.RedeemCode, 0, count)
	for len(codes) < count {
		code, err := s.newCode()
		if err != nil {
			return nil, fmt.Errorf("error generating code: %w", err)
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, db.RedeemCode{Code: code, Points: points, CreatedAt: now})
	}
	return codes, nil
}

func generateCode() (string, error) {
	b := make([]byte, generatedCodeLen)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = codeAlphabet[n.Int64()]
	}
	return string(b), nil
}
