package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const (
	MinRedeemCodeLength = 4
	MaxRedeemCodeLength = 32
	MaxCodesPerBatch    = 500
	MaxPointsPerCode    = 100000
)

var redeemCodePattern = regexp.MustCompile(`^[A-Z0-9-]+$`)

// RedeemRequestValidator validates redemption and code issuing requests
type RedeemRequestValidator struct{}

// NewRedeemRequestValidator creates a new RedeemRequestValidator
func NewRedeemRequestValidator() *RedeemRequestValidator {
	return &RedeemRequestValidator{}
}

// NormalizeRedeemCode trims and upper-cases a code the way it is stored
func NormalizeRedeemCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidateRedeemCode validates a normalized redeem code
func (v *RedeemRequestValidator) ValidateRedeemCode(code string) error {
	if code == "" {
		return errors.New("code cannot be empty")
	}

	if len(code) < MinRedeemCodeLength {
		return fmt.Errorf("code must be at least %d characters long, got %d", MinRedeemCodeLength, len(code))
	}

	if len(code) > MaxRedeemCodeLength {
		return fmt.Errorf("code must be at most %d characters long, got %d", MaxRedeemCodeLength, len(code))
	}

	if !redeemCodePattern.MatchString(code) {
		return errors.New("code can only contain letters, numbers, and hyphens")
	}

	return nil
}

// ValidateIssueCodesRequest validates an admin request to generate new codes
func (v *RedeemRequestValidator) ValidateIssueCodesRequest(count, points int) error {
	if count < 1 || count > MaxCodesPerBatch {
		return fmt.Errorf("count must be between 1 and %d, got %d", MaxCodesPerBatch, count)
	}

	if points < 1 || points > MaxPointsPerCode {
		return fmt.Errorf("points must be between 1 and %d, got %d", MaxPointsPerCode, points)
	}

	return nil
}
