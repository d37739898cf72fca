package validation

import (
	"strings"
	"testing"
)

func TestNormalizeRedeemCode(t *testing.T) {
	if got := NormalizeRedeemCode("  abcd-1234 "); got != "ABCD-1234" {
		t.Errorf("NormalizeRedeemCode() = %q, want %q", got, "ABCD-1234")
	}
}

func TestRedeemRequestValidator_ValidateRedeemCode(t *testing.T) {
	validator := NewRedeemRequestValidator()

	tests := []struct {
		name    string
		code    string
		wantErr bool
		errMsg  string
	}{
		{name: "valid code", code: "SUMMER-2024", wantErr: false},
		{name: "minimum length", code: "ABCD", wantErr: false},
		{name: "maximum length", code: strings.Repeat("A", MaxRedeemCodeLength), wantErr: false},
		{name: "empty code", code: "", wantErr: true, errMsg: "code cannot be empty"},
		{name: "too short", code: "ABC", wantErr: true, errMsg: "at least"},
		{name: "too long", code: strings.Repeat("A", MaxRedeemCodeLength+1), wantErr: true, errMsg: "at most"},
		{name: "lower case is not normalized", code: "abcd", wantErr: true, errMsg: "only contain"},
		{name: "invalid characters", code: "AB$D", wantErr: true, errMsg: "only contain"},
		{name: "mongo operator injection", code: "{$NE:1}", wantErr: true, errMsg: "only contain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.ValidateRedeemCode(tt.code)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRedeemCode() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr && err != nil && !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("ValidateRedeemCode() error message = %v, want to contain %v", err.Error(), tt.errMsg)
			}
		})
	}
}

func TestRedeemRequestValidator_ValidateIssueCodesRequest(t *testing.T) {
	validator := NewRedeemRequestValidator()

	tests := []struct {
		name    string
		count   int
		points  int
		wantErr bool
	}{
		{name: "valid batch", count: 10, points: 100, wantErr: false},
		{name: "zero count", count: 0, points: 100, wantErr: true},
		{name: "batch too large", count: MaxCodesPerBatch + 1, points: 100, wantErr: true},
		{name: "zero points", count: 1, points: 0, wantErr: true},
		{name: "negative points", count: 1, points: -5, wantErr: true},
		{name: "points too large", count: 1, points: MaxPointsPerCode + 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.ValidateIssueCodesRequest(tt.count, tt.points)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateIssueCodesRequest() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
