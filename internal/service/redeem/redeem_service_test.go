package redeem

import (
	"context"
	"errors"
	"fmt"
	"loyalty-app/internal/repository/db"
	"loyalty-app/internal/testutil"
	"regexp"
	"sync"
	"testing"
)

// newCodeStore backs the mock with an in-memory compare-and-swap on the used flag
func newCodeStore(codes map[string]int) (*testutil.MockDatabase, map[string]int) {
	var mu sync.Mutex
	used := map[string]bool{}
	balances := map[string]int{}

	mock := &testutil.MockDatabase{
		RedeemCodeFunc: func(ctx context.Context, code, userID, displayName string) (*db.RedeemResult, error) {
			mu.Lock()
			defer mu.Unlock()
			points, ok := codes[code]
			if !ok {
				return nil, db.ErrCodeNotFound
			}
			if used[code] {
				return nil, db.ErrCodeAlreadyUsed
			}
			used[code] = true
			balances[userID] += points
			return &db.RedeemResult{Code: db.RedeemCode{Code: code, Points: points}, PointsAdded: points, TotalPoints: balances[userID]}, nil
		},
	}
	return mock, balances
}

func TestRedeem_Success(t *testing.T) {
	store, _ := newCodeStore(map[string]int{"WELCOME-100": 100})
	service := NewRedeemService(store)

	resp, err := service.Redeem(context.Background(), "  welcome-100 ", "U1", "Alice")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if resp.Code != "WELCOME-100" {
		t.Errorf("Expected normalized code, got '%s'", resp.Code)
	}
	if resp.PointsAdded != 100 || resp.TotalPoints != 100 {
		t.Errorf("Expected 100/100 points, got %d/%d", resp.PointsAdded, resp.TotalPoints)
	}
}

func TestRedeem_Errors(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		userID  string
		wantErr error
	}{
		{name: "unknown code", code: "NOPE-1234", userID: "U1", wantErr: db.ErrCodeNotFound},
		{name: "too short", code: "AB", userID: "U1", wantErr: ErrInvalidCode},
		{name: "bad characters", code: "CODE!@#", userID: "U1", wantErr: ErrInvalidCode},
		{name: "empty", code: "   ", userID: "U1", wantErr: ErrInvalidCode},
		{name: "missing user", code: "WELCOME-100", userID: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, _ := newCodeStore(map[string]int{"WELCOME-100": 100})
			service := NewRedeemService(store)

			_, err := service.Redeem(context.Background(), tt.code, tt.userID, "")
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestRedeem_SecondRedemptionCreditsNothing(t *testing.T) {
	store, balances := newCodeStore(map[string]int{"ONCE-500": 500})
	service := NewRedeemService(store)
	ctx := context.Background()

	if _, err := service.Redeem(ctx, "ONCE-500", "U1", ""); err != nil {
		t.Fatalf("Expected first redemption to succeed, got: %v", err)
	}

	_, err := service.Redeem(ctx, "ONCE-500", "U2", "")
	if !errors.Is(err, db.ErrCodeAlreadyUsed) {
		t.Fatalf("Expected ErrCodeAlreadyUsed, got %v", err)
	}
	if balances["U2"] != 0 {
		t.Errorf("Expected U2 to have no points, got %d", balances["U2"])
	}
	if balances["U1"] != 500 {
		t.Errorf("Expected U1 to keep 500 points, got %d", balances["U1"])
	}
}

func TestRedeem_ConcurrentRedemptionsCreditOnce(t *testing.T) {
	store, balances := newCodeStore(map[string]int{"RACE-100": 100})
	service := NewRedeemService(store)

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := service.Redeem(context.Background(), "RACE-100", fmt.Sprintf("U%d", i), ""); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if successes != 1 {
		t.Errorf("Expected exactly 1 successful redemption, got %d", successes)
	}
	total := 0
	for _, p := range balances {
		total += p
	}
	if total != 100 {
		t.Errorf("Expected 100 points credited in total, got %d", total)
	}
}

func TestGetPoints(t *testing.T) {
	t.Run("known user", func(t *testing.T) {
		var gotLimit int
		store := &testutil.MockDatabase{
			GetUserFunc: func(ctx context.Context, userID string) (*db.User, error) {
				return &db.User{UserID: userID, DisplayName: "Alice", Points: 250}, nil
			},
			GetPointHistoryFunc: func(ctx context.Context, userID string, limit int) ([]db.PointHistory, error) {
				gotLimit = limit
				return []db.PointHistory{{ID: "h1", UserID: userID, Code: "A-1234", Points: 250}}, nil
			},
		}
		service := NewRedeemService(store)

		resp, err := service.GetPoints(context.Background(), "U1", 0)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if resp.Points != 250 || resp.DisplayName != "Alice" || len(resp.History) != 1 {
			t.Errorf("Unexpected response: %+v", resp)
		}
		if gotLimit != defaultHistoryLen {
			t.Errorf("Expected default history limit %d, got %d", defaultHistoryLen, gotLimit)
		}
	})

	t.Run("unknown user has zero points", func(t *testing.T) {
		store := &testutil.MockDatabase{
			GetUserFunc: func(ctx context.Context, userID string) (*db.User, error) {
				return nil, db.ErrUserNotFound
			},
		}
		service := NewRedeemService(store)

		resp, err := service.GetPoints(context.Background(), "U9", 10)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if resp.Points != 0 || resp.History == nil {
			t.Errorf("Expected zero balance and empty history, got %+v", resp)
		}
	})

	t.Run("store failure", func(t *testing.T) {
		store := &testutil.MockDatabase{
			GetUserFunc: func(ctx context.Context, userID string) (*db.User, error) {
				return nil, errors.New("timeout")
			},
		}
		service := NewRedeemService(store)

		if _, err := service.GetPoints(context.Background(), "U1", 10); err == nil {
			t.Error("Expected error, got nil")
		}
	})
}

func TestIssueCodes(t *testing.T) {
	var stored []db.RedeemCode
	store := &testutil.MockDatabase{
		CreateCodesFunc: func(ctx context.Context, codes []db.RedeemCode) error {
			stored = codes
			return nil
		},
	}
	service := NewRedeemService(store)

	codes, err := service.IssueCodes(context.Background(), 5, 200)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(codes) != 5 || len(stored) != 5 {
		t.Fatalf("Expected 5 codes, got %d (stored %d)", len(codes), len(stored))
	}

	pattern := regexp.MustCompile(`^[A-Z2-9]{10}$`)
	seen := map[string]bool{}
	for _, c := range codes {
		if !pattern.MatchString(c.Code) {
			t.Errorf("Unexpected code format %q", c.Code)
		}
		if seen[c.Code] {
			t.Errorf("Duplicate code %q", c.Code)
		}
		seen[c.Code] = true
		if c.Points != 200 || c.Used {
			t.Errorf("Unexpected code %+v", c)
		}
	}
}

func TestIssueCodes_RetriesOnCollision(t *testing.T) {
	calls := 0
	store := &testutil.MockDatabase{
		CreateCodesFunc: func(ctx context.Context, codes []db.RedeemCode) error {
			calls++
			if calls == 1 {
				return db.ErrCodeExists
			}
			return nil
		},
	}
	service := NewRedeemService(store)

	if _, err := service.IssueCodes(context.Background(), 2, 10); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if calls != 2 {
		t.Errorf("Expected 2 store calls, got %d", calls)
	}
}

func TestIssueCodes_Invalid(t *testing.T) {
	service := NewRedeemService(&testutil.MockDatabase{})

	tests := []struct {
		name   string
		count  int
		points int
	}{
		{name: "zero count", count: 0, points: 10},
		{name: "too many", count: 501, points: 10},
		{name: "zero points", count: 1, points: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.IssueCodes(context.Background(), tt.count, tt.points)
			if !errors.Is(err, ErrInvalidCode) {
				t.Errorf("Expected ErrInvalidCode, got %v", err)
			}
		})
	}
}

func TestGenerateBatchSkipsDuplicates(t *testing.T) {
	service := NewRedeemService(&testutil.MockDatabase{})
	seq := []string{"AAAA2222", "AAAA2222", "BBBB3333"}
	i := 0
	service.newCode = func() (string, error) {
		c := seq[i]
		i++
		return c, nil
	}

	codes, err := service.generateBatch(2, 10)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if codes[0].Code != "AAAA2222" || codes[1].Code != "BBBB3333" {
		t.Errorf("Unexpected codes: %+v", codes)
	}
}
