package knowledge

import (
	"context"
	"errors"
	"loyalty-app/internal/repository/db"
	"loyalty-app/internal/testutil"
	"strings"
	"testing"
	"time"
)

func newTestStore() *testutil.MockDatabase {
	return &testutil.MockDatabase{
		ListFAQsFunc: func(ctx context.Context) ([]db.FAQ, error) {
			return []db.FAQ{
				{ID: "1", Question: "How do I redeem a code?", Answer: "Open Rewards and enter the code.", Keywords: []string{"redeem", "code", "แลกแต้ม"}},
				{ID: "2", Question: "When do points expire?", Answer: "Points expire after 12 months.", Keywords: []string{"expire", "หมดอายุ"}},
			}, nil
		},
		ListProductsFunc: func(ctx context.Context) ([]db.Product, error) {
			return []db.Product{
				{ID: "p1", Name: "Coffee Tumbler", Description: "Stainless tumbler", Keywords: []string{"tumbler", "แก้ว"}, PointsCost: 500},
			}, nil
		},
	}
}

func TestKnowledgeService_Search(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		wantFirst string
		wantCount int
	}{
		{name: "keyword match", query: "How can I redeem my code?", wantFirst: "How do I redeem a code?", wantCount: 1},
		{name: "thai without spaces", query: "แต้มของฉันหมดอายุเมื่อไหร่", wantFirst: "When do points expire?", wantCount: 1},
		{name: "product", query: "I want a tumbler", wantFirst: "Coffee Tumbler", wantCount: 1},
		{name: "no match", query: "what is the weather", wantCount: 0},
		{name: "empty query", query: "   ", wantCount: 0},
	}

	svc := NewKnowledgeService(newTestStore(), 3)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := svc.Search(context.Background(), tt.query)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(results) != tt.wantCount {
				t.Fatalf("expected %d results, got %d: %+v", tt.wantCount, len(results), results)
			}
			if tt.wantCount > 0 && results[0].Title != tt.wantFirst {
				t.Errorf("expected first result %q, got %q", tt.wantFirst, results[0].Title)
			}
		})
	}
}

func TestKnowledgeService_SearchRanksByScore(t *testing.T) {
	svc := NewKnowledgeService(newTestStore(), 3)

	// "redeem" and "code" both hit the first FAQ, "tumbler" hits the product once
	results, err := svc.Search(context.Background(), "redeem code for a tumbler")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Kind != KindFAQ || results[1].Kind != KindProduct {
		t.Errorf("unexpected order: %+v", results)
	}
	if results[0].Score <= results[1].Score {
		t.Errorf("expected descending scores, got %d then %d", results[0].Score, results[1].Score)
	}
}

func TestKnowledgeService_MaxResults(t *testing.T) {
	svc := NewKnowledgeService(newTestStore(), 1)

	results, err := svc.Search(context.Background(), "redeem code tumbler expire")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("expected 1 result, got %d", len(results))
	}
}

func TestKnowledgeService_CachesUntilTTL(t *testing.T) {
	calls := 0
	store := newTestStore()
	list := store.ListFAQsFunc
	store.ListFAQsFunc = func(ctx context.Context) ([]db.FAQ, error) {
		calls++
		return list(ctx)
	}

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	svc := NewKnowledgeService(store, 3)
	svc.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if _, err := svc.Search(context.Background(), "redeem"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if calls != 1 {
		t.Errorf("expected 1 load, got %d", calls)
	}

	now = now.Add(defaultCacheTTL + time.Second)
	if _, err := svc.Search(context.Background(), "redeem"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected reload after ttl, got %d loads", calls)
	}
}

func TestKnowledgeService_ServesStaleOnRefreshError(t *testing.T) {
	store := newTestStore()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	svc := NewKnowledgeService(store, 3)
	svc.now = func() time.Time { return now }

	if _, err := svc.Search(context.Background(), "redeem"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	store.ListFAQsFunc = func(ctx context.Context) ([]db.FAQ, error) {
		return nil, errors.New("connection reset")
	}
	now = now.Add(defaultCacheTTL + time.Second)

	results, err := svc.Search(context.Background(), "redeem")
	if err != nil {
		t.Fatalf("expected cached results, got error: %v", err)
	}
	if len(results) == 0 {
		t.Error("expected cached results")
	}
}

func TestKnowledgeService_FirstLoadError(t *testing.T) {
	store := &testutil.MockDatabase{
		ListFAQsFunc: func(ctx context.Context) ([]db.FAQ, error) {
			return nil, errors.New("down")
		},
	}
	svc := NewKnowledgeService(store, 3)

	if _, err := svc.Search(context.Background(), "redeem"); err == nil {
		t.Error("expected error")
	}
}

func TestBuildContext(t *testing.T) {
	if got := BuildContext(nil); got != "" {
		t.Errorf("expected empty context, got %q", got)
	}

	got := BuildContext([]Result{
		{Kind: KindFAQ, Title: "How do I redeem?", Body: "Enter the code."},
		{Kind: KindProduct, Title: "Tumbler", Body: "Steel (500 points)"},
	})
	for _, want := range []string{"Reference information:", "Q: How do I redeem?", "A: Enter the code.", "Product: Tumbler"} {
		if !strings.Contains(got, want) {
			t.Errorf("expected context to contain %q, got %q", want, got)
		}
	}
}
