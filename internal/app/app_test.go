package app

import (
	"context"
	"errors"
	"loyalty-app/internal/config"
	"loyalty-app/internal/repository/db"
	"loyalty-app/internal/testutil"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestNewWithDependencies(t *testing.T) {
	cfg := testutil.NewMockConfig()
	app := NewWithDependencies(cfg, &testutil.MockDatabase{}, &testutil.MockLLMProvider{})

	if app.Chat == nil || app.Redeem == nil || app.Knowledge == nil || app.Verifier == nil {
		t.Fatal("Expected all services to be built")
	}

	if app.Chat.Model() != "default-model" {
		t.Errorf("Expected model 'default-model', got '%s'", app.Chat.Model())
	}
}

func TestApp_RouterServesHealth(t *testing.T) {
	cfg := testutil.NewMockConfig()
	app := NewWithDependencies(cfg, &testutil.MockDatabase{}, &testutil.MockLLMProvider{})

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	app.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}

func TestApp_Seed(t *testing.T) {
	var faqs []db.FAQ
	var products []db.Product
	var codes []string

	store := &testutil.MockDatabase{
		UpsertFAQsFunc: func(ctx context.Context, f []db.FAQ) error {
			faqs = f
			return nil
		},
		UpsertProductsFunc: func(ctx context.Context, p []db.Product) error {
			products = p
			return nil
		},
		CreateCodesFunc: func(ctx context.Context, c []db.RedeemCode) error {
			if c[0].Code == "EXISTING1" {
				return db.ErrCodeExists
			}
			codes = append(codes, c[0].Code)
			return nil
		},
	}
	app := NewWithDependencies(testutil.NewMockConfig(), store, &testutil.MockLLMProvider{})

	err := app.Seed(context.Background(), &config.SeedData{
		FAQs:     []config.FAQSeed{{Question: "How do I earn points?", Answer: "Scan receipts.", Keywords: []string{"earn"}}},
		Products: []config.ProductSeed{{Name: "Tote bag", PointsCost: 300}},
		Codes:    []config.CodeSeed{{Code: " welcome10 ", Points: 10}, {Code: "EXISTING1", Points: 5}},
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(faqs) != 1 || faqs[0].Question != "How do I earn points?" {
		t.Errorf("Expected FAQ to be upserted, got %v", faqs)
	}
	if len(products) != 1 || products[0].PointsCost != 300 {
		t.Errorf("Expected product to be upserted, got %v", products)
	}
	if len(codes) != 1 || codes[0] != "WELCOME10" {
		t.Errorf("Expected normalized new code only, got %v", codes)
	}
}

func TestApp_SeedStoreFailure(t *testing.T) {
	store := &testutil.MockDatabase{
		CreateCodesFunc: func(ctx context.Context, c []db.RedeemCode) error {
			return errors.New("connection lost")
		},
	}
	app := NewWithDependencies(testutil.NewMockConfig(), store, &testutil.MockLLMProvider{})

	err := app.Seed(context.Background(), &config.SeedData{
		Codes: []config.CodeSeed{{Code: "ABCD2345", Points: 10}},
	})
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
}

func TestOpenDatabase_UnknownStore(t *testing.T) {
	cfg := testutil.NewMockConfig()
	cfg.Server.Store = "sqlite"

	if _, err := OpenDatabase(context.Background(), cfg); err == nil {
		t.Fatal("Expected error for unknown store, got nil")
	}
}
