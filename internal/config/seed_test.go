package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSeed(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write seed file: %v", err)
	}
	return path
}

func TestLoadSeedData_Valid(t *testing.T) {
	path := writeSeed(t, `{
		"faqs": [
			{"question": "How do I earn points?", "answer": "Scan the code on the receipt.", "keywords": ["earn", "points"], "category": "points"}
		],
		"products": [
			{"name": "Coffee voucher", "description": "One free coffee", "keywords": ["coffee"], "pointsCost": 100}
		],
		"codes": [
			{"code": "WELCOME-100", "points": 100},
			{"code": "BONUS-50", "points": 50}
		]
	}`)

	seed, err := LoadSeedData(path)
	if err != nil {
		t.Fatalf("LoadSeedData() error = %v, want nil", err)
	}

	if len(seed.FAQs) != 1 {
		t.Errorf("FAQs = %d, want 1", len(seed.FAQs))
	}
	if len(seed.Products) != 1 || seed.Products[0].PointsCost != 100 {
		t.Errorf("Products = %+v, want one product costing 100", seed.Products)
	}
	if len(seed.Codes) != 2 {
		t.Errorf("Codes = %d, want 2", len(seed.Codes))
	}
}

func TestLoadSeedData_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "invalid json", content: `{"faqs": [`},
		{name: "faq without answer", content: `{"faqs": [{"question": "Hours?"}]}`},
		{name: "product without name", content: `{"products": [{"description": "x"}]}`},
		{name: "code without points", content: `{"codes": [{"code": "ABCD"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seed, err := LoadSeedData(writeSeed(t, tt.content))
			if err == nil {
				t.Error("LoadSeedData() error = nil, want error")
			}
			if seed != nil {
				t.Error("LoadSeedData() returned non-nil seed on error")
			}
		})
	}
}

func TestLoadSeedData_FileNotFound(t *testing.T) {
	if _, err := LoadSeedData("/nonexistent/path/seed.json"); err == nil {
		t.Error("LoadSeedData() error = nil, want error for nonexistent file")
	}
}
