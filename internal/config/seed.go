package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// FAQSeed is one FAQ entry in the seed file
type FAQSeed struct {
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
	Keywords []string `json:"keywords"`
	Category string   `json:"category"`
}

// ProductSeed is one product in the seed file
type ProductSeed struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Keywords    []string `json:"keywords"`
	PointsCost  int      `json:"pointsCost"`
}

// CodeSeed is one redeem code in the seed file
type CodeSeed struct {
	Code   string `json:"code"`
	Points int    `json:"points"`
}

// SeedData holds the documents loaded by the seed command
type SeedData struct {
	FAQs     []FAQSeed     `json:"faqs"`
	Products []ProductSeed `json:"products"`
	Codes    []CodeSeed    `json:"codes"`
}

// LoadSeedData reads and validates a seed file
func LoadSeedData(path string) (*SeedData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var seed SeedData
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, err
	}

	for i, faq := range seed.FAQs {
		if strings.TrimSpace(faq.Question) == "" || strings.TrimSpace(faq.Answer) == "" {
			return nil, fmt.Errorf("faqs[%d]: question and answer are required", i)
		}
	}
	for i, p := range seed.Products {
		if strings.TrimSpace(p.Name) == "" {
			return nil, fmt.Errorf("products[%d]: name is required", i)
		}
	}
	for i, c := range seed.Codes {
		if strings.TrimSpace(c.Code) == "" || c.Points <= 0 {
			return nil, fmt.Errorf("codes[%d]: code and positive points are required", i)
		}
	}

	return &seed, nil
}
