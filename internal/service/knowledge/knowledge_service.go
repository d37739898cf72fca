package knowledge

import (
	"context"
	"fmt"
	"loyalty-app/internal/logger"
	"loyalty-app/internal/repository/db"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/sirupsen/logrus"
)

const defaultCacheTTL = 5 * time.Minute

// Kind tells FAQ results apart from product results
type Kind string

const (
	KindFAQ     Kind = "faq"
	KindProduct Kind = "product"
)

// Result is one document matched by a search
type Result struct {
	Kind  Kind
	Title string
	Body  string
	Score int
}

// KnowledgeService searches FAQs and products by keyword.
// Documents are cached in memory and reloaded from the store after the TTL.
type KnowledgeService struct {
	store      db.KnowledgeStore
	maxResults int
	ttl        time.Duration
	now        func() time.Time

	mu       sync.Mutex
	faqs     []db.FAQ
	products []db.Product
	loadedAt time.Time
}

// NewKnowledgeService creates a new KnowledgeService
func NewKnowledgeService(store db.KnowledgeStore, maxResults int) *KnowledgeService {
	if maxResults <= 0 {
		maxResults = 3
	}
	return &KnowledgeService{
		store:      store,
		maxResults: maxResults,
		ttl:        defaultCacheTTL,
		now:        time.Now,
	}
}

// Refresh reloads the documents from the store
func (s *KnowledgeService) Refresh(ctx context.Context) error {
	faqs, err := s.store.ListFAQs(ctx)
	if err != nil {
		return fmt.Errorf("error loading faqs: %w", err)
	}
	products, err := s.store.ListProducts(ctx)
	if err != nil {
		return fmt.Errorf("error loading products: %w", err)
	}

	s.mu.Lock()
	s.faqs = faqs
	s.products = products
	s.loadedAt = s.now()
	s.mu.Unlock()

	logger.Log.WithFields(logrus.Fields{
		"faqs":     len(faqs),
		"products": len(products),
	}).Debug("Loaded knowledge documents")
	return nil
}

func (s *KnowledgeService) snapshot(ctx context.Context) ([]db.FAQ, []db.Product, error) {
	s.mu.Lock()
	stale := s.loadedAt.IsZero() || s.now().Sub(s.loadedAt) > s.ttl
	s.mu.Unlock()

	if stale {
		if err := s.Refresh(ctx); err != nil {
			s.mu.Lock()
			loaded := !s.loadedAt.IsZero()
			s.mu.Unlock()
			if !loaded {
				return nil, nil, err
			}
			logger.Log.WithError(err).Warn("Knowledge refresh failed, serving cached documents")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.faqs, s.products, nil
}

// Search returns up to maxResults documents ordered by score, best first.
// Documents with no keyword hit are never returned.
func (s *KnowledgeService) Search(ctx context.Context, query string) ([]Result, error) {
	q := normalize(query)
	if q == "" {
		return nil, nil
	}
	words := tokenize(q)

	faqs, products, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	var results []Result
	for _, f := range faqs {
		if score := scoreDocument(q, words, f.Keywords, f.Question); score > 0 {
			results = append(results, Result{Kind: KindFAQ, Title: f.Question, Body: f.Answer, Score: score})
		}
	}
	for _, p := range products {
		if score := scoreDocument(q, words, p.Keywords, p.Name); score > 0 {
			body := p.Description
			if p.PointsCost > 0 {
				body = fmt.Sprintf("%s (%d points)", p.Description, p.PointsCost)
			}
			results = append(results, Result{Kind: KindProduct, Title: p.Name, Body: body, Score: score})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > s.maxResults {
		results = results[:s.maxResults]
	}
	return results, nil
}

// BuildContext renders results as reference text for the system prompt
func BuildContext(results []Result) string {
	if len(results) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Reference information:\n")
	for _, r := range results {
		switch r.Kind {
		case KindFAQ:
			fmt.Fprintf(&sb, "- Q: %s\n  A: %s\n", r.Title, r.Body)
		case KindProduct:
			fmt.Fprintf(&sb, "- Product: %s: %s\n", r.Title, r.Body)
		}
	}
	return sb.String()
}

// scoreDocument weighs a keyword found in the query at 3 and each shared title word at 1.
// Substring matching keeps unsegmented scripts such as Thai searchable.
func scoreDocument(query string, words []string, keywords []string, title string) int {
	score := 0
	for _, k := range keywords {
		k = normalize(k)
		if k != "" && strings.Contains(query, k) {
			score += 3
		}
	}

	titleWords := tokenize(normalize(title))
	for _, w := range words {
		for _, tw := range titleWords {
			if w == tw && len([]rune(w)) > 2 {
				score++
				break
			}
		}
	}
	return score
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
