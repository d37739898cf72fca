package postgres

import (
	"context"
	"fmt"
	"loyalty-app/internal/logger"
	"loyalty-app/internal/repository/db"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ListFAQs returns every FAQ
func (p *PostgresDB) ListFAQs(ctx context.Context) ([]db.FAQ, error) {
	rows, err := p.conn.QueryContext(ctx, `SELECT id, question, answer, keywords, category FROM faqs`)
	if err != nil {
		return nil, fmt.Errorf("error querying faqs: %w", err)
	}
	defer rows.Close()

	faqs := []db.FAQ{}
	for rows.Next() {
		var f db.FAQ
		if err := rows.Scan(&f.ID, &f.Question, &f.Answer, pq.Array(&f.Keywords), &f.Category); err != nil {
			return nil, fmt.Errorf("error scanning faq: %w", err)
		}
		faqs = append(faqs, f)
	}
	return faqs, rows.Err()
}

// ListProducts returns every product
func (p *PostgresDB) ListProducts(ctx context.Context) ([]db.Product, error) {
	rows, err := p.conn.QueryContext(ctx, `SELECT id, name, description, keywords, points_cost FROM products`)
	if err != nil {
		return nil, fmt.Errorf("error querying products: %w", err)
	}
	defer rows.Close()

	products := []db.Product{}
	for rows.Next() {
		var pr db.Product
		if err := rows.Scan(&pr.ID, &pr.Name, &pr.Description, pq.Array(&pr.Keywords), &pr.PointsCost); err != nil {
			return nil, fmt.Errorf("error scanning product: %w", err)
		}
		products = append(products, pr)
	}
	return products, rows.Err()
}

// UpsertFAQs inserts or updates FAQs keyed by question
func (p *PostgresDB) UpsertFAQs(ctx context.Context, faqs []db.FAQ) error {
	for _, f := range faqs {
		id := f.ID
		if id == "" {
			id = uuid.New().String()
		}
		_, err := p.conn.ExecContext(ctx, `
		INSERT INTO faqs (id, question, answer, keywords, category)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (question) DO UPDATE SET
			answer = EXCLUDED.answer,
			keywords = EXCLUDED.keywords,
			category = EXCLUDED.category
		`, id, f.Question, f.Answer, pq.Array(f.Keywords), f.Category)
		if err != nil {
			return fmt.Errorf("error upserting faq %q: %w", f.Question, err)
		}
	}
	logger.Log.WithField("count", len(faqs)).Info("Upserted FAQs")
	return nil
}

// UpsertProducts inserts or updates products keyed by name
func (p *PostgresDB) UpsertProducts(ctx context.Context, products []db.Product) error {
	for _, pr := range products {
		id := pr.ID
		if id == "" {
			id = uuid.New().String()
		}
		_, err := p.conn.ExecContext(ctx, `
		INSERT INTO products (id, name, description, keywords, points_cost)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO UPDATE SET
			description = EXCLUDED.description,
			keywords = EXCLUDED.keywords,
			points_cost = EXCLUDED.points_cost
		`, id, pr.Name, pr.Description, pq.Array(pr.Keywords), pr.PointsCost)
		if err != nil {
			return fmt.Errorf("error upserting product %q: %w", pr.Name, err)
		}
	}
	logger.Log.WithField("count", len(products)).Info("Upserted products")
	return nil
}
