package mongo

import (
	"context"
	"loyalty-app/internal/logger"
	"loyalty-app/internal/repository/db"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func newID() string {
	return uuid.New().String()
}

// ListFAQs returns every FAQ
func (m *MongoDB) ListFAQs(ctx context.Context) ([]db.FAQ, error) {
	cursor, err := m.faqs.Find(ctx, bson.M{})
	if err != nil {
		return nil, errors.Wrap(err, "error querying faqs")
	}
	defer cursor.Close(ctx)

	faqs := []db.FAQ{}
	if err := cursor.All(ctx, &faqs); err != nil {
		return nil, errors.Wrap(err, "error decoding faqs")
	}
	return faqs, nil
}

// ListProducts returns every product
func (m *MongoDB) ListProducts(ctx context.Context) ([]db.Product, error) {
	cursor, err := m.products.Find(ctx, bson.M{})
	if err != nil {
		return nil, errors.Wrap(err, "error querying products")
	}
	defer cursor.Close(ctx)

	products := []db.Product{}
	if err := cursor.All(ctx, &products); err != nil {
		return nil, errors.Wrap(err, "error decoding products")
	}
	return products, nil
}

// UpsertFAQs inserts or updates FAQs keyed by question
func (m *MongoDB) UpsertFAQs(ctx context.Context, faqs []db.FAQ) error {
	for _, f := range faqs {
		id := f.ID
		if id == "" {
			id = newID()
		}
		_, err := m.faqs.UpdateOne(ctx,
			bson.M{"question": f.Question},
			bson.M{
				"$set": bson.M{
					"answer":   f.Answer,
					"keywords": f.Keywords,
					"category": f.Category,
				},
				"$setOnInsert": bson.M{"_id": id},
			},
			options.Update().SetUpsert(true),
		)
		if err != nil {
			return errors.Wrapf(err, "error upserting faq %q", f.Question)
		}
	}
	logger.Log.WithField("count", len(faqs)).Info("Upserted FAQs")
	return nil
}

// UpsertProducts inserts or updates products keyed by name
func (m *MongoDB) UpsertProducts(ctx context.Context, products []db.Product) error {
	for _, p := range products {
		id := p.ID
		if id == "" {
			id = newID()
		}
		_, err := m.products.UpdateOne(ctx,
			bson.M{"name": p.Name},
			bson.M{
				"$set": bson.M{
					"description": p.Description,
					"keywords":    p.Keywords,
					"pointsCost":  p.PointsCost,
				},
				"$setOnInsert": bson.M{"_id": id},
			},
			options.Update().SetUpsert(true),
		)
		if err != nil {
			return errors.Wrapf(err, "error upserting product %q", p.Name)
		}
	}
	logger.Log.WithField("count", len(products)).Info("Upserted products")
	return nil
}
