package db

import (
	"context"
	"errors"
)

var (
	ErrCodeNotFound    = errors.New("redeem code not found")
	ErrCodeAlreadyUsed = errors.New("redeem code already used")
	ErrCodeExists      = errors.New("redeem code already exists")
	ErrUserNotFound    = errors.New("user not found")
)

// RedeemResult is the outcome of a successful redemption
type RedeemResult struct {
	Code        RedeemCode
	PointsAdded int
	TotalPoints int
}

// RewardsStore persists codes, balances and point history
type RewardsStore interface {
	// RedeemCode atomically claims code for userID and credits its points.
	// It returns ErrCodeNotFound or ErrCodeAlreadyUsed without crediting anything.
	RedeemCode(ctx context.Context, code, userID, displayName string) (*RedeemResult, error)
	GetUser(ctx context.Context, userID string) (*User, error)
	GetPointHistory(ctx context.Context, userID string, limit int) ([]PointHistory, error)
	// CreateCodes inserts new unused codes. Existing codes are reported as ErrCodeExists.
	CreateCodes(ctx context.Context, codes []RedeemCode) error
}

// KnowledgeStore holds the documents searched by the chat assistant
type KnowledgeStore interface {
	ListFAQs(ctx context.Context) ([]FAQ, error)
	ListProducts(ctx context.Context) ([]Product, error)
	UpsertFAQs(ctx context.Context, faqs []FAQ) error
	UpsertProducts(ctx context.Context, products []Product) error
}

// Database is the full persistence surface used by the server
type Database interface {
	RewardsStore
	KnowledgeStore
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
