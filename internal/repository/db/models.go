package db

import "time"

// User is a LINE user enrolled in the loyalty program
type User struct {
	UserID      string    `bson:"userId" json:"userId"`
	DisplayName string    `bson:"displayName" json:"displayName"`
	Points      int       `bson:"points" json:"points"`
	CreatedAt   time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time `bson:"updatedAt" json:"updatedAt"`
}

// RedeemCode is a single-use code worth a fixed number of points
type RedeemCode struct {
	Code      string     `bson:"code" json:"code"`
	Points    int        `bson:"points" json:"points"`
	Used      bool       `bson:"used" json:"used"`
	UsedBy    *string    `bson:"usedBy,omitempty" json:"usedBy,omitempty"`
	UsedAt    *time.Time `bson:"usedAt,omitempty" json:"usedAt,omitempty"`
	CreatedAt time.Time  `bson:"createdAt" json:"createdAt"`
}

// PointHistory records one credit to a user's balance
type PointHistory struct {
	ID        string    `bson:"_id" json:"id"`
	UserID    string    `bson:"userId" json:"userId"`
	Code      string    `bson:"code" json:"code"`
	Points    int       `bson:"points" json:"points"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
}

// FAQ is a question/answer pair used to ground chat replies
type FAQ struct {
	ID       string   `bson:"_id" json:"id"`
	Question string   `bson:"question" json:"question"`
	Answer   string   `bson:"answer" json:"answer"`
	Keywords []string `bson:"keywords" json:"keywords"`
	Category string   `bson:"category" json:"category"`
}

// Product is a reward that can be bought with points
type Product struct {
	ID          string   `bson:"_id" json:"id"`
	Name        string   `bson:"name" json:"name"`
	Description string   `bson:"description" json:"description"`
	Keywords    []string `bson:"keywords" json:"keywords"`
	PointsCost  int      `bson:"pointsCost" json:"pointsCost"`
}
