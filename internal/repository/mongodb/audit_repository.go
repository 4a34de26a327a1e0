// Package mongodb keeps a document per completed transaction for auditors.
package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/baharkarakas/wallet-ledger/internal/models"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const collectionName = "transaction_audit"

type AuditRecord struct {
	ID          string    `bson:"_id"`
	UserID      string    `bson:"user_id"`
	Type        string    `bson:"type"`
	Amount      int64     `bson:"amount"`
	Status      string    `bson:"status"`
	Balance     int64     `bson:"balance"`
	CompletedAt time.Time `bson:"completed_at"`
	RecordedAt  time.Time `bson:"recorded_at"`
}

// Inserter is the subset of *mongo.Collection used here.
type Inserter interface {
	InsertOne(ctx context.Context, document any, opts ...options.Lister[options.InsertOneOptions]) (*mongo.InsertOneResult, error)
}

type AuditRepository struct {
	collection Inserter
	now        func() time.Time
}

func NewAuditRepository(client *mongo.Client, dbName string) *AuditRepository {
	return NewAuditRepositoryWith(client.Database(dbName).Collection(collectionName))
}

func NewAuditRepositoryWith(c Inserter) *AuditRepository {
	return &AuditRepository{collection: c, now: time.Now}
}

// Notify records evt. The transaction id is the document key, so a
// redelivered event is a no-op.
func (r *AuditRepository) Notify(ctx context.Context, evt models.TransactionCompleted) error {
	_, err := r.collection.InsertOne(ctx, AuditRecord{
		ID:          evt.TransactionID,
		UserID:      evt.UserID,
		Type:        string(evt.Type),
		Amount:      evt.Amount,
		Status:      string(evt.Status),
		Balance:     evt.Balance,
		CompletedAt: evt.CompletedAt,
		RecordedAt:  r.now(),
	})
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}
