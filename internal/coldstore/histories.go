package coldstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// HistoryRepo stores completed hand histories as Mongo documents, one per
// hand, keyed by handId for idempotent archival.
type HistoryRepo struct {
	coll *mongo.Collection
	log  *zap.Logger
}

func NewHistoryRepo(db *mongo.Database, log *zap.Logger) *HistoryRepo {
	return &HistoryRepo{coll: db.Collection("hand_histories"), log: log}
}

// EnsureIndexes creates the handId uniqueness and per-table lookup indexes.
func (r *HistoryRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "handId", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "tableId", Value: 1}, {Key: "archivedAt", Value: -1}},
		},
	})
	if err != nil {
		return fmt.Errorf("ensure history indexes: %w", err)
	}
	return nil
}

// Insert archives one hand. Replays of the same handId are absorbed via the
// unique index.
func (r *HistoryRepo) Insert(ctx context.Context, tableID, handID string, history json.RawMessage) error {
	var doc bson.M
	if err := json.Unmarshal(history, &doc); err != nil {
		return fmt.Errorf("decode history %s: %w", handID, err)
	}
	_, err := r.coll.InsertOne(ctx, bson.M{
		"tableId":    tableID,
		"handId":     handID,
		"history":    doc,
		"archivedAt": time.Now().UTC(),
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			r.log.Debug("hand already archived", zap.String("handId", handID))
			return nil
		}
		return fmt.Errorf("archive hand %s: %w", handID, err)
	}
	return nil
}

// ForTable returns the newest hand histories for a table.
func (r *HistoryRepo) ForTable(ctx context.Context, tableID string, limit int64) ([]bson.M, error) {
	if limit <= 0 {
		limit = 20
	}
	cur, err := r.coll.Find(ctx,
		bson.M{"tableId": tableID},
		options.Find().SetSort(bson.D{{Key: "archivedAt", Value: -1}}).SetLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("find histories for %s: %w", tableID, err)
	}
	defer cur.Close(ctx)

	var out []bson.M
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode histories for %s: %w", tableID, err)
	}
	return out, nil
}
