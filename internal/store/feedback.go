package store

import (
	"context"
	"time"

	"rag-chatbot-platform/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// FeedbackStore records end-user polarity per assistant message.
type FeedbackStore struct {
	feedback *mongo.Collection
}

func NewFeedbackStore(db *mongo.Database) *FeedbackStore {
	return &FeedbackStore{feedback: db.Collection("feedback")}
}

// Upsert writes feedback keyed by message id; resubmitting replaces the
// earlier polarity.
func (s *FeedbackStore) Upsert(ctx context.Context, fb *models.Feedback) error {
	fb.Timestamp = time.Now()
	_, err := s.feedback.UpdateOne(ctx,
		bson.M{"message_id": fb.MessageID},
		bson.M{
			"$set": bson.M{
				"tenant_id":  fb.TenantID,
				"session_id": fb.SessionID,
				"polarity":   fb.Polarity,
				"timestamp":  fb.Timestamp,
			},
		},
		options.Update().SetUpsert(true),
	)
	return err
}

// ForSession lists feedback for one session, oldest first.
func (s *FeedbackStore) ForSession(ctx context.Context, tenantID, sessionID string) ([]models.Feedback, error) {
	cursor, err := s.feedback.Find(ctx,
		bson.M{"tenant_id": tenantID, "session_id": sessionID},
		options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var items []models.Feedback
	if err := cursor.All(ctx, &items); err != nil {
		return nil, err
	}
	return items, nil
}
