package store

import (
	"context"
	"time"

	"rag-chatbot-platform/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MessageStore is the append-only conversation log.
type MessageStore struct {
	messages *mongo.Collection
}

func NewMessageStore(db *mongo.Database) *MessageStore {
	return &MessageStore{messages: db.Collection("messages")}
}

// Append records one message. Messages are never updated or deleted.
func (s *MessageStore) Append(ctx context.Context, msg *models.Message) error {
	msg.ID = primitive.NewObjectID()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	_, err := s.messages.InsertOne(ctx, msg)
	return err
}

// ReadWindow returns the recent context window for a session: up to
// maxMessages newest messages whose cumulative content length stays
// within maxChars, selected newest-first and returned in chronological
// order. A message that would overflow the budget is dropped along
// with everything older than it.
func (s *MessageStore) ReadWindow(ctx context.Context, tenantID, sessionID string, maxMessages, maxChars int) ([]models.Message, error) {
	if maxMessages <= 0 {
		return nil, nil
	}

	cursor, err := s.messages.Find(ctx,
		bson.M{"tenant_id": tenantID, "session_id": sessionID},
		options.Find().
			SetSort(bson.D{{Key: "timestamp", Value: -1}}).
			SetLimit(int64(maxMessages)),
	)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var newest []models.Message
	if err := cursor.All(ctx, &newest); err != nil {
		return nil, err
	}

	budget := maxChars
	kept := 0
	for _, msg := range newest {
		if maxChars > 0 {
			budget -= len(msg.Content)
			if budget < 0 {
				break
			}
		}
		kept++
	}

	// Reverse the kept prefix back to chronological order
	window := make([]models.Message, kept)
	for i := 0; i < kept; i++ {
		window[i] = newest[kept-1-i]
	}
	return window, nil
}

// History returns the full session transcript in chronological order.
func (s *MessageStore) History(ctx context.Context, tenantID, sessionID string) ([]models.Message, error) {
	cursor, err := s.messages.Find(ctx,
		bson.M{"tenant_id": tenantID, "session_id": sessionID},
		options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var msgs []models.Message
	if err := cursor.All(ctx, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}
