package store

import (
	"context"
	"errors"

	"rag-chatbot-platform/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// WidgetStore reads widget configuration. Widgets are written by the
// management portal; this service only consumes them.
type WidgetStore struct {
	widgets *mongo.Collection
}

func NewWidgetStore(db *mongo.Database) *WidgetStore {
	return &WidgetStore{widgets: db.Collection("widgets")}
}

// Get loads a tenant's widget. A widget id the token names but the
// store no longer has yields ErrNotFound.
func (s *WidgetStore) Get(ctx context.Context, tenantID, widgetID string) (*models.Widget, error) {
	var widget models.Widget
	err := s.widgets.FindOne(ctx, bson.M{"_id": widgetID, "tenant_id": tenantID}).Decode(&widget)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &widget, nil
}
