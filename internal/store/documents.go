package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rag-chatbot-platform/internal/logger"
	"rag-chatbot-platform/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	// ErrNotFound is returned when a document does not exist or is not
	// visible to the requesting tenant.
	ErrNotFound = errors.New("not found")

	// ErrTerminalStatus is returned for transitions out of ready or
	// failed, which are terminal.
	ErrTerminalStatus = errors.New("document is in a terminal status")

	// ErrInvalidTransition is returned for any other disallowed status
	// move, e.g. processing a document that is not pending.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// DocumentStore owns the document lifecycle and its chunks. Status
// moves are guarded by conditional updates so concurrent workers can
// never double-process or resurrect a terminal document.
type DocumentStore struct {
	documents *mongo.Collection
	chunks    *mongo.Collection
	slots     *mongo.Collection
}

func NewDocumentStore(db *mongo.Database) *DocumentStore {
	return &DocumentStore{
		documents: db.Collection("documents"),
		chunks:    db.Collection("chunks"),
		slots:     db.Collection("document_slots"),
	}
}

// Create registers a new document in pending status.
func (s *DocumentStore) Create(ctx context.Context, doc *models.Document) error {
	now := time.Now()
	doc.ID = primitive.NewObjectID()
	doc.Status = models.StatusPending
	doc.ChunkCount = 0
	doc.UploadedAt = now
	doc.UpdatedAt = now

	_, err := s.documents.InsertOne(ctx, doc)
	return err
}

// SetStoragePath records where the raw upload was written.
func (s *DocumentStore) SetStoragePath(ctx context.Context, docID primitive.ObjectID, path string) error {
	res, err := s.documents.UpdateOne(ctx,
		bson.M{"_id": docID},
		bson.M{"$set": bson.M{"storage_path": path, "updated_at": time.Now()}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkProcessing moves pending -> processing. Only one caller can win
// the transition; everyone else gets ErrInvalidTransition.
func (s *DocumentStore) MarkProcessing(ctx context.Context, docID primitive.ObjectID) error {
	res, err := s.documents.UpdateOne(ctx,
		bson.M{"_id": docID, "status": models.StatusPending},
		bson.M{"$set": bson.M{
			"status":     models.StatusProcessing,
			"updated_at": time.Now(),
		}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return s.transitionError(ctx, docID)
	}
	return nil
}

// CommitReady persists the chunk set and flips the document to ready in
// a single document update. Chunks are inserted first; because the
// status lives on one document, a reader can never observe ready with a
// partial chunk set.
func (s *DocumentStore) CommitReady(ctx context.Context, docID primitive.ObjectID, chunks []models.Chunk) error {
	if len(chunks) > 0 {
		docs := make([]interface{}, len(chunks))
		for i := range chunks {
			chunks[i].ID = primitive.NewObjectID()
			chunks[i].DocumentID = docID
			chunks[i].CreatedAt = time.Now()
			docs[i] = chunks[i]
		}
		if _, err := s.chunks.InsertMany(ctx, docs); err != nil {
			return fmt.Errorf("insert chunks: %w", err)
		}
	}

	now := time.Now()
	res, err := s.documents.UpdateOne(ctx,
		bson.M{"_id": docID, "status": models.StatusProcessing},
		bson.M{"$set": bson.M{
			"status":       models.StatusReady,
			"chunk_count":  len(chunks),
			"processed_at": now,
			"updated_at":   now,
			"error_reason": "",
		}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		// The ready flip lost; the orphaned chunks must not be served
		s.chunks.DeleteMany(ctx, bson.M{"document_id": docID}) //nolint:errcheck
		return s.transitionError(ctx, docID)
	}
	return nil
}

// MarkFailed moves a non-terminal document to failed with a reason.
func (s *DocumentStore) MarkFailed(ctx context.Context, docID primitive.ObjectID, reason string) error {
	res, err := s.documents.UpdateOne(ctx,
		bson.M{"_id": docID, "status": bson.M{"$in": bson.A{models.StatusPending, models.StatusProcessing}}},
		bson.M{"$set": bson.M{
			"status":       models.StatusFailed,
			"error_reason": reason,
			"updated_at":   time.Now(),
		}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return s.transitionError(ctx, docID)
	}
	return nil
}

func (s *DocumentStore) transitionError(ctx context.Context, docID primitive.ObjectID) error {
	var doc models.Document
	err := s.documents.FindOne(ctx, bson.M{"_id": docID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if doc.Status == models.StatusReady || doc.Status == models.StatusFailed {
		return ErrTerminalStatus
	}
	return ErrInvalidTransition
}

// Get returns a tenant's document by id.
func (s *DocumentStore) Get(ctx context.Context, tenantID string, docID primitive.ObjectID) (*models.Document, error) {
	var doc models.Document
	err := s.documents.FindOne(ctx, bson.M{"_id": docID, "tenant_id": tenantID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// List returns a tenant's documents, newest first, excluding those
// already marked for deletion.
func (s *DocumentStore) List(ctx context.Context, tenantID string) ([]models.Document, error) {
	cursor, err := s.documents.Find(ctx,
		bson.M{"tenant_id": tenantID, "delete_marked": bson.M{"$ne": true}},
		options.Find().SetSort(bson.D{{Key: "uploaded_at", Value: -1}}),
	)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []models.Document
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// ReserveSlot claims one stored-document slot against the plan cap.
// The claim is a single conditional increment, so two requests racing
// at the last slot cannot both pass. The slot follows the document:
// MarkDeleted releases it, and callers release it directly only when
// the document was never created.
func (s *DocumentStore) ReserveSlot(ctx context.Context, tenantID string, limit int) error {
	if limit == models.Unlimited {
		return nil
	}

	// Make sure the counter document exists before the conditional
	// increment; $setOnInsert keeps it race-safe.
	_, err := s.slots.UpdateOne(ctx,
		bson.M{"_id": tenantID},
		bson.M{"$setOnInsert": bson.M{"active": 0}},
		options.Update().SetUpsert(true),
	)
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return err
	}

	res, err := s.slots.UpdateOne(ctx,
		bson.M{"_id": tenantID, "active": bson.M{"$lte": limit - 1}},
		bson.M{"$inc": bson.M{"active": 1}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrQuotaExceeded
	}
	return nil
}

// ReleaseSlot returns one stored-document slot. The guard keeps the
// counter at zero for tenants that never reserved (unlimited plans), so
// a stray release is a no-op.
func (s *DocumentStore) ReleaseSlot(ctx context.Context, tenantID string) error {
	_, err := s.slots.UpdateOne(ctx,
		bson.M{"_id": tenantID, "active": bson.M{"$gt": 0}},
		bson.M{"$inc": bson.M{"active": -1}},
	)
	return err
}

// CountActive counts a tenant's live documents for usage reporting;
// only delete-marked documents are excluded, so failed uploads still
// count until they are deleted. The cap itself is enforced by
// ReserveSlot, not by this count.
func (s *DocumentStore) CountActive(ctx context.Context, tenantID string) (int64, error) {
	return s.documents.CountDocuments(ctx, bson.M{
		"tenant_id":     tenantID,
		"delete_marked": bson.M{"$ne": true},
	})
}

// MarkDeleted flags a document for removal. The flag takes effect for
// retrieval immediately; the sweeper purges the data later.
func (s *DocumentStore) MarkDeleted(ctx context.Context, tenantID string, docID primitive.ObjectID) error {
	res, err := s.documents.UpdateOne(ctx,
		bson.M{"_id": docID, "tenant_id": tenantID},
		bson.M{"$set": bson.M{"delete_marked": true, "updated_at": time.Now()}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	if res.ModifiedCount > 0 {
		// First delete of this document frees its plan slot; repeated
		// deletes modify nothing and release nothing.
		if err := s.ReleaseSlot(ctx, tenantID); err != nil {
			logger.Error("Failed to release document slot",
				"tenant_id", tenantID, "document_id", docID.Hex(), "error", err)
		}
	}
	return nil
}

// PurgeMarked removes delete-marked documents and their chunks. Chunks
// go first so a crash between the two deletes leaves no orphan chunks
// behind a live document.
func (s *DocumentStore) PurgeMarked(ctx context.Context) (int, error) {
	cursor, err := s.documents.Find(ctx, bson.M{"delete_marked": true},
		options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return 0, err
	}
	defer cursor.Close(ctx)

	purged := 0
	for cursor.Next(ctx) {
		var doc struct {
			ID primitive.ObjectID `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return purged, err
		}
		if _, err := s.chunks.DeleteMany(ctx, bson.M{"document_id": doc.ID}); err != nil {
			return purged, err
		}
		if _, err := s.documents.DeleteOne(ctx, bson.M{"_id": doc.ID}); err != nil {
			return purged, err
		}
		purged++
	}
	return purged, cursor.Err()
}

// FailStuckProcessing fails documents that entered processing before
// the deadline and never finished, usually because a worker died.
func (s *DocumentStore) FailStuckProcessing(ctx context.Context, deadline time.Duration) (int64, error) {
	cutoff := time.Now().Add(-deadline)
	res, err := s.documents.UpdateMany(ctx,
		bson.M{"status": models.StatusProcessing, "updated_at": bson.M{"$lt": cutoff}},
		bson.M{"$set": bson.M{
			"status":       models.StatusFailed,
			"error_reason": "processing deadline exceeded",
			"updated_at":   time.Now(),
		}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// ReadyChunks loads the retrieval candidate set: chunks belonging to
// the tenant's ready, not delete-marked documents. A non-empty allowed
// list narrows the scope to those document ids; stale ids that no
// longer resolve are silently skipped.
func (s *DocumentStore) ReadyChunks(ctx context.Context, tenantID string, allowedDocIDs []string) ([]models.Chunk, error) {
	docFilter := bson.M{
		"tenant_id":     tenantID,
		"status":        models.StatusReady,
		"delete_marked": bson.M{"$ne": true},
	}
	if len(allowedDocIDs) > 0 {
		ids := make([]primitive.ObjectID, 0, len(allowedDocIDs))
		for _, raw := range allowedDocIDs {
			id, err := primitive.ObjectIDFromHex(raw)
			if err != nil {
				continue
			}
			ids = append(ids, id)
		}
		if len(ids) == 0 {
			return nil, nil
		}
		docFilter["_id"] = bson.M{"$in": ids}
	}

	cursor, err := s.documents.Find(ctx, docFilter, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, err
	}
	var docIDs []primitive.ObjectID
	for cursor.Next(ctx) {
		var doc struct {
			ID primitive.ObjectID `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			cursor.Close(ctx)
			return nil, err
		}
		docIDs = append(docIDs, doc.ID)
	}
	cursor.Close(ctx)
	if len(docIDs) == 0 {
		return nil, nil
	}

	chunkCursor, err := s.chunks.Find(ctx, bson.M{
		"tenant_id":   tenantID,
		"document_id": bson.M{"$in": docIDs},
	})
	if err != nil {
		return nil, err
	}
	defer chunkCursor.Close(ctx)

	var chunks []models.Chunk
	if err := chunkCursor.All(ctx, &chunks); err != nil {
		return nil, err
	}
	return chunks, nil
}
