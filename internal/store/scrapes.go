package store

import (
	"context"
	"errors"
	"time"

	"rag-chatbot-platform/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// ScrapeJobStore tracks crawl runs and their per-page outcome counts.
type ScrapeJobStore struct {
	jobs *mongo.Collection
}

func NewScrapeJobStore(db *mongo.Database) *ScrapeJobStore {
	return &ScrapeJobStore{jobs: db.Collection("scrape_jobs")}
}

func (s *ScrapeJobStore) Create(ctx context.Context, job *models.ScrapeJob) error {
	job.ID = primitive.NewObjectID()
	job.CreatedAt = time.Now()
	_, err := s.jobs.InsertOne(ctx, job)
	return err
}

// Complete writes the crawl statistics once the run finishes, keyed by
// the document the scrape produced.
func (s *ScrapeJobStore) Complete(ctx context.Context, docID primitive.ObjectID, found, crawled, failed int, lastErr string) error {
	now := time.Now()
	res, err := s.jobs.UpdateOne(ctx,
		bson.M{"document_id": docID.Hex()},
		bson.M{"$set": bson.M{
			"pages_found":   found,
			"pages_crawled": crawled,
			"pages_failed":  failed,
			"last_error":    lastErr,
			"completed_at":  now,
		}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ForDocument returns the scrape job behind a scraped document.
func (s *ScrapeJobStore) ForDocument(ctx context.Context, tenantID string, docID primitive.ObjectID) (*models.ScrapeJob, error) {
	var job models.ScrapeJob
	err := s.jobs.FindOne(ctx, bson.M{"tenant_id": tenantID, "document_id": docID.Hex()}).Decode(&job)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}
