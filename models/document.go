package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Document lifecycle status constants. A document is visible to the
// retriever only while StatusReady.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusReady      = "ready"
	StatusFailed     = "failed"
)

// Document source types
const (
	SourceUpload = "upload"
	SourceScrape = "scrape"
)

// Document represents an ingested knowledge source owned by one tenant.
type Document struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	TenantID    string             `bson:"tenant_id" json:"tenant_id"`
	WidgetID    string             `bson:"widget_id,omitempty" json:"widget_id,omitempty"`
	SourceType  string             `bson:"source_type" json:"source_type"` // upload | scrape
	Filename    string             `bson:"filename,omitempty" json:"filename,omitempty"`
	URL         string             `bson:"url,omitempty" json:"url,omitempty"`
	ContentType string             `bson:"content_type,omitempty" json:"content_type,omitempty"`
	StoragePath string             `bson:"storage_path,omitempty" json:"storage_path,omitempty"`
	Status      string             `bson:"status" json:"status"`
	ChunkCount  int                `bson:"chunk_count" json:"chunk_count"`
	ErrorReason string             `bson:"error_reason,omitempty" json:"error_reason,omitempty"`

	// DeleteMarked is set when deletion is requested while an ingestion
	// cycle is still in flight; the sweeper purges the document once the
	// cycle finishes.
	DeleteMarked bool `bson:"delete_marked,omitempty" json:"-"`

	UploadedAt  time.Time  `bson:"uploaded_at" json:"uploaded_at"`
	ProcessedAt *time.Time `bson:"processed_at,omitempty" json:"processed_at,omitempty"`
	UpdatedAt   time.Time  `bson:"updated_at" json:"updated_at"`
}

// Chunk is one bounded fragment of a document's text paired with its
// embedding vector. TenantID is denormalized so scoped queries never
// have to join through the parent document.
type Chunk struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	TenantID   string             `bson:"tenant_id" json:"tenant_id"`
	DocumentID primitive.ObjectID `bson:"document_id" json:"document_id"`
	ChunkID    string             `bson:"chunk_id" json:"chunk_id"`
	Ordinal    int                `bson:"ordinal" json:"ordinal"`
	Page       int                `bson:"page,omitempty" json:"page,omitempty"`
	Text       string             `bson:"text" json:"text"`
	Compressed []byte             `bson:"compressed,omitempty" json:"-"`
	Vector     []float32          `bson:"vector" json:"-"`
	CreatedAt  time.Time          `bson:"created_at" json:"created_at"`
}

// DocumentStatusResponse is returned by the status query endpoint.
type DocumentStatusResponse struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	ChunkCount  int    `json:"chunk_count"`
	ErrorReason string `json:"error_reason,omitempty"`
}

// UploadResponse is returned immediately after an ingest request; the
// actual extraction and embedding happen asynchronously.
type UploadResponse struct {
	ID       string `json:"id"`
	Filename string `json:"filename,omitempty"`
	URL      string `json:"url,omitempty"`
	Status   string `json:"status"`
	Message  string `json:"message"`
}
