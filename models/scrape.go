package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ScrapeJob tracks one sitemap/URL ingestion run. Per-page failures are
// recorded on the job and do not abort the whole scrape.
type ScrapeJob struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	TenantID        string             `bson:"tenant_id" json:"tenant_id"`
	DocumentID      string             `bson:"document_id" json:"document_id"`
	URL             string             `bson:"url" json:"url"`
	MaxPages        int                `bson:"max_pages" json:"max_pages"`
	IncludePatterns []string           `bson:"include_patterns,omitempty" json:"include_patterns,omitempty"`
	ExcludePatterns []string           `bson:"exclude_patterns,omitempty" json:"exclude_patterns,omitempty"`
	RenderJS        bool               `bson:"render_js,omitempty" json:"render_js,omitempty"`
	PagesFound      int                `bson:"pages_found" json:"pages_found"`
	PagesCrawled    int                `bson:"pages_crawled" json:"pages_crawled"`
	PagesFailed     int                `bson:"pages_failed" json:"pages_failed"`
	LastError       string             `bson:"last_error,omitempty" json:"last_error,omitempty"`
	CreatedAt       time.Time          `bson:"created_at" json:"created_at"`
	CompletedAt     *time.Time         `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
}

// ScrapeRequest is the scrape ingest endpoint body.
type ScrapeRequest struct {
	URL             string   `json:"url" binding:"required,url"`
	MaxPages        int      `json:"max_pages,omitempty"`
	IncludePatterns []string `json:"include_patterns,omitempty"`
	ExcludePatterns []string `json:"exclude_patterns,omitempty"`
	RenderJS        bool     `json:"render_js,omitempty"`
}
