package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Billable usage kinds.
const (
	UsageMessage  = "message"
	UsageDocument = "document"
	UsageScrape   = "scrape"
)

// UsageRecord is one write-once row per billable action, aggregated by
// the analytics service.
type UsageRecord struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	TenantID      string             `bson:"tenant_id" json:"tenant_id"`
	WidgetID      string             `bson:"widget_id,omitempty" json:"widget_id,omitempty"`
	Kind          string             `bson:"kind" json:"kind"`
	BillingPeriod string             `bson:"billing_period" json:"billing_period"` // YYYY-MM
	Quantity      int                `bson:"quantity" json:"quantity"`
	InputTokens   int                `bson:"input_tokens,omitempty" json:"input_tokens,omitempty"`
	OutputTokens  int                `bson:"output_tokens,omitempty" json:"output_tokens,omitempty"`
	Language      string             `bson:"language,omitempty" json:"language,omitempty"`
	CreatedAt     time.Time          `bson:"created_at" json:"created_at"`
}

// PeriodUsage mirrors the per-period counter document the quota gate
// increments against.
type PeriodUsage struct {
	TenantID      string    `bson:"tenant_id" json:"tenant_id"`
	BillingPeriod string    `bson:"billing_period" json:"billing_period"`
	Messages      int       `bson:"messages" json:"messages"`
	Documents     int       `bson:"documents" json:"documents"`
	Scrapes       int       `bson:"scrapes" json:"scrapes"`
	UpdatedAt     time.Time `bson:"updated_at" json:"updated_at"`
}

// UsageSummary is the current-period view exposed to callers.
type UsageSummary struct {
	TenantID          string `json:"tenant_id"`
	BillingPeriod     string `json:"billing_period"`
	Messages          int    `json:"messages"`
	Documents         int    `json:"documents"`
	DocumentsActive   int    `json:"documents_active"`
	Scrapes           int    `json:"scrapes"`
	MessageLimit      int    `json:"message_limit"`
	DocumentLimit     int    `json:"document_limit"`
	ScrapeLimit       int    `json:"scrape_limit"`
	MessagesRemaining int    `json:"messages_remaining"`
	AtLimit           bool   `json:"at_limit"`
}

// BillingPeriod formats t as the YYYY-MM period key.
func BillingPeriod(t time.Time) string {
	return t.UTC().Format("2006-01")
}
