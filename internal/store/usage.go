package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rag-chatbot-platform/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrQuotaExceeded is returned when a tenant's plan limit for the
// current billing period is already used up.
var ErrQuotaExceeded = errors.New("quota exceeded")

// UsageStore maintains the per-period counters the quota gate enforces
// against, plus the write-once usage records behind them.
type UsageStore struct {
	periods *mongo.Collection
	records *mongo.Collection
}

func NewUsageStore(db *mongo.Database) *UsageStore {
	return &UsageStore{
		periods: db.Collection("period_usage"),
		records: db.Collection("usage_records"),
	}
}

func counterField(kind string) (string, error) {
	switch kind {
	case models.UsageMessage:
		return "messages", nil
	case models.UsageDocument:
		return "documents", nil
	case models.UsageScrape:
		return "scrapes", nil
	default:
		return "", fmt.Errorf("unknown usage kind %q", kind)
	}
}

// Check is the fast pre-flight read: it reports ErrQuotaExceeded when
// the counter has already reached the limit. It is advisory only; the
// authoritative gate is the conditional increment in Commit.
func (s *UsageStore) Check(ctx context.Context, tenantID, period, kind string, limit int) error {
	if limit == models.Unlimited {
		return nil
	}
	field, err := counterField(kind)
	if err != nil {
		return err
	}

	var usage models.PeriodUsage
	err = s.periods.FindOne(ctx, bson.M{"tenant_id": tenantID, "billing_period": period}).Decode(&usage)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil
	}
	if err != nil {
		return err
	}

	used := 0
	switch field {
	case "messages":
		used = usage.Messages
	case "documents":
		used = usage.Documents
	case "scrapes":
		used = usage.Scrapes
	}
	if used >= limit {
		return ErrQuotaExceeded
	}
	return nil
}

// Commit atomically consumes quota and appends the usage record. The
// counter increment is conditional on staying under the limit, so two
// racing requests at the boundary can never both pass; the loser gets
// ErrQuotaExceeded and must not deliver its result.
func (s *UsageStore) Commit(ctx context.Context, rec *models.UsageRecord, limit int) error {
	field, err := counterField(rec.Kind)
	if err != nil {
		return err
	}
	if rec.Quantity <= 0 {
		rec.Quantity = 1
	}
	if rec.BillingPeriod == "" {
		rec.BillingPeriod = models.BillingPeriod(time.Now())
	}

	// Make sure the period counter document exists before the
	// conditional increment; $setOnInsert keeps it race-safe.
	_, err = s.periods.UpdateOne(ctx,
		bson.M{"tenant_id": rec.TenantID, "billing_period": rec.BillingPeriod},
		bson.M{"$setOnInsert": bson.M{
			"messages":  0,
			"documents": 0,
			"scrapes":   0,
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return err
	}

	filter := bson.M{"tenant_id": rec.TenantID, "billing_period": rec.BillingPeriod}
	if limit != models.Unlimited {
		filter[field] = bson.M{"$lte": limit - rec.Quantity}
	}
	res, err := s.periods.UpdateOne(ctx, filter, bson.M{
		"$inc": bson.M{field: rec.Quantity},
		"$set": bson.M{"updated_at": time.Now()},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrQuotaExceeded
	}

	rec.CreatedAt = time.Now()
	if _, err := s.records.InsertOne(ctx, rec); err != nil {
		// The counter moved but the record is lost; surface it so the
		// caller can log, the user-visible action already succeeded.
		return fmt.Errorf("usage record insert: %w", err)
	}
	return nil
}

// Summary returns the tenant's current-period usage against its plan
// limits.
func (s *UsageStore) Summary(ctx context.Context, tenantID, period string, limits models.TierLimits) (*models.UsageSummary, error) {
	var usage models.PeriodUsage
	err := s.periods.FindOne(ctx, bson.M{"tenant_id": tenantID, "billing_period": period}).Decode(&usage)
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, err
	}

	summary := &models.UsageSummary{
		TenantID:      tenantID,
		BillingPeriod: period,
		Messages:      usage.Messages,
		Documents:     usage.Documents,
		Scrapes:       usage.Scrapes,
		MessageLimit:  limits.MessagesPerMonth,
		DocumentLimit: limits.Documents,
		ScrapeLimit:   limits.ScrapesPerMonth,
	}
	if limits.MessagesPerMonth == models.Unlimited {
		summary.MessagesRemaining = models.Unlimited
	} else {
		summary.MessagesRemaining = limits.MessagesPerMonth - usage.Messages
		if summary.MessagesRemaining < 0 {
			summary.MessagesRemaining = 0
		}
		summary.AtLimit = usage.Messages >= limits.MessagesPerMonth
	}
	return summary, nil
}
