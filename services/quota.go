package services

import (
	"context"
	"fmt"
	"time"

	"rag-chatbot-platform/internal/store"
	"rag-chatbot-platform/models"
)

// ErrQuotaExceeded mirrors the store sentinel so callers can gate on it
// without importing the storage layer.
var ErrQuotaExceeded = store.ErrQuotaExceeded

// UsageCounter is the persistence contract behind the quota gate.
type UsageCounter interface {
	Check(ctx context.Context, tenantID, period, kind string, limit int) error
	Commit(ctx context.Context, rec *models.UsageRecord, limit int) error
	Summary(ctx context.Context, tenantID, period string, limits models.TierLimits) (*models.UsageSummary, error)
}

// QuotaGate enforces per-tenant plan limits. Callers Check before doing
// expensive work and Commit only after the work succeeded; a failed
// generation or ingestion never consumes quota. Commit is the
// authoritative gate; Check exists to fail fast.
type QuotaGate struct {
	counter UsageCounter
}

func NewQuotaGate(counter UsageCounter) *QuotaGate {
	return &QuotaGate{counter: counter}
}

func limitForKind(limits models.TierLimits, kind string) (int, error) {
	switch kind {
	case models.UsageMessage:
		return limits.MessagesPerMonth, nil
	case models.UsageDocument:
		return limits.Documents, nil
	case models.UsageScrape:
		return limits.ScrapesPerMonth, nil
	default:
		return 0, fmt.Errorf("unknown usage kind %q", kind)
	}
}

// Check fails fast with ErrQuotaExceeded when the tenant has no
// remaining allowance for kind in the current billing period.
func (g *QuotaGate) Check(ctx context.Context, tenantID, tier, kind string) error {
	limits := models.LimitsForTier(tier)
	limit, err := limitForKind(limits, kind)
	if err != nil {
		return err
	}
	period := models.BillingPeriod(time.Now())
	return g.counter.Check(ctx, tenantID, period, kind, limit)
}

// Commit consumes quota for a completed action and records it for
// billing. Returns ErrQuotaExceeded when a concurrent request took the
// last slot; the caller must then withhold the result.
func (g *QuotaGate) Commit(ctx context.Context, tier string, rec *models.UsageRecord) error {
	limits := models.LimitsForTier(tier)
	limit, err := limitForKind(limits, rec.Kind)
	if err != nil {
		return err
	}
	if rec.BillingPeriod == "" {
		rec.BillingPeriod = models.BillingPeriod(time.Now())
	}
	return g.counter.Commit(ctx, rec, limit)
}

// Record writes a usage record without gating, for kinds whose limit
// is enforced elsewhere (the stored-document cap lives on the document
// store, not the period counter).
func (g *QuotaGate) Record(ctx context.Context, rec *models.UsageRecord) error {
	if rec.BillingPeriod == "" {
		rec.BillingPeriod = models.BillingPeriod(time.Now())
	}
	return g.counter.Commit(ctx, rec, models.Unlimited)
}

// Summary reports current-period usage against the tenant's limits.
func (g *QuotaGate) Summary(ctx context.Context, tenantID, tier string) (*models.UsageSummary, error) {
	limits := models.LimitsForTier(tier)
	return g.counter.Summary(ctx, tenantID, models.BillingPeriod(time.Now()), limits)
}
