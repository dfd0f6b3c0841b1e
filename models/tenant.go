package models

// Subscription tiers. Tenants are created and tiered by the admin
// portal; the pipeline only reads them.
const (
	TierFree         = "free"
	TierStarter      = "starter"
	TierProfessional = "professional"
	TierEnterprise   = "enterprise"
)

// Unlimited marks a limit that is never enforced.
const Unlimited = -1

// Tenant is the billing/isolation unit every other entity belongs to.
type Tenant struct {
	ID     string `bson:"_id" json:"id"`
	Name   string `bson:"name" json:"name"`
	Tier   string `bson:"tier" json:"tier"`
	Status string `bson:"status" json:"status"` // active | suspended
}

// TierLimits holds the numeric ceilings attached to a subscription tier.
type TierLimits struct {
	MessagesPerMonth int `json:"messages_per_month"`
	Documents        int `json:"documents"`
	Widgets          int `json:"widgets"`
	ScrapesPerMonth  int `json:"scrapes_per_month"`
}

// LimitsForTier maps a tier name to its limits. Unknown tiers fall back
// to free.
func LimitsForTier(tier string) TierLimits {
	switch tier {
	case TierStarter:
		return TierLimits{MessagesPerMonth: 1000, Documents: 20, Widgets: 3, ScrapesPerMonth: 10}
	case TierProfessional:
		return TierLimits{MessagesPerMonth: 10000, Documents: 100, Widgets: 10, ScrapesPerMonth: 50}
	case TierEnterprise:
		return TierLimits{MessagesPerMonth: Unlimited, Documents: Unlimited, Widgets: Unlimited, ScrapesPerMonth: Unlimited}
	default:
		return TierLimits{MessagesPerMonth: 100, Documents: 5, Widgets: 1, ScrapesPerMonth: 3}
	}
}
