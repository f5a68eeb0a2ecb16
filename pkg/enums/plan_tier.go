package enums

// PlanTier is the commercial tier a pricing plan belongs to, lowest first.
type PlanTier string

const (
	PlanTierFree       PlanTier = "FREE"
	PlanTierPro        PlanTier = "PRO"
	PlanTierEnterprise PlanTier = "ENTERPRISE"
)

var planTiers = newSet("plan tier", PlanTierFree, PlanTierPro, PlanTierEnterprise).folding(normalizeUpper)

func (p PlanTier) String() string { return string(p) }

func (p PlanTier) IsValid() bool { return planTiers.has(p) }

// Rank orders tiers from FREE upward; unknown tiers sort last.
func (p PlanTier) Rank() int {
	if i := planTiers.index(p); i >= 0 {
		return i
	}
	return len(planTiers.values)
}

func ParsePlanTier(value string) (PlanTier, error) {
	return planTiers.parse(value)
}
