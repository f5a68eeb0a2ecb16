package models

// All lists every persisted model in dependency order for gorm AutoMigrate.
func All() []any {
	return []any{
		&FeatureDefinition{},
		&UsageLimitDefinition{},
		&PricingPlan{},
		&PlanFeature{},
		&PlanUsageLimit{},
		&Subscription{},
		&CustomerPlanVersion{},
		&CustomerFeatureOverride{},
		&CustomerUsageLimit{},
		&UsageCounter{},
		&UsageRecord{},
		&CreditBalance{},
		&CreditTransaction{},
		&CreditBonusGrant{},
	}
}
