package enums

// UsageType identifies a metered resource. Plan limit keys use the same names.
type UsageType string

const (
	UsageTypeAIToken   UsageType = "AI_TOKEN"
	UsageTypeAPICall   UsageType = "API_CALL"
	UsageTypeStorage   UsageType = "STORAGE"
	UsageTypeBandwidth UsageType = "BANDWIDTH"
	UsageTypeCompute   UsageType = "COMPUTE"
)

var usageTypes = newSet("usage type",
	UsageTypeAIToken, UsageTypeAPICall, UsageTypeStorage, UsageTypeBandwidth, UsageTypeCompute)

// UsageTypes returns every metered type in display order.
func UsageTypes() []UsageType {
	return usageTypes.all()
}

func (u UsageType) String() string { return string(u) }

func (u UsageType) IsValid() bool { return usageTypes.has(u) }

func ParseUsageType(value string) (UsageType, error) {
	return usageTypes.parse(value)
}
