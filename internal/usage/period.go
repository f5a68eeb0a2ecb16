package usage

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nebutra/billing-service/pkg/enums"
)

const periodLayout = "2006-01"

// PeriodKey returns the calendar-month bucket for t as YYYY-MM in UTC.
func PeriodKey(t time.Time) string {
	return t.UTC().Format(periodLayout)
}

// PeriodBounds returns the first instant of the period and of the following one.
func PeriodBounds(t time.Time) (time.Time, time.Time) {
	utc := t.UTC()
	start := time.Date(utc.Year(), utc.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

var (
	kib = decimal.NewFromInt(1024)
	mib = kib.Mul(kib)
	gib = mib.Mul(kib)
)

// Display renders quantity for humans in the unit of usageType.
func Display(usageType enums.UsageType, quantity int64) string {
	switch usageType {
	case enums.UsageTypeStorage, enums.UsageTypeBandwidth:
		return formatBytes(quantity)
	case enums.UsageTypeAIToken:
		return fmt.Sprintf("%d tokens", quantity)
	case enums.UsageTypeAPICall:
		return fmt.Sprintf("%d calls", quantity)
	case enums.UsageTypeCompute:
		return fmt.Sprintf("%d minutes", quantity)
	default:
		return fmt.Sprintf("%d", quantity)
	}
}

func formatBytes(quantity int64) string {
	value := decimal.NewFromInt(quantity)
	switch {
	case value.GreaterThanOrEqual(gib):
		return value.Div(gib).StringFixed(2) + " GB"
	case value.GreaterThanOrEqual(mib):
		return value.Div(mib).StringFixed(2) + " MB"
	case value.GreaterThanOrEqual(kib):
		return value.Div(kib).StringFixed(2) + " KB"
	default:
		return fmt.Sprintf("%d B", quantity)
	}
}
