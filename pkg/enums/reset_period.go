package enums

import "strings"

// ResetPeriod describes when a usage limit starts counting from zero again.
type ResetPeriod string

const (
	ResetPeriodMonthly ResetPeriod = "monthly"
	ResetPeriodDaily   ResetPeriod = "daily"
	ResetPeriodNever   ResetPeriod = "never"
)

var resetPeriods = newSet("reset period", ResetPeriodMonthly, ResetPeriodDaily, ResetPeriodNever).
	folding(func(s string) string { return strings.ToLower(strings.TrimSpace(s)) })

func (r ResetPeriod) String() string { return string(r) }

func (r ResetPeriod) IsValid() bool { return resetPeriods.has(r) }

// ParseResetPeriod treats empty input as monthly.
func ParseResetPeriod(value string) (ResetPeriod, error) {
	if strings.TrimSpace(value) == "" {
		return ResetPeriodMonthly, nil
	}
	return resetPeriods.parse(value)
}
