package pagination

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// DefaultLimit is the standard page size when a limit is not provided.
	DefaultLimit = 50
	// MaxLimit caps how many rows any list query can request.
	MaxLimit = 100
)

// Params holds offset pagination inputs from controllers or services.
type Params struct {
	Limit  int
	Offset int
}

// Normalize applies the default and maximum limit and clamps negative offsets.
func (p Params) Normalize() Params {
	return Params{Limit: NormalizeLimit(p.Limit), Offset: NormalizeOffset(p.Offset)}
}

// NormalizeLimit enforces the configured default and maximum limits.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// NormalizeOffset clamps negative offsets to zero.
func NormalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

// ParseParams reads limit/offset query values. Empty values fall back to defaults.
func ParseParams(limitRaw, offsetRaw string) (Params, error) {
	var params Params
	if value := strings.TrimSpace(limitRaw); value != "" {
		limit, err := strconv.Atoi(value)
		if err != nil || limit < 0 {
			return Params{}, fmt.Errorf("invalid limit %q", limitRaw)
		}
		params.Limit = limit
	}
	if value := strings.TrimSpace(offsetRaw); value != "" {
		offset, err := strconv.Atoi(value)
		if err != nil || offset < 0 {
			return Params{}, fmt.Errorf("invalid offset %q", offsetRaw)
		}
		params.Offset = offset
	}
	return params.Normalize(), nil
}

// HasMore reports whether rows exist past the current page.
func HasMore(params Params, returned int, total int64) bool {
	return int64(params.Offset+returned) < total
}
