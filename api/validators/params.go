package validators

import (
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	pkgerrors "github.com/nebutra/billing-service/pkg/errors"
)

const maxPathParamLen = 128

// Trimmed strips surrounding whitespace and truncates to maxLen bytes
// without splitting a UTF-8 sequence. maxLen <= 0 disables truncation.
func Trimmed(input string, maxLen int) string {
	s := strings.TrimSpace(input)
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	s = s[:maxLen]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

// PathParam returns a required chi URL parameter such as organizationId.
func PathParam(r *http.Request, key string) (string, error) {
	raw := chi.URLParam(r, key)
	if len(strings.TrimSpace(raw)) > maxPathParamLen {
		return "", paramError("path parameter too long", key)
	}
	value := Trimmed(raw, maxPathParamLen)
	if value == "" {
		return "", paramError("path parameter is required", key)
	}
	return value, nil
}

// PathInt64 parses a required integer chi URL parameter.
func PathInt64(r *http.Request, key string) (int64, error) {
	raw, err := PathParam(r, key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, paramError("path parameter must be an integer", key)
	}
	return value, nil
}

// QueryBool parses an optional boolean query parameter.
func QueryBool(r *http.Request, key string, fallback bool) (bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, paramError("query parameter must be a boolean", key)
	}
	return value, nil
}

func paramError(msg, field string) error {
	return pkgerrors.New(pkgerrors.CodeValidation, msg).WithDetails(map[string]any{"field": field})
}
