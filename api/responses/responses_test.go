package responses

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/nebutra/billing-service/pkg/errors"
	"github.com/nebutra/billing-service/pkg/logger"
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorEnvelope {
	t.Helper()
	var body ErrorEnvelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestWriteSuccessWrapsData(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteSuccessStatus(rec, http.StatusCreated, map[string]int64{"new_balance": 120})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"data":{"new_balance":120}}`, rec.Body.String())
}

func TestWriteErrorKeepsClientMessageAndDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	err := pkgerrors.New(pkgerrors.CodeValidation, "credits must be positive").
		WithDetails(map[string]string{"credits": "must be greater than 0"})
	WriteError(context.Background(), nil, rec, err)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, string(pkgerrors.CodeValidation), body.Error.Code)
	assert.Equal(t, "credits must be positive", body.Error.Message)
	assert.Equal(t, map[string]any{"credits": "must be greater than 0"}, body.Error.Details)
}

func TestWriteErrorInsufficientCredits(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(context.Background(), nil, rec, fmt.Errorf("deduct: %w", pkgerrors.InsufficientCredits(50, 80)))

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.JSONEq(t,
		`{"error":{"code":"INSUFFICIENT_CREDITS","message":"insufficient credits: balance 50, required 80","details":{"balance":50,"required":80}}}`,
		rec.Body.String())
}

func TestWriteErrorHidesServerSideMessages(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(context.Background(), nil, rec, errors.New("dial tcp 10.0.0.3:5432: connection refused"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, string(pkgerrors.CodeInternal), body.Error.Code)
	assert.Equal(t, "internal server error", body.Error.Message)
	assert.Nil(t, body.Error.Details)
}

func TestWriteErrorDependencySetsRetryAfter(t *testing.T) {
	buf := &bytes.Buffer{}
	logg := logger.New(logger.Options{ServiceName: "billing-test", Output: buf})
	rec := httptest.NewRecorder()
	WriteError(context.Background(), logg, rec, pkgerrors.Wrap(pkgerrors.CodeDependency, errors.New("redis down"), "check idempotency"))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, dependencyRetryAfter, rec.Header().Get("Retry-After"))
	body := decodeError(t, rec)
	assert.Equal(t, "dependency unavailable", body.Error.Message)
	assert.Contains(t, buf.String(), `"error_code":"DEPENDENCY_ERROR"`)
	assert.Contains(t, buf.String(), "request.failed")
}
