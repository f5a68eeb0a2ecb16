package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := map[Code]Metadata{
		CodeValidation:          {HTTPStatus: http.StatusBadRequest, PublicMessage: "validation failed", DetailsAllowed: true},
		CodeUnauthorized:        {HTTPStatus: http.StatusUnauthorized, PublicMessage: "authentication required"},
		CodeNotFound:            {HTTPStatus: http.StatusNotFound, PublicMessage: "resource not found"},
		CodeConflict:            {HTTPStatus: http.StatusConflict, PublicMessage: "conflict detected"},
		CodeInsufficientCredits: {HTTPStatus: http.StatusPaymentRequired, PublicMessage: "insufficient credits", DetailsAllowed: true},
		CodeIdempotency:         {HTTPStatus: http.StatusConflict, PublicMessage: "idempotency key reused", DetailsAllowed: true},
		CodeInternal:            {HTTPStatus: http.StatusInternalServerError, PublicMessage: "internal server error", Retryable: true},
		CodeDependency:          {HTTPStatus: http.StatusServiceUnavailable, PublicMessage: "dependency unavailable", Retryable: true, DetailsAllowed: true},
	}
	for code, want := range tests {
		assert.Equalf(t, want, MetadataFor(code), "code %s", code)
	}
	assert.Equal(t, MetadataFor(CodeInternal), MetadataFor("SOMETHING_UNKNOWN"))
}

func TestErrorConstructors(t *testing.T) {
	base := New(CodeValidation, "missing organization_id")
	assert.Equal(t, CodeValidation, base.Code())
	assert.Equal(t, "missing organization_id", base.Message())
	assert.Nil(t, base.Details())
	assert.EqualError(t, base, "VALIDATION_ERROR: missing organization_id")

	cause := stdErrors.New("connection refused")
	wrapped := Wrap(CodeDependency, cause, "load plan")
	assert.ErrorIs(t, wrapped, cause)
	assert.Equal(t, CodeDependency, wrapped.Code())
	assert.EqualError(t, Wrap(CodeInternal, cause, ""), "INTERNAL_ERROR: connection refused")

	assert.Equal(t, "unknown usage type \"gpu\"", Newf(CodeValidation, "unknown usage type %q", "gpu").Message())
}

func TestNilErrorIsSafe(t *testing.T) {
	var e *Error
	assert.Equal(t, CodeInternal, e.Code())
	assert.Empty(t, e.Message())
	assert.Nil(t, e.Details())
	assert.Nil(t, e.WithDetails("x"))
	assert.Nil(t, e.Unwrap())
	assert.Empty(t, e.Error())
}

func TestInsufficientCreditsCarriesAmounts(t *testing.T) {
	err := fmt.Errorf("deduct: %w", InsufficientCredits(100, 300))

	require.True(t, IsCode(err, CodeInsufficientCredits))
	assert.Equal(t, "insufficient credits: balance 100, required 300", As(err).Message())
	assert.Equal(t, InsufficientCreditsDetails{Balance: 100, Required: 300}, As(err).Details())
}

func TestIsCodeSearchesNestedErrors(t *testing.T) {
	inner := New(CodeNotFound, "transaction not found")
	outer := Wrap(CodeDependency, fmt.Errorf("refund: %w", inner), "load original")

	assert.True(t, IsCode(outer, CodeDependency))
	assert.True(t, IsCode(outer, CodeNotFound))
	assert.False(t, IsCode(outer, CodeValidation))
	assert.False(t, IsCode(stdErrors.New("plain"), CodeNotFound))
	assert.False(t, IsCode(nil, CodeNotFound))
}

func TestErrorsIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("record usage: %w", New(CodeValidation, "quantity must be positive"))

	assert.ErrorIs(t, err, New(CodeValidation, ""))
	assert.ErrorIs(t, err, New(CodeValidation, "quantity must be positive"))
	assert.NotErrorIs(t, err, New(CodeValidation, "other"))
	assert.NotErrorIs(t, err, New(CodeNotFound, ""))
}

func TestAsReturnsTypedError(t *testing.T) {
	got := As(New(CodeNotFound, "transaction not found"))
	require.NotNil(t, got)
	assert.Equal(t, CodeNotFound, got.Code())
	assert.Nil(t, As(nil))
	assert.Nil(t, As(stdErrors.New("plain")))
}

func TestDiagnoseCollectsChainAndCode(t *testing.T) {
	root := stdErrors.New("connection reset")
	err := fmt.Errorf("append ledger entry: %w", Wrap(CodeDependency, root, "write credit transaction"))

	d := Diagnose(err)
	assert.Equal(t, CodeDependency, d.Code)
	assert.Len(t, d.Chain, 3)

	fields := d.Fields()
	assert.Equal(t, string(CodeDependency), fields["error_code"])
	assert.NotContains(t, fields, "sql_state")

	zero := Diagnose(nil)
	assert.Empty(t, zero.Message)
	assert.Nil(t, zero.Chain)
}
