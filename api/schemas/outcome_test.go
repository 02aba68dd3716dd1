package schemas

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestOutcomeErr verifies the error conversion for every variant.
func TestOutcomeErr(t *testing.T) {
	assert.NoError(t, Outcome{Kind: OutcomeSuccess}.Err())

	var apiErr *APIError
	err := Outcome{Kind: OutcomeIPBlocked, Code: IPBlockCode, Message: IPBlockMessage}.Err()
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.Blocked)
	assert.Contains(t, err.Error(), "ip blocked")

	err = Outcome{Kind: OutcomePlatformError, Code: -510001, Message: NoteAbnormalMessage}.Err()
	require.ErrorAs(t, err, &apiErr)
	assert.False(t, apiErr.Blocked)
	assert.Contains(t, err.Error(), NoteAbnormalMessage)

	err = Outcome{Kind: OutcomeRaw, RawStatus: 503}.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

// TestOutcomeGet verifies path navigation only works on the success variant.
func TestOutcomeGet(t *testing.T) {
	ok := Outcome{Kind: OutcomeSuccess, Data: json.RawMessage(`{"items":[{"id":"a"}]}`)}
	assert.Equal(t, "a", ok.Get("items.0.id").String())

	raw := Outcome{Kind: OutcomeRaw, RawBody: []byte(`{"items":[1]}`)}
	assert.False(t, raw.Get("items").Exists())

	flagOnly := Outcome{Kind: OutcomeSuccess, Flag: true}
	assert.False(t, flagOnly.Get("anything").Exists())
}

// TestSignatureHeadersComplete verifies partial header sets are detectable.
func TestSignatureHeadersComplete(t *testing.T) {
	assert.False(t, SignatureHeaders{}.Complete())
	assert.False(t, SignatureHeaders{XS: "s", XT: "t", XCommon: "c"}.Complete())
	assert.True(t, SignatureHeaders{XS: "s", XT: "t", XCommon: "c", TraceID: "i"}.Complete())
}

// TestOutcomeKindString pins the log labels.
func TestOutcomeKindString(t *testing.T) {
	assert.Equal(t, "success", OutcomeSuccess.String())
	assert.Equal(t, "platform_error", OutcomePlatformError.String())
	assert.Equal(t, "ip_blocked", OutcomeIPBlocked.String())
	assert.Equal(t, "raw", OutcomeRaw.String())
}
