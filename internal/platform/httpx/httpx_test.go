package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ezzatsd/CynaApp/internal/platform/requestctx"
)

func TestWriteErrorEnvelope(t *testing.T) {
	ctx := requestctx.WithTrace(context.Background(), requestctx.TraceInfo{TraceID: "trace-1"})
	rr := httptest.NewRecorder()
	WriteError(ctx, rr, NewError("invalid_line_item", "unknown\nproduct", http.StatusBadRequest).
		WithDetails(map[string]any{"productIds": []string{"C"}}))

	require.Equal(t, http.StatusBadRequest, rr.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "invalid_line_item", body["error"])
	assert.Equal(t, "unknown product", body["message"])
	assert.Equal(t, "trace-1", body["trace_id"])
	assert.Equal(t, []any{"C"}, body["productIds"])
	assert.EqualValues(t, 400, body["status"])
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}
	cases := map[string]struct {
		body, contentType string
		wantErr           bool
	}{
		"ok":            {`{"name":"a"}`, "application/json; charset=utf-8", false},
		"no type":       {`{"name":"a"}`, "", false},
		"unknown field": {`{"name":"a","x":1}`, "application/json", true},
		"trailing":      {`{"name":"a"}{"name":"b"}`, "application/json", true},
		"empty":         {``, "application/json", true},
		"wrong type":    {`{"name":"a"}`, "text/plain", true},
		"too large":     {`{"name":"` + strings.Repeat("a", 64) + `"}`, "application/json", true},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
			if tc.contentType != "" {
				req.Header.Set("Content-Type", tc.contentType)
			}
			var dst payload
			err := DecodeJSON(httptest.NewRecorder(), req, &dst, 32)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "a", dst.Name)
		})
	}
}

func TestWriteErrorKeepsEnvelopeFields(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(context.Background(), rr, NewError("order_not_found", "order not found", http.StatusNotFound).
		WithDetails(map[string]any{"error": "overridden", "status": 200, "orderId": "ord_1"}))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "order_not_found", body["error"])
	assert.EqualValues(t, 404, body["status"])
	assert.Equal(t, "ord_1", body["orderId"])
	assert.NotContains(t, body, "request_id")
}

func TestNewErrorDefaultsAndTruncates(t *testing.T) {
	err := NewError(strings.Repeat("x", 200), "boom", 0)
	assert.Equal(t, http.StatusInternalServerError, err.Status)
	assert.Len(t, err.Code, codeLimit)
	assert.Equal(t, err.Code+": boom", err.Error())
}
