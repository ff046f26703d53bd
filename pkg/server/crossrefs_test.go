package server

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCrossRefs(t *testing.T) {
	srv, _ := newTestServer(t, &fakeProvider{})

	rec := do(t, srv, http.MethodGet, "/api/cross-refs?verse=John.3.14", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "50", rec.Header().Get("X-RateLimit-Limit"))

	data := decodeBody(t, rec)["data"].(map[string]any)
	assert.Equal(t, []any{"John.3.14"}, data["anchor_verses"])
	assert.Equal(t, float64(2), data["total_found"])
	refs := data["cross_references"].([]any)
	require.Len(t, refs, 2)
	first := refs[0].(map[string]any)
	assert.Equal(t, "Num.21.8", first["reference"])
	assert.Equal(t, "Num 21:8", first["display_ref"])
	assert.Equal(t, "parallel", first["connection"].(map[string]any)["type"])
}

func TestCrossRefsMultipleVerses(t *testing.T) {
	srv, _ := newTestServer(t, &fakeProvider{})

	rec := do(t, srv, http.MethodGet, "/api/cross-refs?verses=John.3.14,John.3.15&limit=1&min_strength=0.3", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := decodeBody(t, rec)["data"].(map[string]any)
	assert.Equal(t, float64(3), data["total_found"], "Num.21.8 is deduplicated")
	assert.Equal(t, float64(1), data["returned"])
}

func TestCrossRefsValidation(t *testing.T) {
	srv, _ := newTestServer(t, &fakeProvider{})

	tests := []struct {
		name string
		path string
		code string
	}{
		{"no verse", "/api/cross-refs", codeMissingArgs},
		{"blank verses", "/api/cross-refs?verses=,", codeMissingArgs},
		{"bad limit", "/api/cross-refs?verse=John.3.14&limit=zero", codeValidation},
		{"negative limit", "/api/cross-refs?verse=John.3.14&limit=-1", codeValidation},
		{"strength out of range", "/api/cross-refs?verse=John.3.14&min_strength=2", codeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, http.MethodGet, tt.path, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, errorCode(t, rec))
		})
	}
}

func TestCrossRefsNotConfigured(t *testing.T) {
	srv, _ := newTestServer(t, &fakeProvider{})
	srv.crossRefs = nil

	rec := do(t, srv, http.MethodGet, "/api/cross-refs?verse=John.3.14", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, codeCrossRef, errorCode(t, rec))
}

func TestCrossRefsCached(t *testing.T) {
	srv, _ := newTestServer(t, &fakeProvider{})

	for range 2 {
		rec := do(t, srv, http.MethodGet, "/api/cross-refs?verse=John.3.14", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	stats := srv.cache.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, 1, stats.Size)
}
