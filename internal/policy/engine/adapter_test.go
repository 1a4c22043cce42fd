package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bl-hori/auth-platform-sub001/internal/config"
	"github.com/bl-hori/auth-platform-sub001/internal/models"
	"github.com/bl-hori/auth-platform-sub001/pkg/logger"
)

func adapterFor(url string) Adapter {
	return New(config.PolicyEngineConfig{
		Enabled:          true,
		BaseURL:          url,
		PolicyPath:       "/v1/data/authz/decision",
		CompilePath:      "/v1/compile",
		TimeoutMs:        2000,
		ConnectTimeoutMs: 500,
		RetryAttempts:    3,
	}, logger.NewNop())
}

func sampleInput() *Input {
	return &Input{
		Tenant:       "T1",
		Principal:    models.PrincipalRef{ID: "u-ext-1"},
		Action:       "read",
		Resource:     models.ResourceRef{Type: "document", ID: "doc-1"},
		RBACDecision: "allow",
	}
}

func TestDisabledAdapterShortCircuits(t *testing.T) {
	a := New(config.PolicyEngineConfig{Enabled: false}, logger.NewNop())
	assert.False(t, a.Enabled())

	allowed, err := a.Decide(context.Background(), sampleInput())
	require.NoError(t, err)
	assert.True(t, allowed, "disabled engine defers entirely to RBAC")
}

func TestDecideParsesBooleanResult(t *testing.T) {
	for _, want := range []bool{true, false} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var body struct {
				Input Input `json:"input"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "T1", body.Input.Tenant)
			assert.Equal(t, "allow", body.Input.RBACDecision)

			_ = json.NewEncoder(w).Encode(map[string]bool{"result": want})
		}))
		defer srv.Close()

		allowed, err := adapterFor(srv.URL).Decide(context.Background(), sampleInput())
		require.NoError(t, err)
		assert.Equal(t, want, allowed)
	}
}

func TestDecideParsesObjectResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result": {"allow": true, "reason": "ok"}}`))
	}))
	defer srv.Close()

	allowed, err := adapterFor(srv.URL).Decide(context.Background(), sampleInput())
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestDecideMissingResultIsDeny(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	allowed, err := adapterFor(srv.URL).Decide(context.Background(), sampleInput())
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestDecideNoRetryOnDecisionBearingResponse(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	allowed, err := adapterFor(srv.URL).Decide(context.Background(), sampleInput())
	require.NoError(t, err)
	assert.False(t, allowed, "non-200 decision response denies")
	assert.Equal(t, int32(1), calls.Load(), "decision-bearing responses are not retried")
}

func TestDecideTransportErrorAfterRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // nothing listening

	_, err := adapterFor(srv.URL).Decide(context.Background(), sampleInput())
	assert.Error(t, err, "transport failure surfaces so callers can degrade to RBAC")
}

func TestDecideRetriesTransportErrorsThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			// Kill the first connection mid-response to force a transport error.
			hj, ok := w.(http.Hijacker)
			require.True(t, ok)
			conn, _, err := hj.Hijack()
			require.NoError(t, err)
			_ = conn.Close()
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]bool{"result": true})
	}))
	defer srv.Close()

	allowed, err := adapterFor(srv.URL).Decide(context.Background(), sampleInput())
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.GreaterOrEqual(t, calls.Load(), int32(2))
}

func TestCheckSyntaxReturnsStructuredErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"errors": [{"code": "rego_parse_error", "message": "unexpected token", "location": {"row": 3}}]}`))
	}))
	defer srv.Close()

	verrs, err := adapterFor(srv.URL).CheckSyntax(context.Background(), "package p\nbad syntax")
	require.NoError(t, err)
	require.Len(t, verrs, 1)
	assert.Equal(t, "rego_parse_error", verrs[0].Code)
	assert.Equal(t, "unexpected token", verrs[0].Message)
	assert.Equal(t, 3, verrs[0].Line)
}

func TestCheckSyntaxCleanPolicy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"errors": []}`))
	}))
	defer srv.Close()

	verrs, err := adapterFor(srv.URL).CheckSyntax(context.Background(), "package p\nallow = true")
	require.NoError(t, err)
	assert.Empty(t, verrs)
}

func TestCheckSyntaxTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	_, err := adapterFor(srv.URL).CheckSyntax(context.Background(), "package p")
	assert.Error(t, err, "caller falls back to the local structural check")
}
