// Package engine adapts the external policy engine (OPA) decision and
// compile endpoints. When the engine is disabled by configuration, New
// returns a sentinel that short-circuits to the RBAC result.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/bl-hori/auth-platform-sub001/internal/config"
	"github.com/bl-hori/auth-platform-sub001/internal/models"
	"github.com/bl-hori/auth-platform-sub001/internal/monitoring"
	"github.com/bl-hori/auth-platform-sub001/pkg/logger"
)

// Input is the structured document sent to the decision endpoint.
type Input struct {
	Tenant       string                 `json:"tenant"`
	Principal    models.PrincipalRef    `json:"principal"`
	Action       string                 `json:"action"`
	Resource     models.ResourceRef     `json:"resource"`
	Context      map[string]interface{} `json:"context,omitempty"`
	RBACDecision string                 `json:"rbacDecision"`
}

// Adapter is the external policy engine surface.
type Adapter interface {
	// Enabled reports whether an external engine is configured.
	Enabled() bool
	// Decide evaluates the input against the engine. The error is non-nil
	// only for transport failures after retries; callers fall back to RBAC
	// and mark the decision degraded.
	Decide(ctx context.Context, input *Input) (bool, error)
	// CheckSyntax submits policy content for compilation. A transport error
	// signals the caller to fall back to the local structural check.
	CheckSyntax(ctx context.Context, content string) ([]models.ValidationError, error)
}

// New returns the HTTP adapter when the engine is enabled, otherwise the
// disabled sentinel.
func New(cfg config.PolicyEngineConfig, log logger.Logger) Adapter {
	if !cfg.Enabled {
		return disabledAdapter{}
	}
	connectTimeout := time.Duration(cfg.ConnectTimeoutMs) * time.Millisecond
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	hardTimeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if hardTimeout <= 0 {
		hardTimeout = 5 * time.Second
	}
	return &httpAdapter{
		cfg: cfg,
		client: &http.Client{
			Timeout: hardTimeout,
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: connectTimeout}).DialContext,
				MaxIdleConnsPerHost: 10,
			},
		},
		logger: log,
	}
}

/* -------------------------------- disabled -------------------------------- */

type disabledAdapter struct{}

func (disabledAdapter) Enabled() bool { return false }

func (disabledAdapter) Decide(context.Context, *Input) (bool, error) {
	return true, nil
}

func (disabledAdapter) CheckSyntax(context.Context, string) ([]models.ValidationError, error) {
	return nil, fmt.Errorf("policy engine disabled")
}

/* ---------------------------------- http ---------------------------------- */

type httpAdapter struct {
	cfg    config.PolicyEngineConfig
	client *http.Client
	logger logger.Logger
}

func (a *httpAdapter) Enabled() bool { return true }

// decisionResponse is the engine's answer: result is a boolean or an object
// carrying an "allow" field. A missing result is a deny.
type decisionResponse struct {
	Result json.RawMessage `json:"result"`
}

func (a *httpAdapter) Decide(ctx context.Context, input *Input) (bool, error) {
	body, err := json.Marshal(map[string]interface{}{"input": input})
	if err != nil {
		return false, fmt.Errorf("marshal policy input: %w", err)
	}

	var allowed bool
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			a.cfg.BaseURL+a.cfg.PolicyPath, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := a.client.Do(req)
		if err != nil {
			return err // transport error: retryable
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			// Decision-bearing response: no retry, no result means deny.
			allowed = false
			return nil
		}

		var dr decisionResponse
		if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
			allowed = false
			return nil
		}
		allowed = parseResult(dr.Result)
		return nil
	}

	err = backoff.Retry(operation, a.retryPolicy(ctx))
	if err != nil {
		monitoring.RecordPolicyEngineRequest("error")
		return false, err
	}
	monitoring.RecordPolicyEngineRequest("success")
	return allowed, nil
}

// parseResult accepts a bare boolean or an object with an "allow" field;
// anything else denies.
func parseResult(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	var obj struct {
		Allow bool `json:"allow"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Allow
	}
	return false
}

// compileResponse carries the compiler's structured errors.
type compileResponse struct {
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Location struct {
			Row int `json:"row"`
		} `json:"location"`
	} `json:"errors"`
}

func (a *httpAdapter) CheckSyntax(ctx context.Context, content string) ([]models.ValidationError, error) {
	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.cfg.BaseURL+a.cfg.CompilePath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var cr compileResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, err
	}

	verrs := make([]models.ValidationError, 0, len(cr.Errors))
	for _, e := range cr.Errors {
		verrs = append(verrs, models.ValidationError{
			Code:    e.Code,
			Message: e.Message,
			Line:    e.Location.Row,
		})
	}
	return verrs, nil
}

func (a *httpAdapter) retryPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = time.Second
	attempts := a.cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 3
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}
