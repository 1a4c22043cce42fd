// Package auth implements the identity and tenancy gate: bearer-token
// verification against a cached JWKS, API-key resolution and just-in-time
// user provisioning.
package auth

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"crypto/rsa"

	"github.com/bl-hori/auth-platform-sub001/pkg/logger"
)

// jwksResponse is the key set document served by the OIDC provider.
type jwksResponse struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKSCache fetches and caches the provider's RSA signing keys. Keys refresh
// on TTL expiry and on sight of an unknown key id (rotation).
type JWKSCache struct {
	mu         sync.RWMutex
	keys       map[string]*rsa.PublicKey
	lastFetch  time.Time
	ttl        time.Duration
	url        string
	httpClient *http.Client
	logger     logger.Logger
}

func NewJWKSCache(url string, ttl time.Duration, log logger.Logger) *JWKSCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &JWKSCache{
		keys:       make(map[string]*rsa.PublicKey),
		ttl:        ttl,
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     log,
	}
}

// Key returns the public key for kid, refreshing the cache when the kid is
// unknown.
func (c *JWKSCache) Key(kid string) (*rsa.PublicKey, error) {
	if err := c.fetch(false); err != nil {
		return nil, err
	}

	c.mu.RLock()
	key, ok := c.keys[kid]
	c.mu.RUnlock()
	if ok {
		return key, nil
	}

	// Unknown kid: the provider may have rotated keys.
	if err := c.fetch(true); err != nil {
		return nil, err
	}
	c.mu.RLock()
	key, ok = c.keys[kid]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("signing key %q not found in JWKS", kid)
	}
	return key, nil
}

// fetch loads the key set, honoring the TTL unless forced.
func (c *JWKSCache) fetch(force bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !force && time.Since(c.lastFetch) < c.ttl && len(c.keys) > 0 {
		return nil
	}

	resp, err := c.httpClient.Get(c.url)
	if err != nil {
		return fmt.Errorf("fetching JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading JWKS response: %w", err)
	}

	var doc jwksResponse
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("parsing JWKS: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey)
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || (k.Use != "" && k.Use != "sig") {
			continue
		}
		pub, err := rsaKeyFromJWK(k)
		if err != nil {
			c.logger.Warn("skipping undecodable JWK", "kid", k.Kid, "error", err)
			continue
		}
		keys[k.Kid] = pub
	}

	c.keys = keys
	c.lastFetch = time.Now()
	c.logger.Debug("JWKS refreshed", "keys", len(keys))
	return nil
}

// rsaKeyFromJWK builds an RSA public key from the base64url modulus and
// exponent.
func rsaKeyFromJWK(k jwk) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decoding modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decoding exponent: %w", err)
	}
	var e int
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: e}, nil
}
