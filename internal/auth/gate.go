package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/bl-hori/auth-platform-sub001/internal/apperr"
	"github.com/bl-hori/auth-platform-sub001/internal/config"
	"github.com/bl-hori/auth-platform-sub001/internal/models"
	"github.com/bl-hori/auth-platform-sub001/internal/monitoring"
	"github.com/bl-hori/auth-platform-sub001/internal/storage"
	"github.com/bl-hori/auth-platform-sub001/pkg/logger"
)

// Identity is the authenticated caller bound to a request: a tenant, an
// optional user, and the credential string used for rate limiting.
type Identity struct {
	TenantID   string
	UserID     string
	Principal  string
	Credential string
}

// bearerClaims are the token claims the gate consumes. The tenant claim
// anchors just-in-time provisioning for first-seen subjects.
type bearerClaims struct {
	Email    string `json:"email"`
	TenantID string `json:"tenant"`
	jwt.RegisteredClaims
}

// Gate authenticates inbound credentials. Bearer tokens are tried first,
// then shared-secret API keys.
type Gate struct {
	cfg     config.OIDCConfig
	apiKeys map[string]string
	jwks    *JWKSCache
	store   storage.Store
	logger  logger.Logger
}

func NewGate(cfg config.OIDCConfig, apiKeys map[string]string, store storage.Store, log logger.Logger) *Gate {
	var jwks *JWKSCache
	if cfg.Enabled {
		jwks = NewJWKSCache(cfg.JWKSURI, time.Duration(cfg.JWKSCacheTTL)*time.Second, log)
	}
	return &Gate{cfg: cfg, apiKeys: apiKeys, jwks: jwks, store: store, logger: log}
}

// Authenticate resolves the request credentials to an identity. bearer and
// apiKey may each be empty; at least one must validate.
func (g *Gate) Authenticate(ctx context.Context, bearer, apiKey string) (*Identity, error) {
	if bearer != "" && g.cfg.Enabled {
		id, err := g.authenticateBearer(ctx, bearer)
		if err == nil {
			monitoring.RecordAuthAttempt("bearer", "success")
			return id, nil
		}
		if apperr.IsKind(err, apperr.KindAuthorization) {
			monitoring.RecordAuthAttempt("bearer", "forbidden")
			return nil, err
		}
		monitoring.RecordAuthAttempt("bearer", "failure")
		g.logger.Debug("bearer authentication failed", "error", err)
		// Fall through to the API key, if present.
	}

	if apiKey != "" {
		id, err := g.authenticateAPIKey(ctx, apiKey)
		if err == nil {
			monitoring.RecordAuthAttempt("api_key", "success")
			return id, nil
		}
		if apperr.IsKind(err, apperr.KindAuthorization) {
			monitoring.RecordAuthAttempt("api_key", "forbidden")
			return nil, err
		}
		monitoring.RecordAuthAttempt("api_key", "failure")
	}

	return nil, apperr.New(apperr.KindAuthentication, "no credential validated")
}

func (g *Gate) authenticateBearer(ctx context.Context, token string) (*Identity, error) {
	claims := &bearerClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		kid, _ := t.Header["kid"].(string)
		return g.jwks.Key(kid)
	},
		jwt.WithIssuer(g.cfg.Issuer),
		jwt.WithAudience(g.cfg.Audience),
		jwt.WithLeeway(time.Duration(g.cfg.ClockSkewSeconds)*time.Second),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindAuthentication, "bearer token rejected", err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, apperr.New(apperr.KindAuthentication, "bearer token has no subject")
	}

	user, err := g.provision(ctx, claims)
	if err != nil {
		return nil, err
	}

	if err := g.checkTenant(ctx, user.OrgID); err != nil {
		return nil, err
	}

	return &Identity{
		TenantID:   user.OrgID,
		UserID:     user.ID,
		Principal:  user.PrincipalKey(),
		Credential: claims.Subject,
	}, nil
}

// provision implements just-in-time user creation: subject lookup, then
// email lookup, then create in the claimed tenant. Any hit refreshes the
// last-sync timestamp.
func (g *Gate) provision(ctx context.Context, claims *bearerClaims) (*models.User, error) {
	users := g.store.Users()

	user, err := users.GetByBearerSubject(ctx, claims.Subject)
	if err == nil {
		_ = users.TouchLastSync(ctx, user.ID, time.Now())
		return user, nil
	}
	if !apperr.IsKind(err, apperr.KindNotFound) {
		return nil, err
	}

	if claims.TenantID == "" {
		return nil, apperr.New(apperr.KindAuthentication, "unknown subject and token carries no tenant")
	}

	if claims.Email != "" {
		user, err = users.GetByEmail(ctx, claims.TenantID, claims.Email)
		if err == nil {
			// Bind the subject to the matched user for future requests.
			user.BearerSubject = claims.Subject
			if user.ExternalID == "" {
				user.ExternalID = claims.Subject
			}
			if err := users.Update(ctx, user); err != nil {
				return nil, err
			}
			_ = users.TouchLastSync(ctx, user.ID, time.Now())
			return user, nil
		}
		if !apperr.IsKind(err, apperr.KindNotFound) {
			return nil, err
		}
	}

	now := time.Now()
	user = &models.User{
		ID:            uuid.New().String(),
		OrgID:         claims.TenantID,
		Email:         claims.Email,
		ExternalID:    claims.Subject,
		BearerSubject: claims.Subject,
		Status:        models.UserStatusActive,
		LastSyncAt:    &now,
	}
	if user.Email == "" {
		user.Email = claims.Subject + "@unresolved.local"
	}
	if err := users.Create(ctx, user); err != nil {
		return nil, err
	}
	g.logger.Info("provisioned first-seen bearer identity",
		"tenant", claims.TenantID, "subject", claims.Subject)
	return user, nil
}

func (g *Gate) authenticateAPIKey(ctx context.Context, key string) (*Identity, error) {
	tenantID, ok := g.apiKeys[key]
	if !ok {
		return nil, apperr.New(apperr.KindAuthentication, "unknown API key")
	}
	if err := g.checkTenant(ctx, tenantID); err != nil {
		return nil, err
	}
	// A valid key grants the tenant identity without a user identity.
	return &Identity{TenantID: tenantID, Credential: key}, nil
}

// checkTenant rejects credentials targeting a suspended or deleted
// organization.
func (g *Gate) checkTenant(ctx context.Context, tenantID string) error {
	org, err := g.store.Organizations().GetByID(ctx, tenantID)
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			return apperr.New(apperr.KindAuthorization, "tenant not available")
		}
		return err
	}
	if org.Status != models.OrgStatusActive {
		return apperr.Newf(apperr.KindAuthorization, "tenant %s is %s", org.Name, org.Status)
	}
	return nil
}
