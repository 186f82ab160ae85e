// Package auth implements the AuthGate (spec §4.H): bearer-token and
// API-key authentication, bcrypt password hashing, tenant isolation,
// scope/role/tenant-access authorization, sliding-window rate limiting,
// and a security audit trail. It is grounded on
// migration_assistant/api/auth.py from the retrieved original source.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"sync"
	"time"

	"github.com/artemis/migrationctl/internal/migerr"
	"github.com/artemis/migrationctl/internal/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Config configures a Gate. Values are read from the control-plane
// configuration file (internal/config), never hardcoded in deployment.
type Config struct {
	SecretKey         string
	AccessTokenTTL    time.Duration
	RateLimitRequests int
	RateLimitWindow   time.Duration
	AuditLogCapacity  int
}

// DefaultConfig matches the original's ACCESS_TOKEN_EXPIRE_MINUTES=30,
// RATE_LIMIT_REQUESTS=100, RATE_LIMIT_WINDOW=60.
func DefaultConfig(secretKey string) Config {
	return Config{
		SecretKey:         secretKey,
		AccessTokenTTL:    30 * time.Minute,
		RateLimitRequests: 100,
		RateLimitWindow:   60 * time.Second,
		AuditLogCapacity:  10000,
	}
}

// Principal is the authenticated identity attached to a request, whichever
// of the two auth methods produced it.
type Principal struct {
	Subject  string
	Method   model.AuthMethod
	Role     model.Role
	TenantID string
	Scopes   []string
}

// HasScope reports whether the principal carries scope, or is an admin
// (admins bypass all scope checks, matching require_scope's behavior).
func (p Principal) HasScope(scope string) bool {
	if p.Role == model.RoleAdmin {
		return true
	}
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Gate is the control-plane's authentication and authorization boundary.
type Gate struct {
	cfg     Config
	logger  *zap.Logger
	limiter *rateLimiter
	audit   *auditLog

	mu       sync.RWMutex
	users    map[string]*model.User
	apiKeys  map[string]*model.APIKey
	tenants  map[string]*model.Tenant
	sessions map[string]sessionContext // jti -> bound client fingerprint
}

type sessionContext struct {
	ipAddress string
	uaHash    string
}

// New builds a Gate seeded with a bootstrap admin account and a default
// tenant, mirroring fake_users_db/fake_tenants_db from the original.
// bootstrapAdminPassword should come from a secret, never a literal in code.
func New(cfg Config, bootstrapAdminPassword string, logger *zap.Logger) (*Gate, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gate{
		cfg:      cfg,
		logger:   logger,
		limiter:  newRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow),
		audit:    newAuditLog(cfg.AuditLogCapacity),
		users:    make(map[string]*model.User),
		apiKeys:  make(map[string]*model.APIKey),
		tenants:  make(map[string]*model.Tenant),
		sessions: make(map[string]sessionContext),
	}

	g.tenants["default"] = &model.Tenant{ID: "default", Name: "Default Tenant"}

	hashed, err := HashPassword(bootstrapAdminPassword)
	if err != nil {
		return nil, err
	}
	g.users["admin"] = &model.User{
		Username:       "admin",
		HashedPassword: hashed,
		Role:           model.RoleAdmin,
		TenantID:       "default",
		Scopes:         []string{"read", "write", "admin"},
	}

	return g, nil
}

// HashPassword bcrypt-hashes a plaintext password at the original's cost
// factor (12).
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), 12)
	if err != nil {
		return "", &migerr.AuthError{Message: "cannot hash password: " + err.Error()}
	}
	return string(hashed), nil
}

// VerifyPassword reports whether password matches a bcrypt hash.
func VerifyPassword(hashed, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(password)) == nil
}

// Authenticate validates a username/password pair, mirroring
// authenticate_user.
func (g *Gate) Authenticate(username, password string) (*model.User, error) {
	g.mu.RLock()
	user, ok := g.users[username]
	g.mu.RUnlock()
	if !ok {
		g.audit.record("login_failure", username, "", nil)
		return nil, &migerr.AuthError{Message: "invalid username or password"}
	}
	if user.Disabled {
		g.audit.record("disabled_user_access", username, "", nil)
		return nil, &migerr.AuthError{Message: "user account is disabled"}
	}
	if !VerifyPassword(user.HashedPassword, password) {
		g.audit.record("login_failure", username, "", nil)
		return nil, &migerr.AuthError{Message: "invalid username or password"}
	}
	g.audit.record("login_success", username, "", nil)
	return user, nil
}

// uaHash digests a User-Agent string so the raw header value never sits in
// a JWT claim or the audit log.
func uaHash(userAgent string) string {
	sum := sha256.Sum256([]byte(userAgent))
	return hex.EncodeToString(sum[:])[:16]
}

// IssueToken creates a bearer token for user, binding it to the
// requesting client's IP and User-Agent for later drift detection
// (create_secure_session_token).
func (g *Gate) IssueToken(user *model.User, clientIP, userAgent string) (token string, expiresAt time.Time, err error) {
	now := time.Now()
	expiresAt = now.Add(g.cfg.AccessTokenTTL)
	jti := uuid.NewString()

	token, err = issueToken(g.cfg.SecretKey, claims{
		Subject:   user.Username,
		TenantID:  user.TenantID,
		Role:      string(user.Role),
		Scopes:    user.Scopes,
		IPAddress: clientIP,
		UAHash:    uaHash(userAgent),
		JTI:       jti,
		IssuedAt:  now.Unix(),
		ExpiresAt: expiresAt.Unix(),
	})
	if err != nil {
		return "", time.Time{}, err
	}

	g.mu.Lock()
	g.sessions[jti] = sessionContext{ipAddress: clientIP, uaHash: uaHash(userAgent)}
	g.mu.Unlock()

	g.audit.record("token_issued", user.Username, clientIP, nil)
	return token, expiresAt, nil
}

// ValidateToken parses and verifies a bearer token, returning the
// principal it authenticates. It also runs the session-context drift
// check (validate_session_context): an IP or User-Agent mismatch against
// the client that originally requested the token is logged as a security
// event but never rejected — dynamic IPs behind NAT/CDN and UA variation
// across browser updates are common enough that blocking on drift would
// lock out legitimate users more often than it would stop an attacker.
func (g *Gate) ValidateToken(tokenString, clientIP, userAgent string) (Principal, error) {
	c, err := parseToken(g.cfg.SecretKey, tokenString)
	if err != nil {
		if ae, ok := err.(*migerr.AuthError); ok && ae.Message == "token expired" {
			g.audit.record("token_expired", c.Subject, clientIP, nil)
		}
		return Principal{}, err
	}

	g.mu.RLock()
	user, ok := g.users[c.Subject]
	bound, hasSession := g.sessions[c.JTI]
	g.mu.RUnlock()
	if !ok {
		return Principal{}, &migerr.AuthError{Message: "unknown token subject"}
	}
	if user.Disabled {
		return Principal{}, &migerr.AuthError{Message: "user account is disabled"}
	}

	if hasSession {
		current := uaHash(userAgent)
		if bound.ipAddress != "" && bound.ipAddress != clientIP {
			g.logger.Warn("session IP address changed",
				zap.String("subject", c.Subject), zap.String("original_ip", bound.ipAddress), zap.String("current_ip", clientIP))
			g.audit.record("session_context_drift", c.Subject, clientIP, map[string]interface{}{"field": "ip_address", "original_ip": bound.ipAddress})
		}
		if bound.uaHash != "" && bound.uaHash != current {
			g.logger.Warn("session User-Agent changed", zap.String("subject", c.Subject))
			g.audit.record("session_context_drift", c.Subject, clientIP, map[string]interface{}{"field": "user_agent"})
		}
	}

	return Principal{
		Subject:  c.Subject,
		Method:   model.AuthJWT,
		Role:     model.Role(c.Role),
		TenantID: c.TenantID,
		Scopes:   c.Scopes,
	}, nil
}

// ValidateAPIKey resolves an X-API-Key header value to a principal,
// mirroring get_current_user_from_api_key.
func (g *Gate) ValidateAPIKey(key string) (Principal, error) {
	g.mu.RLock()
	rec, ok := g.apiKeys[key]
	g.mu.RUnlock()
	if !ok {
		return Principal{}, &migerr.AuthError{Message: "invalid API key"}
	}
	if rec.Disabled {
		return Principal{}, &migerr.AuthError{Message: "API key is disabled"}
	}
	if rec.ExpiresAt != nil && time.Now().After(*rec.ExpiresAt) {
		return Principal{}, &migerr.AuthError{Message: "API key has expired"}
	}
	return Principal{
		Subject:  rec.Name,
		Method:   model.AuthAPIKey,
		Role:     model.RoleUser,
		TenantID: rec.TenantID,
		Scopes:   rec.Scopes,
	}, nil
}

// CheckRateLimit enforces the sliding-window limit for clientID, returning
// a RateLimitedError when exceeded.
func (g *Gate) CheckRateLimit(clientID string) error {
	if g.limiter.Allow(clientID) {
		return nil
	}
	g.audit.record("rate_limit_exceeded", "", clientID, nil)
	return &migerr.RateLimitedError{RetryAfterSeconds: int(g.cfg.RateLimitWindow.Seconds())}
}

// RequireScope returns an error unless p carries scope.
func RequireScope(p Principal, scope string) error {
	if p.HasScope(scope) {
		return nil
	}
	return &migerr.AuthError{Message: "missing required scope: " + scope}
}

// RequireRole returns an error unless p has exactly role, or is an admin.
func RequireRole(p Principal, role model.Role) error {
	if p.Role == model.RoleAdmin || p.Role == role {
		return nil
	}
	return &migerr.AuthError{Message: "requires role: " + string(role)}
}

// RequireTenantAccess returns an error unless p belongs to tenantID, or is
// an admin (admins cross tenant boundaries by design).
func RequireTenantAccess(p Principal, tenantID string) error {
	if p.Role == model.RoleAdmin || p.TenantID == tenantID {
		return nil
	}
	return &migerr.AuthError{Message: "no access to tenant: " + tenantID}
}

// CreateUser registers a new password-authenticated principal.
func (g *Gate) CreateUser(username, password string, role model.Role, tenantID string, scopes []string) (*model.User, error) {
	hashed, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	u := &model.User{Username: username, HashedPassword: hashed, Role: role, TenantID: tenantID, Scopes: scopes}
	g.mu.Lock()
	g.users[username] = u
	g.mu.Unlock()
	g.audit.record("user_created", username, "", nil)
	return u, nil
}

// CreateAPIKey mints a new API key, mirroring generate_api_key's use of a
// cryptographically random URL-safe token.
func (g *Gate) CreateAPIKey(name, tenantID string, scopes []string, ttl time.Duration) (*model.APIKey, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, &migerr.AuthError{Message: "cannot generate API key: " + err.Error()}
	}
	key := base64.RawURLEncoding.EncodeToString(raw)

	rec := &model.APIKey{Key: key, Name: name, TenantID: tenantID, Scopes: scopes}
	if ttl > 0 {
		expires := time.Now().Add(ttl)
		rec.ExpiresAt = &expires
	}

	g.mu.Lock()
	g.apiKeys[key] = rec
	g.mu.Unlock()
	g.audit.record("api_key_created", name, "", nil)
	return rec, nil
}

// CreateTenant registers a new tenant.
func (g *Gate) CreateTenant(id, name string) (*model.Tenant, error) {
	t := &model.Tenant{ID: id, Name: name}
	g.mu.Lock()
	g.tenants[id] = t
	g.mu.Unlock()
	return t, nil
}

// GetTenant looks up a tenant, erroring if it does not exist or is
// disabled — mirrors get_current_tenant's 403-on-disabled behavior.
func (g *Gate) GetTenant(id string) (*model.Tenant, error) {
	g.mu.RLock()
	t, ok := g.tenants[id]
	g.mu.RUnlock()
	if !ok {
		return nil, &migerr.NotFoundError{Kind: "tenant", ID: id}
	}
	if t.Disabled {
		return nil, &migerr.AuthError{Message: "tenant is disabled: " + id}
	}
	return t, nil
}

// AuditEvents returns the most recent n audit log entries.
func (g *Gate) AuditEvents(n int) []AuditEvent {
	return g.audit.Recent(n)
}
