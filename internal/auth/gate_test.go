package auth

import (
	"testing"
	"time"

	"github.com/artemis/migrationctl/internal/model"
	"github.com/stretchr/testify/require"
)

func newTestGate(t *testing.T) *Gate {
	t.Helper()
	g, err := New(DefaultConfig("test-secret-key-do-not-use-in-prod"), "admin-bootstrap-pw", nil)
	require.NoError(t, err)
	return g
}

func TestAuthenticateAndIssueToken(t *testing.T) {
	g := newTestGate(t)

	user, err := g.Authenticate("admin", "admin-bootstrap-pw")
	require.NoError(t, err)
	require.Equal(t, model.RoleAdmin, user.Role)

	token, expiresAt, err := g.IssueToken(user, "10.0.0.1", "test-agent/1.0")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.True(t, expiresAt.After(time.Now()))

	principal, err := g.ValidateToken(token, "10.0.0.1", "test-agent/1.0")
	require.NoError(t, err)
	require.Equal(t, "admin", principal.Subject)
	require.Equal(t, model.RoleAdmin, principal.Role)
}

func TestAuthenticateWrongPassword(t *testing.T) {
	g := newTestGate(t)
	_, err := g.Authenticate("admin", "wrong-password")
	require.Error(t, err)
}

func TestValidateTokenLogsDriftButDoesNotReject(t *testing.T) {
	g := newTestGate(t)
	user, err := g.Authenticate("admin", "admin-bootstrap-pw")
	require.NoError(t, err)

	token, _, err := g.IssueToken(user, "10.0.0.1", "test-agent/1.0")
	require.NoError(t, err)

	principal, err := g.ValidateToken(token, "203.0.113.9", "a-different-agent/2.0")
	require.NoError(t, err)
	require.Equal(t, "admin", principal.Subject)
}

func TestValidateAPIKey(t *testing.T) {
	g := newTestGate(t)
	rec, err := g.CreateAPIKey("ci-pipeline", "default", []string{"read"}, 0)
	require.NoError(t, err)

	principal, err := g.ValidateAPIKey(rec.Key)
	require.NoError(t, err)
	require.Equal(t, "ci-pipeline", principal.Subject)
	require.True(t, principal.HasScope("read"))
	require.False(t, principal.HasScope("write"))
}

func TestValidateAPIKeyExpired(t *testing.T) {
	g := newTestGate(t)
	rec, err := g.CreateAPIKey("short-lived", "default", []string{"read"}, time.Nanosecond)
	require.NoError(t, err)
	time.Sleep(time.Millisecond)

	_, err = g.ValidateAPIKey(rec.Key)
	require.Error(t, err)
}

func TestRequireScopeRoleTenant(t *testing.T) {
	admin := Principal{Role: model.RoleAdmin, TenantID: "default"}
	require.NoError(t, RequireScope(admin, "anything"))
	require.NoError(t, RequireRole(admin, model.RoleViewer))
	require.NoError(t, RequireTenantAccess(admin, "other-tenant"))

	viewer := Principal{Role: model.RoleViewer, TenantID: "acme", Scopes: []string{"read"}}
	require.NoError(t, RequireScope(viewer, "read"))
	require.Error(t, RequireScope(viewer, "write"))
	require.Error(t, RequireRole(viewer, model.RoleAdmin))
	require.Error(t, RequireTenantAccess(viewer, "other-tenant"))
	require.NoError(t, RequireTenantAccess(viewer, "acme"))
}

func TestCheckRateLimit(t *testing.T) {
	cfg := DefaultConfig("secret")
	cfg.RateLimitRequests = 2
	cfg.RateLimitWindow = time.Minute
	g, err := New(cfg, "pw", nil)
	require.NoError(t, err)

	require.NoError(t, g.CheckRateLimit("client-a"))
	require.NoError(t, g.CheckRateLimit("client-a"))
	require.Error(t, g.CheckRateLimit("client-a"))
	require.NoError(t, g.CheckRateLimit("client-b"))
}

func TestAuditEventsUseNamedTypes(t *testing.T) {
	g := newTestGate(t)

	_, err := g.Authenticate("admin", "admin-bootstrap-pw")
	require.NoError(t, err)
	_, err = g.Authenticate("admin", "wrong-password")
	require.Error(t, err)
	_, err = g.Authenticate("no-such-user", "anything")
	require.Error(t, err)

	_, err = g.CreateUser("disabled-user", "pw", model.RoleViewer, "default", nil)
	require.NoError(t, err)
	mut := g.users["disabled-user"]
	mut.Disabled = true
	_, err = g.Authenticate("disabled-user", "pw")
	require.Error(t, err)

	cfg := DefaultConfig("secret")
	cfg.RateLimitRequests = 1
	limited, err := New(cfg, "pw", nil)
	require.NoError(t, err)
	require.NoError(t, limited.CheckRateLimit("client-a"))
	require.Error(t, limited.CheckRateLimit("client-a"))

	events := limited.AuditEvents(10)
	require.Len(t, events, 1)
	require.Equal(t, "rate_limit_exceeded", events[0].Event)

	seen := map[string]bool{}
	for _, e := range g.AuditEvents(10) {
		seen[e.Event] = true
	}
	require.True(t, seen["login_success"])
	require.True(t, seen["login_failure"])
	require.True(t, seen["disabled_user_access"])
}

func TestValidateTokenSessionDriftEmitsContextDriftEvent(t *testing.T) {
	g := newTestGate(t)
	user, err := g.Authenticate("admin", "admin-bootstrap-pw")
	require.NoError(t, err)

	token, _, err := g.IssueToken(user, "10.0.0.1", "test-agent/1.0")
	require.NoError(t, err)

	_, err = g.ValidateToken(token, "203.0.113.9", "a-different-agent/2.0")
	require.NoError(t, err)

	events := g.AuditEvents(10)
	require.NotEmpty(t, events)
	require.Equal(t, "session_context_drift", events[len(events)-1].Event)
}

func TestGetTenantDisabled(t *testing.T) {
	g := newTestGate(t)
	_, err := g.CreateTenant("acme", "Acme Corp")
	require.NoError(t, err)

	tenant, err := g.GetTenant("acme")
	require.NoError(t, err)
	require.Equal(t, "Acme Corp", tenant.Name)

	_, err = g.GetTenant("does-not-exist")
	require.Error(t, err)

	g.tenants["acme"].Disabled = true
	_, err = g.GetTenant("acme")
	require.Error(t, err)
}
