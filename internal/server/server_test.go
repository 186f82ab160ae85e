package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/artemis/migrationctl/internal/auth"
	"github.com/artemis/migrationctl/internal/config"
	"github.com/artemis/migrationctl/internal/model"
	"github.com/artemis/migrationctl/internal/observability"
	"github.com/artemis/migrationctl/internal/orchestrator"
	"github.com/artemis/migrationctl/internal/perfmon"
	"github.com/artemis/migrationctl/internal/progress"
	"github.com/artemis/migrationctl/internal/session"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *auth.Gate) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Presets["basic"] = config.PresetConfig{
		Description: "basic preset",
		Overrides: map[string]interface{}{
			"name": "from-preset",
		},
	}

	authGate, err := auth.New(auth.DefaultConfig("test-secret-key-do-not-use-in-prod"), "admin-bootstrap-pw", nil)
	require.NoError(t, err)

	store := session.New()
	tracker := progress.New()
	perf := perfmon.New(0, 10)

	orch := orchestrator.New(store, orchestrator.Collaborators{}, tracker, perf, nil)
	health := observability.NewHealthChecker()
	metrics := observability.NewMetrics()
	logger, err := observability.NewLogger("error")
	require.NoError(t, err)

	s := New(Deps{
		Config:       cfg,
		Auth:         authGate,
		Store:        store,
		Orchestrator: orch,
		Tracker:      tracker,
		Perf:         perf,
		Health:       health,
		Metrics:      metrics,
		Logger:       logger,
	})

	return s, authGate
}

func adminToken(t *testing.T, g *auth.Gate) string {
	t.Helper()
	user, err := g.Authenticate("admin", "admin-bootstrap-pw")
	require.NoError(t, err)
	token, _, err := g.IssueToken(user, "127.0.0.1", "test-agent/1.0")
	require.NoError(t, err)
	return token
}

func doRequest(s *Server, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	s.GetRouter().ServeHTTP(rec, req)
	return rec
}

func sampleMigrationConfig() model.MigrationConfig {
	return model.MigrationConfig{
		Name: "test-migration",
		Source: model.SystemConfig{
			Variant: model.SystemStaticSite,
			Paths:   model.PathConfig{RootPath: "/src"},
		},
		Destination: model.SystemConfig{
			Variant: model.SystemStaticSite,
			Paths:   model.PathConfig{RootPath: "/dst"},
		},
		Transfer: model.TransferConfig{Method: "rsync"},
	}
}

func TestHealthEndpointRequiresNoAuth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestProtectedRouteRejectsMissingAuth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/migrations", nil, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

type createdMigration struct {
	ID     string              `json:"id"`
	Status model.SessionStatus `json:"status"`
}

func TestIssueTokenThenCreateMigration(t *testing.T) {
	s, g := newTestServer(t)
	token := adminToken(t, g)

	rec := doRequest(s, http.MethodPost, "/migrations", sampleMigrationConfig(), token)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created createdMigration
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)
	require.Equal(t, model.SessionPending, created.Status)
}

func TestListMigrationsAdminSeesCreatedMigration(t *testing.T) {
	s, g := newTestServer(t)
	token := adminToken(t, g)

	doRequest(s, http.MethodPost, "/migrations", sampleMigrationConfig(), token)

	rec := doRequest(s, http.MethodGet, "/migrations", nil, token)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Migrations []map[string]interface{} `json:"migrations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Migrations, 1)
}

func TestMigrationStatusNotFoundReturns404(t *testing.T) {
	s, g := newTestServer(t)
	token := adminToken(t, g)

	rec := doRequest(s, http.MethodGet, "/migrations/does-not-exist/status", nil, token)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateMigrationFromPresetMergesOverrides(t *testing.T) {
	s, g := newTestServer(t)
	token := adminToken(t, g)

	rec := doRequest(s, http.MethodPost, "/presets/basic/create-migration", sampleMigrationConfig(), token)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created createdMigration
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)

	statusRec := doRequest(s, http.MethodGet, "/migrations/"+created.ID+"/status", nil, token)
	require.Equal(t, http.StatusOK, statusRec.Code)
}

func TestRollbackRejectedForPendingSession(t *testing.T) {
	s, g := newTestServer(t)
	token := adminToken(t, g)

	rec := doRequest(s, http.MethodPost, "/migrations", sampleMigrationConfig(), token)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created createdMigration
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doRequest(s, http.MethodPost, "/migrations/"+created.ID+"/rollback", nil, token)
	require.Equal(t, http.StatusConflict, rec.Code)
}
