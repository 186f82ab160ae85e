package server

import (
	"context"
	"net/http"

	"github.com/artemis/migrationctl/internal/auth"
	"github.com/artemis/migrationctl/internal/migerr"
	"github.com/artemis/migrationctl/internal/model"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// tokenRequest is the /auth/token request body.
type tokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresAt   string `json:"expires_at"`
}

// IssueToken handles POST /auth/token (spec §4.I).
func (s *Server) IssueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	user, err := s.auth.Authenticate(req.Username, req.Password)
	if err != nil {
		s.metrics.RecordAuthRequest("password", "denied")
		writeError(c, err)
		return
	}

	token, expiresAt, err := s.auth.IssueToken(user, c.ClientIP(), c.GetHeader("User-Agent"))
	if err != nil {
		writeError(c, err)
		return
	}

	s.metrics.RecordAuthRequest("password", "granted")
	c.JSON(http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresAt:   expiresAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	})
}

// CurrentUser handles GET /auth/me.
func (s *Server) CurrentUser(c *gin.Context) {
	principal, ok := currentPrincipal(c)
	if !ok {
		forbidden(c, "no authenticated principal")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"subject":   principal.Subject,
		"method":    principal.Method,
		"role":      principal.Role,
		"tenant_id": principal.TenantID,
		"scopes":    principal.Scopes,
	})
}

// CreateMigration handles POST /migrations.
func (s *Server) CreateMigration(c *gin.Context) {
	var cfg model.MigrationConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		badRequest(c, "invalid migration config: "+err.Error())
		return
	}

	principal, _ := currentPrincipal(c)
	if cfg.TenantID == "" {
		cfg.TenantID = principal.TenantID
	}
	if err := auth.RequireTenantAccess(principal, cfg.TenantID); err != nil {
		forbidden(c, err.Error())
		return
	}
	cfg.CreatedBy = principal.Subject

	sess, err := s.store.Create(cfg)
	if err != nil {
		writeError(c, err)
		return
	}

	s.hub.BroadcastEvent("migration_created", gin.H{"id": sess.ID, "tenant_id": sess.Config.TenantID})
	c.JSON(http.StatusCreated, gin.H{"id": sess.ID, "status": sess.Status})
}

// ListMigrations handles GET /migrations, filtered by the caller's tenant
// unless they are an admin (admins see every tenant).
func (s *Server) ListMigrations(c *gin.Context) {
	principal, _ := currentPrincipal(c)
	tenantID := principal.TenantID
	if principal.Role == model.RoleAdmin {
		tenantID = ""
	}

	sessions := s.store.List(tenantID)
	summaries := make([]gin.H, 0, len(sessions))
	for _, sess := range sessions {
		summaries = append(summaries, gin.H{
			"id":         sess.ID,
			"name":       sess.Config.Name,
			"status":     sess.Status,
			"created_at": sess.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"migrations": summaries})
}

// MigrationStatus handles GET /migrations/:id/status.
func (s *Server) MigrationStatus(c *gin.Context) {
	sess, err := s.store.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	steps := make([]gin.H, 0, len(sess.Steps))
	for _, step := range sess.Steps {
		steps = append(steps, gin.H{
			"id":         step.ID,
			"name":       step.Name,
			"status":     step.Status,
			"progress":   step.Progress,
			"percentage": step.Progress.Percentage(),
			"error":      step.Error,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"id":         sess.ID,
		"status":     sess.Status,
		"steps":      steps,
		"started_at": sess.StartedAt,
		"ended_at":   sess.EndedAt,
		"error":      sess.Error,
	})
}

// StartMigration handles POST /migrations/:id/start. It enqueues execution
// on (G) in the background and returns immediately, per spec §4.I's
// "schedules (G) execution in background" contract.
func (s *Server) StartMigration(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.store.Get(id); err != nil {
		writeError(c, err)
		return
	}

	var body struct {
		AutoRollback bool `json:"auto_rollback"`
	}
	_ = c.ShouldBindJSON(&body)

	go func() {
		err := s.orchestrator.Execute(context.Background(), id, body.AutoRollback)
		if err != nil {
			s.logger.Warn("migration execution ended with error",
				zap.String("session_id", id), zap.Error(err))
			s.hub.BroadcastEvent("migration_failed", gin.H{"id": id, "error": err.Error()})
			return
		}
		s.hub.BroadcastEvent("migration_completed", gin.H{"id": id})
	}()

	s.hub.BroadcastEvent("migration_started", gin.H{"id": id})
	c.JSON(http.StatusAccepted, gin.H{"id": id, "status": "scheduled"})
}

// CancelMigration handles POST /migrations/:id/cancel.
func (s *Server) CancelMigration(c *gin.Context) {
	id := c.Param("id")
	if err := s.orchestrator.Cancel(id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": "cancelling"})
}

// RollbackMigration handles POST /migrations/:id/rollback: an
// operator-triggered rollback of an already-failed or cancelled session.
func (s *Server) RollbackMigration(c *gin.Context) {
	id := c.Param("id")
	sess, err := s.store.Get(id)
	if err != nil {
		writeError(c, err)
		return
	}
	if sess.Status != model.SessionFailed && sess.Status != model.SessionCancelled {
		writeError(c, &migerr.InvalidStateError{Message: "session is not in a rollback-eligible state: " + string(sess.Status)})
		return
	}

	go func() {
		if err := s.orchestrator.Rollback(context.Background(), id); err != nil {
			s.logger.Warn("rollback ended with error", zap.String("session_id", id), zap.Error(err))
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"id": id, "status": "rolling-back"})
}

// ListPresets handles GET /presets.
func (s *Server) ListPresets(c *gin.Context) {
	type presetSummary struct {
		ID          string `json:"id"`
		Description string `json:"description"`
	}
	out := make([]presetSummary, 0, len(s.presets))
	for id, preset := range s.presets {
		out = append(out, presetSummary{ID: id, Description: preset.Description})
	}
	c.JSON(http.StatusOK, gin.H{"presets": out})
}

// CreateMigrationFromPreset handles POST /presets/:id/create-migration.
func (s *Server) CreateMigrationFromPreset(c *gin.Context) {
	presetID := c.Param("id")
	preset, ok := s.presets[presetID]
	if !ok {
		writeError(c, &migerr.NotFoundError{Kind: "preset", ID: presetID})
		return
	}

	var overrides map[string]interface{}
	_ = c.ShouldBindJSON(&overrides)

	cfg, err := materializePreset(preset, overrides)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	principal, _ := currentPrincipal(c)
	if cfg.TenantID == "" {
		cfg.TenantID = principal.TenantID
	}
	cfg.CreatedBy = principal.Subject

	sess, err := s.store.Create(cfg)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": sess.ID, "status": sess.Status})
}

// ValidateConfig handles POST /validate: synchronous pre-migration
// validation of a MigrationConfig without creating a session.
func (s *Server) ValidateConfig(c *gin.Context) {
	var cfg model.MigrationConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		badRequest(c, "invalid migration config: "+err.Error())
		return
	}

	summary, err := s.orchestrator.ValidateConfig(c.Request.Context(), cfg)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}
