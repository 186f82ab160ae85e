// Package model holds the data model shared by every control-plane
// component: MigrationConfig, MigrationSession, MigrationStep, and the
// supporting value types from spec §3.
package model

import "time"

// SystemVariant tags the kind of system a SystemConfig describes.
type SystemVariant string

const (
	SystemWebCMS        SystemVariant = "web-cms"
	SystemWebFramework  SystemVariant = "web-framework"
	SystemCloudBucket   SystemVariant = "cloud-bucket"
	SystemContainer     SystemVariant = "container"
	SystemControlPanel  SystemVariant = "control-panel"
	SystemStaticSite    SystemVariant = "static-site"
	SystemDatabaseOnly  SystemVariant = "database-only"
)

// AuthMethod tags the authentication variant a SystemConfig uses to reach
// the source or destination host.
type AuthMethod string

const (
	AuthPassword AuthMethod = "password"
	AuthSSHKey   AuthMethod = "ssh-key"
	AuthAPIKey   AuthMethod = "api-key"
	AuthOAuth2   AuthMethod = "oauth2"
	AuthJWT      AuthMethod = "jwt"
	AuthCloudIAM AuthMethod = "cloud-iam"
)

// AuthConfig describes how to authenticate against a source/destination host.
type AuthConfig struct {
	Method      AuthMethod `json:"method"`
	Username    string     `json:"username,omitempty"`
	Password    string     `json:"password,omitempty"`
	SSHKeyPath  string     `json:"ssh_key_path,omitempty"`
	APIKey      string     `json:"api_key,omitempty"`
	OAuthToken  string     `json:"oauth_token,omitempty"`
	CloudIAMARN string     `json:"cloud_iam_arn,omitempty"`
}

// PathConfig locates the filesystem root and excluded paths for a system.
type PathConfig struct {
	RootPath    string   `json:"root_path"`
	ExcludePaths []string `json:"exclude_paths,omitempty"`
}

// DatabaseConfig describes an optional database attached to a system.
type DatabaseConfig struct {
	Engine   string `json:"engine"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// CloudConfig describes optional cloud-provider specifics for a system.
type CloudConfig struct {
	Provider string `json:"provider"`
	Region   string `json:"region,omitempty"`
	Bucket   string `json:"bucket,omitempty"`
}

// ControlPanelConfig describes an optional control-panel integration.
type ControlPanelConfig struct {
	Panel   string `json:"panel"`
	BaseURL string `json:"base_url,omitempty"`
}

// SystemConfig names one side (source or destination) of a migration.
type SystemConfig struct {
	Variant      SystemVariant        `json:"variant"`
	Host         string               `json:"host"`
	Port         int                  `json:"port,omitempty"`
	Auth         AuthConfig           `json:"auth"`
	Paths        PathConfig           `json:"paths"`
	Database     *DatabaseConfig      `json:"database,omitempty"`
	Cloud        *CloudConfig         `json:"cloud,omitempty"`
	ControlPanel *ControlPanelConfig  `json:"control_panel,omitempty"`
}

// TransferConfig names a transfer method variant and its tuning knobs.
type TransferConfig struct {
	Method               string `json:"method"`
	ParallelTransfers    int    `json:"parallel_transfers"`
	CompressionEnabled   bool   `json:"compression_enabled"`
	VerifyChecksums      bool   `json:"verify_checksums"`
	UseNativeAcceleration bool  `json:"use_native_acceleration"`
}

// MigrationOptions holds the boolean knobs that drive StepGraph synthesis
// and orchestrator behavior.
type MigrationOptions struct {
	MaintenanceMode    bool   `json:"maintenance_mode"`
	BackupBefore       bool   `json:"backup_before"`
	BackupDestination  string `json:"backup_destination,omitempty"`
	VerifyAfter        bool   `json:"verify_after"`
	RollbackOnFailure  bool   `json:"rollback_on_failure"`
	PreservePermissions bool  `json:"preserve_permissions"`
	PreserveTimestamps bool   `json:"preserve_timestamps"`
	DryRun             bool   `json:"dry_run"`
}

// MigrationConfig is immutable after creation.
type MigrationConfig struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Source      SystemConfig     `json:"source"`
	Destination SystemConfig     `json:"destination"`
	Transfer    TransferConfig   `json:"transfer"`
	Options     MigrationOptions `json:"options"`
	TenantID    string           `json:"tenant_id"`
	CreatedBy   string           `json:"created_by"`
}

// SessionStatus is the MigrationSession state machine's vertex set.
type SessionStatus string

const (
	SessionPending    SessionStatus = "pending"
	SessionValidating SessionStatus = "validating"
	SessionRunning    SessionStatus = "running"
	SessionCompleted  SessionStatus = "completed"
	SessionFailed     SessionStatus = "failed"
	SessionCancelled  SessionStatus = "cancelled"
	SessionRolledBack SessionStatus = "rolled-back"
)

// StepStatus is the MigrationStep state machine's vertex set.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
	StepCancelled StepStatus = "cancelled"
)

// ProgressUnit names the unit a ProgressInfo/ProgressTracker counts in.
type ProgressUnit string

const (
	UnitItems      ProgressUnit = "items"
	UnitBytes      ProgressUnit = "bytes"
	UnitFiles      ProgressUnit = "files"
	UnitRecords    ProgressUnit = "records"
	UnitPercent    ProgressUnit = "percent"
	UnitOperations ProgressUnit = "operations"
)

// ProgressInfo is the (current, total, unit, message) snapshot carried on a
// MigrationStep; Percentage is derived, never stored independently.
type ProgressInfo struct {
	Current int64        `json:"current"`
	Total   int64        `json:"total"`
	Unit    ProgressUnit `json:"unit"`
	Message string       `json:"message,omitempty"`
}

// Percentage derives 100*current/total, 0 when total is 0.
func (p ProgressInfo) Percentage() float64 {
	if p.Total <= 0 {
		return 0
	}
	return 100 * float64(p.Current) / float64(p.Total)
}

// Severity grades an ErrorInfo or report Section.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ErrorInfo captures a structured failure for a step or session.
type ErrorInfo struct {
	Code             string   `json:"code"`
	Message          string   `json:"message"`
	Severity         Severity `json:"severity"`
	Component        string   `json:"component"`
	StepID           string   `json:"step_id,omitempty"`
	RetryPossible    bool     `json:"retry_possible"`
	RollbackRequired bool     `json:"rollback_required"`
	RemediationSteps []string `json:"remediation_steps,omitempty"`
	DocumentationLinks []string `json:"documentation_links,omitempty"`
}

// BackupKind tags the shape of a BackupRecord.
type BackupKind string

const (
	BackupFiles    BackupKind = "files"
	BackupDatabase BackupKind = "database"
	BackupConfig   BackupKind = "config"
	BackupFull     BackupKind = "full"
)

// BackupRecord describes one artifact produced by the create_backups step.
type BackupRecord struct {
	ID        string     `json:"id"`
	Type      BackupKind `json:"type"`
	SizeBytes int64      `json:"size_bytes"`
	Location  string     `json:"location"`
	CreatedAt time.Time  `json:"created_at"`
	Verified  bool       `json:"verified"`
}

// LogEntry is an append-only record in a session's execution log.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	StepID    string    `json:"step_id,omitempty"`
	Message   string    `json:"message"`
}

// MigrationStep is one vertex of a session's StepGraph.
type MigrationStep struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Description  string       `json:"description"`
	Dependencies []string     `json:"dependencies"`
	Status       StepStatus   `json:"status"`
	StartedAt    *time.Time   `json:"started_at,omitempty"`
	EndedAt      *time.Time   `json:"ended_at,omitempty"`
	Progress     ProgressInfo `json:"progress"`
	Error        *ErrorInfo   `json:"error,omitempty"`
}

// MigrationSession is the mutable root object the orchestrator drives.
// Single-writer: only the session's driver goroutine mutates it; readers
// take a snapshot via SessionStore.
type MigrationSession struct {
	ID               string            `json:"id"`
	Config           MigrationConfig   `json:"config"`
	Status           SessionStatus     `json:"status"`
	CreatedAt        time.Time         `json:"created_at"`
	StartedAt        *time.Time        `json:"started_at,omitempty"`
	EndedAt          *time.Time        `json:"ended_at,omitempty"`
	Steps            []*MigrationStep  `json:"steps"`
	CurrentStepID    string            `json:"current_step_id,omitempty"`
	Log              []LogEntry        `json:"log"`
	Backups          []BackupRecord    `json:"backups"`
	ValidationResult *ValidationSummary `json:"validation_result,omitempty"`
	Error            *ErrorInfo        `json:"error,omitempty"`
}

// Clone returns a deep-enough copy safe for a reader to hold without racing
// the driver goroutine's further mutation of the original.
func (s *MigrationSession) Clone() *MigrationSession {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Steps = make([]*MigrationStep, len(s.Steps))
	for i, st := range s.Steps {
		stepCopy := *st
		cp.Steps[i] = &stepCopy
	}
	cp.Log = append([]LogEntry(nil), s.Log...)
	cp.Backups = append([]BackupRecord(nil), s.Backups...)
	return &cp
}

// StepByID finds a step by id, nil if absent.
func (s *MigrationSession) StepByID(id string) *MigrationStep {
	for _, st := range s.Steps {
		if st.ID == id {
			return st
		}
	}
	return nil
}

// Issue is one finding from a ValidationEngine collaborator.
type Issue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// ValidationSummary is the result shape of the ValidationEngine contract.
type ValidationSummary struct {
	CanProceed          bool     `json:"can_proceed"`
	TotalChecks         int      `json:"total_checks"`
	Passed              int      `json:"passed"`
	Failed              int      `json:"failed"`
	Warnings            int      `json:"warnings"`
	WarningIssues       []Issue  `json:"warning_issues,omitempty"`
	CriticalIssues      []Issue  `json:"critical_issues,omitempty"`
	EstimatedFixTimeText string  `json:"estimated_fix_time_text,omitempty"`
}

// Role is a User's coarse privilege level.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleUser   Role = "user"
	RoleViewer Role = "viewer"
)

// User is an AuthGate principal authenticated via username+password.
type User struct {
	Username       string   `json:"username"`
	HashedPassword string   `json:"-"`
	Role           Role     `json:"role"`
	TenantID       string   `json:"tenant_id,omitempty"`
	Scopes         []string `json:"scopes"`
	Disabled       bool     `json:"disabled"`
}

// APIKey is an AuthGate principal authenticated via the X-API-Key header.
type APIKey struct {
	Key       string     `json:"-"`
	Name      string      `json:"name"`
	TenantID  string      `json:"tenant_id,omitempty"`
	Scopes    []string    `json:"scopes"`
	ExpiresAt *time.Time  `json:"expires_at,omitempty"`
	Disabled  bool        `json:"disabled"`
}

// Tenant is an isolation boundary users/sessions belong to.
type Tenant struct {
	ID       string                 `json:"id"`
	Name     string                 `json:"name"`
	Settings map[string]interface{} `json:"settings,omitempty"`
	Disabled bool                   `json:"disabled"`
}
