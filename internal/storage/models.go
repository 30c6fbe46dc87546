package storage

import (
	"errors"
	"time"

	"github.com/kalambet/msgforge/internal/gate"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a conditional update finds the record in an
// unexpected state (another writer got there first).
var ErrConflict = errors.New("conflict")

// Generation job statuses.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// Action job statuses.
const (
	ActionRunning   = "running"
	ActionCompleted = "completed"
	ActionFailed    = "failed"
	ActionCancelled = "cancelled"
)

// Variant review statuses.
const (
	ReviewPending  = "pending"
	ReviewApproved = "approved"
	ReviewRejected = "rejected"
	ReviewSelected = "selected"
)

// Version source tags.
const (
	SourceEdit       = "edit"
	SourceGeneration = "generation"
	SourceAction     = "action"
)

type PainPointMetadata struct {
	Topics []string `json:"topics,omitempty"`
	Tools  []string `json:"tools,omitempty"`
	Roles  []string `json:"roles,omitempty"`
}

type PainPoint struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Content   string            `json:"content"`
	Source    string            `json:"source"`
	SourceURL string            `json:"source_url"`
	Keywords  []string          `json:"keywords"`
	Metadata  PainPointMetadata `json:"metadata"`
	CreatedAt time.Time         `json:"created_at"`
}

type VoiceProfile struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Guide      string          `json:"guide"`
	Thresholds gate.Thresholds `json:"thresholds"`
	CreatedAt  time.Time       `json:"created_at"`
}

type ReferenceDoc struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Content     string    `json:"content"`
	Tags        []string  `json:"tags"`
	CreatedAt   time.Time `json:"created_at"`
}

type GenerationJob struct {
	ID              string     `json:"id"`
	Status          string     `json:"status"`
	PainPointID     string     `json:"pain_point_id"`
	VoiceProfileIDs []string   `json:"voice_profile_ids"`
	AssetTypes      []string   `json:"asset_types"`
	Attempts        int        `json:"attempts"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	ErrorStack      string     `json:"error_stack,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// ScorerHealth records which scoring dimensions produced a real score and
// which fell back to the neutral default.
type ScorerHealth struct {
	Succeeded int      `json:"succeeded"`
	Failed    []string `json:"failed"`
	Total     int      `json:"total"`
}

// Variant is one generated candidate together with its quality scores.
// Whether it passes the gate is derived from Scores and the owning voice
// profile's thresholds; it is not stored.
type Variant struct {
	ID             string       `json:"id"`
	JobID          string       `json:"job_id"`
	PainPointID    string       `json:"pain_point_id"`
	VoiceProfileID string       `json:"voice_profile_id"`
	AssetType      string       `json:"asset_type"`
	VariantIndex   int          `json:"variant_index"`
	Content        string       `json:"content"`
	Scores         gate.Scores  `json:"scores"`
	Health         ScorerHealth `json:"health"`
	ReviewStatus   string       `json:"review_status"`
	CreatedAt      time.Time    `json:"created_at"`
}

type SessionVersion struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"session_id"`
	AssetType     string    `json:"asset_type"`
	VersionNumber int       `json:"version_number"`
	Content       string    `json:"content"`
	Source        string    `json:"source"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
}

type ActionJob struct {
	ID           string     `json:"id"`
	SessionID    string     `json:"session_id"`
	AssetType    string     `json:"asset_type"`
	ActionName   string     `json:"action_name"`
	Status       string     `json:"status"`
	Progress     int        `json:"progress"`
	CurrentStep  string     `json:"current_step,omitempty"`
	Result       string     `json:"result,omitempty"` // JSON
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

type ScheduleConfig struct {
	Source string `json:"source"`
	Query  string `json:"query,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

type DiscoverySchedule struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Config    ScheduleConfig `json:"config"`
	IsActive  bool           `json:"is_active"`
	NextRunAt *time.Time     `json:"next_run_at,omitempty"`
	LastRunAt *time.Time     `json:"last_run_at,omitempty"`
	LastError string         `json:"last_error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
