package story

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Analysis lifecycle states for a document.
const (
	AnalysisStatusIdle       = "idle"
	AnalysisStatusQueued     = "queued"
	AnalysisStatusAnalyzing  = "analyzing"
	AnalysisStatusPausing    = "pausing"
	AnalysisStatusPaused     = "paused"
	AnalysisStatusCancelling = "cancelling"
	AnalysisStatusComplete   = "complete"
	AnalysisStatusFailed     = "failed"
)

type Document struct {
	ID          uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OwnerUserID uuid.UUID `gorm:"type:uuid;not null;index" json:"owner_user_id"`

	Title   string `gorm:"column:title" json:"title"`
	Content string `gorm:"column:content;type:text;not null" json:"content"`

	// Version increments on every content edit; a checkpoint taken against an
	// older version is discarded on resume.
	Version int `gorm:"column:version;not null;default:1" json:"version"`

	AnalysisStatus     string         `gorm:"column:analysis_status;index;not null;default:idle" json:"analysis_status"`
	AnalysisError      string         `gorm:"column:analysis_error" json:"analysis_error,omitempty"`
	AnalysisCheckpoint datatypes.JSON `gorm:"type:jsonb;column:analysis_checkpoint" json:"analysis_checkpoint,omitempty"`
	AnalyzedAt         *time.Time     `gorm:"column:analyzed_at" json:"analyzed_at,omitempty"`

	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}
