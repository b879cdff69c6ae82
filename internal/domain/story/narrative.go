package story

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Arc types.
const (
	ArcTypeTransformation = "transformation"
	ArcTypeGrowth         = "growth"
	ArcTypeFall           = "fall"
	ArcTypeRevelation     = "revelation"
	ArcTypeStatic         = "static"
)

func IsValidArcType(t string) bool {
	switch t {
	case ArcTypeTransformation, ArcTypeGrowth, ArcTypeFall,
		ArcTypeRevelation, ArcTypeStatic:
		return true
	default:
		return false
	}
}

// Thread is a named, ordered subsequence of event entities.
type Thread struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	DocumentID uuid.UUID `gorm:"type:uuid;not null;index" json:"document_id"`

	Name      string `gorm:"column:name;not null" json:"name"`
	IsPrimary bool   `gorm:"column:is_primary;not null;default:false" json:"is_primary"`

	// EventIDs is the ordered member event list ([]uuid.UUID as JSON).
	EventIDs datatypes.JSON `gorm:"type:jsonb;column:event_ids" json:"event_ids"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

// Arc tracks one character entity's trajectory across the document.
type Arc struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	DocumentID uuid.UUID `gorm:"type:uuid;not null;index" json:"document_id"`
	EntityID   uuid.UUID `gorm:"type:uuid;not null;index" json:"entity_id"`

	ArcType string `gorm:"column:arc_type;not null" json:"arc_type"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

// ArcState is one phase of an arc. Phases are ordered by PhaseIndex; only
// the last phase is marked current.
type ArcState struct {
	ID    uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ArcID uuid.UUID `gorm:"type:uuid;not null;index" json:"arc_id"`
	Arc   *Arc      `gorm:"constraint:OnDelete:CASCADE;foreignKey:ArcID;references:ID" json:"arc,omitempty"`

	PhaseIndex    int    `gorm:"column:phase_index;not null" json:"phase_index"`
	PhaseName     string `gorm:"column:phase_name;not null" json:"phase_name"`
	DocumentOrder int    `gorm:"column:document_order;not null" json:"document_order"`
	CausalOrder   int    `gorm:"column:causal_order;not null;default:0" json:"causal_order"`

	// TriggerEventID is the event causing the transition into this phase.
	// Nil on a non-first phase signals a detected narrative gap.
	TriggerEventID *uuid.UUID `gorm:"type:uuid;column:trigger_event_id" json:"trigger_event_id,omitempty"`
	HasGap         bool       `gorm:"column:has_gap;not null;default:false" json:"has_gap"`
	IsCurrent      bool       `gorm:"column:is_current;not null;default:false" json:"is_current"`

	// FacetIDs are persisted facets linked to this phase ([]uuid.UUID as JSON).
	FacetIDs  datatypes.JSON `gorm:"type:jsonb;column:facet_ids" json:"facet_ids,omitempty"`
	Embedding datatypes.JSON `gorm:"type:jsonb;column:embedding" json:"embedding,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}
