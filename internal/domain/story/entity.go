package story

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Entity types recognized by extraction.
const (
	EntityTypeCharacter = "character"
	EntityTypeLocation  = "location"
	EntityTypeEvent     = "event"
	EntityTypeConcept   = "concept"
	EntityTypeOther     = "other"
)

func IsValidEntityType(t string) bool {
	switch t {
	case EntityTypeCharacter, EntityTypeLocation, EntityTypeEvent,
		EntityTypeConcept, EntityTypeOther:
		return true
	default:
		return false
	}
}

// Facet types.
const (
	FacetTypeName       = "name"
	FacetTypeAppearance = "appearance"
	FacetTypeTrait      = "trait"
	FacetTypeState      = "state"
)

func IsValidFacetType(t string) bool {
	switch t {
	case FacetTypeName, FacetTypeAppearance, FacetTypeTrait, FacetTypeState:
		return true
	default:
		return false
	}
}

type Entity struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	DocumentID uuid.UUID `gorm:"type:uuid;not null;index" json:"document_id"`
	Document   *Document `gorm:"constraint:OnDelete:CASCADE;foreignKey:DocumentID;references:ID" json:"document,omitempty"`

	Name    string         `gorm:"column:name;not null;index" json:"name"`
	Type    string         `gorm:"column:type;not null;index" json:"type"`
	Aliases datatypes.JSON `gorm:"type:jsonb;column:aliases" json:"aliases,omitempty"`

	// DocumentOrder is the index of the first segment the entity appears in.
	DocumentOrder *int `gorm:"column:document_order" json:"document_order,omitempty"`

	MentionCount int            `gorm:"column:mention_count;not null;default:0" json:"mention_count"`
	Embedding    datatypes.JSON `gorm:"type:jsonb;column:embedding" json:"embedding,omitempty"`

	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

// Facet is a short typed attribute of an entity. Facets are append-only;
// duplicates by (type, content) are collapsed before persistence.
type Facet struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	EntityID uuid.UUID `gorm:"type:uuid;not null;index" json:"entity_id"`
	Entity   *Entity   `gorm:"constraint:OnDelete:CASCADE;foreignKey:EntityID;references:ID" json:"entity,omitempty"`

	Type    string `gorm:"column:type;not null;index" json:"type"`
	Content string `gorm:"column:content;type:text;not null" json:"content"`

	Embedding datatypes.JSON `gorm:"type:jsonb;column:embedding" json:"embedding,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

// Mention is a verbatim quote grounding an entity in a segment. Mentions are
// evidence and never mutated after creation.
type Mention struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	EntityID  uuid.UUID `gorm:"type:uuid;not null;index" json:"entity_id"`
	Entity    *Entity   `gorm:"constraint:OnDelete:CASCADE;foreignKey:EntityID;references:ID" json:"entity,omitempty"`
	SegmentID uuid.UUID `gorm:"type:uuid;not null;index" json:"segment_id"`
	Segment   *Segment  `gorm:"constraint:OnDelete:CASCADE;foreignKey:SegmentID;references:ID" json:"segment,omitempty"`

	Quote string `gorm:"column:quote;type:text;not null" json:"quote"`

	// StartOffset is the absolute offset of the quote in the document text.
	StartOffset     int     `gorm:"column:start_offset;not null" json:"start_offset"`
	DocumentVersion int     `gorm:"column:document_version;not null" json:"document_version"`
	Confidence      float64 `gorm:"column:confidence;not null;default:0" json:"confidence"`
	Source          string  `gorm:"column:source" json:"source,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}
