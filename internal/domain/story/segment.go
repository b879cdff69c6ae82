package story

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Segment struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	DocumentID uuid.UUID `gorm:"type:uuid;not null;index" json:"document_id"`
	Document   *Document `gorm:"constraint:OnDelete:CASCADE;foreignKey:DocumentID;references:ID" json:"document,omitempty"`

	Index       int    `gorm:"column:index;not null" json:"index"`
	Text        string `gorm:"column:text;type:text;not null" json:"text"`
	StartOffset int    `gorm:"column:start_offset;not null" json:"start_offset"`
	EndOffset   int    `gorm:"column:end_offset;not null" json:"end_offset"`

	Embedding datatypes.JSON `gorm:"type:jsonb;column:embedding" json:"embedding,omitempty"`

	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}
