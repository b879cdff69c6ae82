package realtime

import (
	"time"

	"github.com/google/uuid"
)

// AnalysisEvent is published after each completed pipeline stage so clients
// can render progress without polling the document row.
type AnalysisEvent struct {
	DocumentID  uuid.UUID `json:"document_id"`
	Stage       int       `json:"stage"`
	StatusHint  string    `json:"status_hint"`
	EntityCount int       `json:"entity_count,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Channel returns the pub/sub channel for one document's analysis events.
func (e AnalysisEvent) Channel() string {
	return "analysis:" + e.DocumentID.String()
}
