package story

import "github.com/google/uuid"

// Match confidence levels reported by the extraction service.
const (
	MatchConfidenceHigh   = "high"
	MatchConfidenceMedium = "medium"
	MatchConfidenceLow    = "low"
)

// ExistingMatch is the extraction service's claim that a newly seen entity
// is the same as a registry entry. Low confidence never merges; it is
// recorded as a merge signal instead.
type ExistingMatch struct {
	RegistryIndex int    `json:"registry_index"`
	Confidence    string `json:"confidence"`
	Reason        string `json:"reason,omitempty"`
}

// ExtractedFacet is a facet proposal prior to persistence.
type ExtractedFacet struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// ExtractedMention is a mention proposal prior to grounding.
type ExtractedMention struct {
	Quote      string  `json:"quote"`
	Confidence float64 `json:"confidence"`
}

// ExtractedEntity is one entity occurrence in one segment, carrying its
// resolved durable id once identity has been decided.
type ExtractedEntity struct {
	Name          string             `json:"name"`
	Type          string             `json:"type"`
	Aliases       []string           `json:"aliases,omitempty"`
	Facets        []ExtractedFacet   `json:"facets,omitempty"`
	Mentions      []ExtractedMention `json:"mentions,omitempty"`
	ExistingMatch *ExistingMatch     `json:"existing_match,omitempty"`

	SegmentIndex int       `json:"segment_index"`
	ResolvedID   uuid.UUID `json:"resolved_id"`
}

// MergeSignal records a low-confidence identity match kept for later review.
type MergeSignal struct {
	EntityName    string `json:"entity_name"`
	RegistryIndex int    `json:"registry_index"`
	RegistryName  string `json:"registry_name,omitempty"`
	Reason        string `json:"reason,omitempty"`
	SegmentIndex  int    `json:"segment_index"`
}
