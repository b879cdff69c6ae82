package prompts

// Input is a superset of all fields any prompt might need.
// Missing fields render empty strings (templates use missingkey=zero).
type Input struct {
	// Segment extraction
	SegmentText         string
	SegmentIndex        int
	SegmentCount        int
	PreviousSegmentText string
	RegistryJSON        string

	// Relationship extraction
	EntitiesJSON       string
	EntitySegmentsJSON string
	KnownEdgesJSON     string
	DocumentSummary    string

	// Higher-order analysis
	EventsJSON           string
	CharactersJSON       string
	ThreadCandidatesJSON string
}
