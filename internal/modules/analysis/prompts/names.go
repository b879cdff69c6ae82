package prompts

type PromptName string

const (
	PromptSegmentEntities       PromptName = "segment_entities"
	PromptSegmentRelationships  PromptName = "segment_relationships"
	PromptCrossSegmentRelations PromptName = "cross_segment_relationships"
	PromptNarrativeAnalysis     PromptName = "narrative_analysis"
)
