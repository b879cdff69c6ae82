package prompts

// RegisterAll registers every analysis prompt using RegisterSpec(Spec{...}).
func RegisterAll() {
	RegisterSpec(Spec{
		Name:       PromptSegmentEntities,
		Version:    1,
		SchemaName: "segment_entities",
		Schema:     SegmentEntitiesSchema,
		System: `
You extract story elements from one segment of a narrative document.
Identify characters, locations, events and concepts, their short typed facets, and verbatim mention quotes.
A registry of already-known entities is provided; when a new mention clearly refers to a registry entry, report an existing_match with its registry_index and your confidence.
Never invent entities that are not evidenced in the segment text.
Quotes must be copied verbatim from the segment.
Return JSON only.`,
		User: `
SEGMENT {{.SegmentIndex}} of {{.SegmentCount}}:
{{.SegmentText}}

PREVIOUS SEGMENT (context only; do not extract from it):
{{.PreviousSegmentText}}

KNOWN ENTITY REGISTRY (JSON; registry_index, name, type, aliases, facets):
{{.RegistryJSON}}

Rules:
- entities: every distinct story element evidenced in THIS segment.
- existing_match: null for genuinely new entities; set registry_index only to an index shown above.
- confidence high/medium mean "same entity"; use low when unsure.
- facets: short attributes typed name|appearance|trait|state.
- mentions: verbatim quotes from the segment text with confidence 0-1.`,
		Validators: []Validator{
			RequireNonEmpty("SegmentText", func(in Input) string { return in.SegmentText }),
		},
	})

	RegisterSpec(Spec{
		Name:       PromptSegmentRelationships,
		Version:    1,
		SchemaName: "segment_relationships",
		Schema:     SegmentRelationshipsSchema,
		System: `
You extract relationships between known story entities evidenced strictly within one segment of a narrative document.
Only propose edges between the entity ids provided.
Causal edge types (CAUSES, ENABLES, PREVENTS) require a strength between 0 and 1; all other types must use null strength.
Use HAPPENS_BEFORE only for non-sequential time jumps, and RELATED_TO only when no other type fits.
Return JSON only.`,
		User: `
SEGMENT {{.SegmentIndex}} of {{.SegmentCount}}:
{{.SegmentText}}

ENTITIES PRESENT IN THIS SEGMENT (JSON; id, name, type, key facets):
{{.EntitiesJSON}}

Rules:
- from_entity_id/to_entity_id must be ids from the list above.
- Only report relationships directly evidenced in THIS segment's text.
- description: one short sentence of evidence.`,
		Validators: []Validator{
			RequireNonEmpty("SegmentText", func(in Input) string { return in.SegmentText }),
			RequireNonEmpty("EntitiesJSON", func(in Input) string { return in.EntitiesJSON }),
		},
	})

	RegisterSpec(Spec{
		Name:       PromptCrossSegmentRelations,
		Version:    1,
		SchemaName: "cross_segment_relationships",
		Schema:     CrossSegmentRelationshipsSchema,
		System: `
You extract relationships between story entities whose evidence spans multiple segments of a narrative document.
Only propose edges between the entity ids provided, and do not repeat edges already known.
Causal edge types (CAUSES, ENABLES, PREVENTS) require a strength between 0 and 1; all other types must use null strength.
Return JSON only.`,
		User: `
DOCUMENT SUMMARY (optional):
{{.DocumentSummary}}

ENTITY SEGMENT MEMBERSHIP (JSON; id, name, type, segment indexes where mentioned):
{{.EntitySegmentsJSON}}

ALREADY KNOWN EDGES (JSON; do not duplicate):
{{.KnownEdgesJSON}}

Rules:
- Only report relationships whose evidence requires combining more than one segment.
- from_entity_id/to_entity_id must be ids from the membership list.
- description: one short sentence naming the combined evidence.`,
		Validators: []Validator{
			RequireNonEmpty("EntitySegmentsJSON", func(in Input) string { return in.EntitySegmentsJSON }),
		},
	})

	RegisterSpec(Spec{
		Name:       PromptNarrativeAnalysis,
		Version:    1,
		SchemaName: "narrative_analysis",
		Schema:     NarrativeAnalysisSchema,
		System: `
You analyze the higher-order structure of a narrative: its threads and its character arcs.
Thread candidates computed from the causal graph are provided; merge, split or rename them into coherent named threads, each an ordered list of event ids.
For each character, describe their arc as ordered phases; each phase may name the event id that triggered it, or null when the text never shows a cause.
Return JSON only.`,
		User: `
DOCUMENT SUMMARY (optional):
{{.DocumentSummary}}

EVENTS (JSON; id, name, outgoing causal edges, participant character ids):
{{.EventsJSON}}

CHARACTERS (JSON; id, name, state facets grouped by segment, event ids):
{{.CharactersJSON}}

THREAD CANDIDATES (JSON; connected causal components with involved characters):
{{.ThreadCandidatesJSON}}

Rules:
- threads: mark at most one thread is_primary=true; event_ids must come from EVENTS and be in narrative order.
- arc_phases: one row per (character_id, phase_index); phase_index starts at 0.
- trigger_event_id: an event id from EVENTS, or null when no trigger is evidenced.
- state_facets: short free-text state descriptions for the phase.`,
		Validators: []Validator{
			RequireNonEmpty("EventsJSON", func(in Input) string { return in.EventsJSON }),
			RequireNonEmpty("CharactersJSON", func(in Input) string { return in.CharactersJSON }),
		},
	})
}
