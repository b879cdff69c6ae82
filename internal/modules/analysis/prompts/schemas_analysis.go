package prompts

func SegmentEntitiesSchema() map[string]any {
	facet := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"type":    EnumSchema("name", "appearance", "trait", "state"),
			"content": StringSchema(),
		},
		"required":             []string{"type", "content"},
		"additionalProperties": false,
	}

	mention := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"quote":      StringSchema(),
			"confidence": NumberSchema(),
		},
		"required":             []string{"quote", "confidence"},
		"additionalProperties": false,
	}

	existingMatch := map[string]any{
		"type": []any{"object", "null"},
		"properties": map[string]any{
			"registry_index": IntSchema(),
			"confidence":     EnumSchema("high", "medium", "low"),
			"reason":         StringSchema(),
		},
		"required":             []string{"registry_index", "confidence", "reason"},
		"additionalProperties": false,
	}

	entity := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":           StringSchema(),
			"type":           EnumSchema("character", "location", "event", "concept", "other"),
			"aliases":        StringArraySchema(),
			"facets":         map[string]any{"type": "array", "items": facet},
			"mentions":       map[string]any{"type": "array", "items": mention},
			"existing_match": existingMatch,
		},
		"required": []string{
			"name",
			"type",
			"aliases",
			"facets",
			"mentions",
			"existing_match",
		},
		"additionalProperties": false,
	}

	return SchemaVersionedObject(1, map[string]any{
		"entities": map[string]any{"type": "array", "items": entity},
	}, []string{"entities"})
}

func relationshipEdgeSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"from_entity_id": StringSchema(),
			"to_entity_id":   StringSchema(),
			"type": EnumSchema(
				"CAUSES", "ENABLES", "PREVENTS", "HAPPENS_BEFORE",
				"PARTICIPATES_IN", "LOCATED_AT", "PART_OF", "MEMBER_OF",
				"POSSESSES", "CONNECTED_TO", "OPPOSES", "ABOUT",
				"RELATED_TO",
			),
			"description": StringSchema(),
			"strength":    NumberOrNullSchema(),
		},
		"required": []string{
			"from_entity_id",
			"to_entity_id",
			"type",
			"description",
			"strength",
		},
		"additionalProperties": false,
	}
}

func SegmentRelationshipsSchema() map[string]any {
	return SchemaVersionedObject(1, map[string]any{
		"relationships": map[string]any{"type": "array", "items": relationshipEdgeSchema()},
	}, []string{"relationships"})
}

func CrossSegmentRelationshipsSchema() map[string]any {
	return SchemaVersionedObject(1, map[string]any{
		"relationships": map[string]any{"type": "array", "items": relationshipEdgeSchema()},
	}, []string{"relationships"})
}

func NarrativeAnalysisSchema() map[string]any {
	thread := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":       StringSchema(),
			"is_primary": BoolSchema(),
			"event_ids":  StringArraySchema(),
		},
		"required":             []string{"name", "is_primary", "event_ids"},
		"additionalProperties": false,
	}

	arcPhase := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"character_id": StringSchema(),
			"phase_index":  IntSchema(),
			"phase_name":   StringSchema(),
			"arc_type": EnumSchema(
				"transformation", "growth", "fall", "revelation", "static",
			),
			"trigger_event_id": StringOrNullSchema(),
			"state_facets":     StringArraySchema(),
		},
		"required": []string{
			"character_id",
			"phase_index",
			"phase_name",
			"arc_type",
			"trigger_event_id",
			"state_facets",
		},
		"additionalProperties": false,
	}

	return SchemaVersionedObject(1, map[string]any{
		"threads":    map[string]any{"type": "array", "items": thread},
		"arc_phases": map[string]any{"type": "array", "items": arcPhase},
	}, []string{"threads", "arc_phases"})
}
