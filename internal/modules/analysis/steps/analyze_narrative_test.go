package steps

import (
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/storygraph-backend/internal/domain/story"
)

func TestDetectThreadCandidatesSingletons(t *testing.T) {
	events := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}

	components := DetectThreadCandidates(events, nil)
	if len(components) != len(events) {
		t.Fatalf("components = %d, want %d singletons", len(components), len(events))
	}
	for i, c := range components {
		if len(c) != 1 {
			t.Fatalf("component %d has %d members, want 1", i, len(c))
		}
	}
}

func TestDetectThreadCandidatesCausalEdgeMerges(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	strength := 0.7
	edges := []story.Relationship{
		{FromEntityID: a, ToEntityID: b, Type: story.RelCauses, Strength: &strength},
		// structural edges do not join components
		{FromEntityID: b, ToEntityID: c, Type: story.RelConnectedTo},
	}

	components := DetectThreadCandidates([]uuid.UUID{a, b, c}, edges)
	if len(components) != 2 {
		t.Fatalf("components = %d, want 2", len(components))
	}
	sizes := map[int]int{}
	for _, comp := range components {
		sizes[len(comp)]++
	}
	if sizes[2] != 1 || sizes[1] != 1 {
		t.Fatalf("unexpected component sizes: %v", sizes)
	}
}

func TestCausalTopoOrderFollowsEdges(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	strength := 1.0
	edges := []story.Relationship{
		{FromEntityID: a, ToEntityID: b, Type: story.RelCauses, Strength: &strength},
		{FromEntityID: b, ToEntityID: c, Type: story.RelEnables, Strength: &strength},
	}

	order := causalTopoOrder([]uuid.UUID{c, b, a}, edges)
	if !(order[a] < order[b] && order[b] < order[c]) {
		t.Fatalf("topological order violated: %v %v %v", order[a], order[b], order[c])
	}
}

func TestParseArcsOrdersPhases(t *testing.T) {
	docID := uuid.New()
	charID := uuid.New()
	trigger := uuid.New()
	entityByID := map[uuid.UUID]*story.Entity{
		charID: {ID: charID, DocumentID: docID, Name: "Jonathan", Type: story.EntityTypeCharacter},
	}
	isEvent := map[uuid.UUID]bool{trigger: true}

	phaseRow := func(idx int, name string, triggerID any) map[string]any {
		return map[string]any{
			"character_id":     charID.String(),
			"phase_index":      idx,
			"phase_name":       name,
			"arc_type":         "transformation",
			"trigger_event_id": triggerID,
			"state_facets":     []any{},
		}
	}
	// phases arrive out of order and the middle one has no trigger
	obj := map[string]any{"arc_phases": []any{
		phaseRow(2, "resolved", trigger.String()),
		phaseRow(0, "naive", nil),
		phaseRow(1, "afraid", nil),
	}}

	arcs, states := parseArcs(testLogger(t), AnalyzeNarrativeInput{DocumentID: docID}, obj, entityByID, isEvent, map[uuid.UUID]int{trigger: 3})
	if len(arcs) != 1 {
		t.Fatalf("arcs = %d, want 1", len(arcs))
	}
	if arcs[0].ArcType != story.ArcTypeTransformation || arcs[0].EntityID != charID {
		t.Fatalf("arc fields wrong: %+v", arcs[0])
	}
	if len(states) != 3 {
		t.Fatalf("states = %d, want 3", len(states))
	}
	for i, st := range states {
		if st.PhaseIndex != i {
			t.Fatalf("state %d has phase index %d, want ascending", i, st.PhaseIndex)
		}
		if got, want := st.IsCurrent, i == len(states)-1; got != want {
			t.Fatalf("state %d current = %v, want %v", i, got, want)
		}
	}
	if states[0].HasGap {
		t.Fatalf("first phase never has a gap")
	}
	if !states[1].HasGap {
		t.Fatalf("untriggered non-first phase must flag a gap")
	}
	if states[2].HasGap || states[2].TriggerEventID == nil || *states[2].TriggerEventID != trigger {
		t.Fatalf("triggered phase mishandled: %+v", states[2])
	}
	if states[2].CausalOrder != 3 {
		t.Fatalf("causal order = %d, want 3", states[2].CausalOrder)
	}

	// same input yields the same arc and state ids
	arcs2, states2 := parseArcs(testLogger(t), AnalyzeNarrativeInput{DocumentID: docID}, obj, entityByID, isEvent, nil)
	if arcs[0].ID != arcs2[0].ID || states[0].ID != states2[0].ID {
		t.Fatalf("arc ids are not deterministic")
	}
}

func TestParseArcsFirstPhaseNeverGapsAtHighIndex(t *testing.T) {
	docID := uuid.New()
	charID := uuid.New()
	entityByID := map[uuid.UUID]*story.Entity{
		charID: {ID: charID, DocumentID: docID, Name: "Mina", Type: story.EntityTypeCharacter},
	}

	// reported indices start at 2; gap detection follows position, not the
	// reported index
	obj := map[string]any{"arc_phases": []any{
		map[string]any{
			"character_id":     charID.String(),
			"phase_index":      2,
			"phase_name":       "uneasy",
			"arc_type":         "growth",
			"trigger_event_id": nil,
			"state_facets":     []any{},
		},
		map[string]any{
			"character_id":     charID.String(),
			"phase_index":      3,
			"phase_name":       "determined",
			"arc_type":         "growth",
			"trigger_event_id": nil,
			"state_facets":     []any{},
		},
	}}

	_, states := parseArcs(testLogger(t), AnalyzeNarrativeInput{DocumentID: docID}, obj, entityByID, nil, nil)
	if len(states) != 2 {
		t.Fatalf("states = %d, want 2", len(states))
	}
	if states[0].HasGap {
		t.Fatalf("first persisted phase flagged a gap with no incoming change")
	}
	if !states[1].HasGap {
		t.Fatalf("untriggered later phase must flag a gap")
	}
}

func TestMatchStateFacetsSubstring(t *testing.T) {
	entityID := uuid.New()
	stateFacet := &story.Facet{
		ID:       uuid.New(),
		EntityID: entityID,
		Type:     story.FacetTypeState,
		Content:  "grieving his brother",
	}
	traitFacet := &story.Facet{
		ID:       uuid.New(),
		EntityID: entityID,
		Type:     story.FacetTypeTrait,
		Content:  "grieving",
	}

	ids, _ := matchStateFacets([]string{"Grieving"}, []*story.Facet{stateFacet, traitFacet})
	if ids == nil {
		t.Fatalf("expected the state facet to match")
	}
	// only state-typed facets are eligible
	if want := `["` + stateFacet.ID.String() + `"]`; string(ids) != want {
		t.Fatalf("facet ids = %s, want %s", ids, want)
	}

	if ids, _ := matchStateFacets([]string{"triumphant"}, []*story.Facet{stateFacet}); ids != nil {
		t.Fatalf("unrelated state text should not match")
	}
}
