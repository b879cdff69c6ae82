package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/yungbote/storygraph-backend/internal/data/graph"
	storyrepos "github.com/yungbote/storygraph-backend/internal/data/repos/story"
	"github.com/yungbote/storygraph-backend/internal/domain/story"
	"github.com/yungbote/storygraph-backend/internal/modules/analysis/prompts"
	"github.com/yungbote/storygraph-backend/internal/platform/dbctx"
	"github.com/yungbote/storygraph-backend/internal/platform/logger"
	"github.com/yungbote/storygraph-backend/internal/platform/openai"
)

type AnalyzeNarrativeDeps struct {
	Log     *logger.Logger
	AI      openai.Client
	Graph   graph.Store
	Threads storyrepos.ThreadRepo
	Arcs    storyrepos.ArcRepo
}

type AnalyzeNarrativeInput struct {
	DocumentID uuid.UUID
	Entities   []*story.Entity
	Facets     []*story.Facet
	Extracted  []story.ExtractedEntity
}

type AnalyzeNarrativeOutput struct {
	Threads []*story.Thread
	Arcs    []*story.Arc
	States  []*story.ArcState
}

// AnalyzeNarrative derives named threads and character arcs from the causal
// event graph. Documents with fewer than two event entities have no
// higher-order structure worth naming and are skipped.
func AnalyzeNarrative(ctx context.Context, deps AnalyzeNarrativeDeps, in AnalyzeNarrativeInput) (AnalyzeNarrativeOutput, error) {
	var out AnalyzeNarrativeOutput
	if deps.Log == nil || deps.AI == nil || deps.Graph == nil || deps.Threads == nil || deps.Arcs == nil {
		return out, fmt.Errorf("narrative: missing deps")
	}
	if in.DocumentID == uuid.Nil {
		return out, fmt.Errorf("narrative: missing document_id")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	log := deps.Log.With("step", "AnalyzeNarrative", "document_id", in.DocumentID.String())
	dbc := dbctx.Context{Ctx: ctx}

	entityByID := entityIndex(in.Entities)
	var events, characters []*story.Entity
	for _, e := range in.Entities {
		switch e.Type {
		case story.EntityTypeEvent:
			events = append(events, e)
		case story.EntityTypeCharacter:
			characters = append(characters, e)
		}
	}
	if len(events) < 2 {
		log.Info("fewer than two events, skipping narrative analysis", "events", len(events))
		return out, nil
	}

	edges, err := deps.Graph.Relationships(ctx, in.DocumentID)
	if err != nil {
		return out, fmt.Errorf("narrative: load edges: %w", err)
	}

	eventIDs := make([]uuid.UUID, len(events))
	for i, e := range events {
		eventIDs[i] = e.ID
	}
	candidates := DetectThreadCandidates(eventIDs, edges)
	causalOrder := causalTopoOrder(eventIDs, edges)

	// Participants: character -> events, via PARTICIPATES_IN in either
	// direction.
	isEvent := map[uuid.UUID]bool{}
	for _, id := range eventIDs {
		isEvent[id] = true
	}
	participants := map[uuid.UUID][]uuid.UUID{}
	eventCharacters := map[uuid.UUID][]uuid.UUID{}
	for _, rel := range edges {
		if rel.Type != story.RelParticipatesIn {
			continue
		}
		char, event := rel.FromEntityID, rel.ToEntityID
		if !isEvent[event] {
			char, event = rel.ToEntityID, rel.FromEntityID
		}
		if !isEvent[event] || isEvent[char] {
			continue
		}
		participants[char] = append(participants[char], event)
		eventCharacters[event] = append(eventCharacters[event], char)
	}

	p, err := buildNarrativePrompt(in, events, characters, edges, candidates, eventCharacters, participants)
	if err != nil {
		return out, err
	}
	obj, err := generateStructured(ctx, log, deps.AI, p, validateNarrative)
	if err != nil {
		return out, err
	}

	out.Threads = parseThreads(in.DocumentID, obj, isEvent)
	if err := deps.Threads.Upsert(dbc, out.Threads); err != nil {
		return out, fmt.Errorf("narrative: store threads: %w", err)
	}

	arcs, states := parseArcs(log, in, obj, entityByID, isEvent, causalOrder)
	if err := deps.Arcs.UpsertArcs(dbc, arcs); err != nil {
		return out, fmt.Errorf("narrative: store arcs: %w", err)
	}
	if err := deps.Arcs.UpsertStates(dbc, states); err != nil {
		return out, fmt.Errorf("narrative: store arc states: %w", err)
	}
	out.Arcs = arcs
	out.States = states

	if deps.Graph != nil {
		if err := deps.Graph.UpsertThreads(ctx, in.DocumentID, out.Threads); err != nil {
			log.Warn("graph thread sync failed (continuing)", "error", err.Error())
		}
		if err := deps.Graph.UpsertArcs(ctx, in.DocumentID, arcs, states); err != nil {
			log.Warn("graph arc sync failed (continuing)", "error", err.Error())
		}
	}

	log.Info("narrative analysis complete",
		"threads", len(out.Threads),
		"arcs", len(arcs),
		"states", len(states),
	)
	return out, nil
}

// DetectThreadCandidates partitions event entities into connected components
// of the causal subgraph. Events with no causal edges form singleton
// components.
func DetectThreadCandidates(eventIDs []uuid.UUID, edges []story.Relationship) [][]uuid.UUID {
	isEvent := map[uuid.UUID]bool{}
	for _, id := range eventIDs {
		isEvent[id] = true
	}
	adj := map[uuid.UUID][]uuid.UUID{}
	for _, rel := range edges {
		if !story.IsCausalRelType(rel.Type) || !isEvent[rel.FromEntityID] || !isEvent[rel.ToEntityID] {
			continue
		}
		adj[rel.FromEntityID] = append(adj[rel.FromEntityID], rel.ToEntityID)
		adj[rel.ToEntityID] = append(adj[rel.ToEntityID], rel.FromEntityID)
	}

	visited := map[uuid.UUID]bool{}
	var components [][]uuid.UUID
	for _, start := range eventIDs {
		if visited[start] {
			continue
		}
		var component []uuid.UUID
		stack := []uuid.UUID{start}
		visited[start] = true
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			component = append(component, cur)
			for _, next := range adj[cur] {
				if !visited[next] {
					visited[next] = true
					stack = append(stack, next)
				}
			}
		}
		sort.Slice(component, func(i, j int) bool { return component[i].String() < component[j].String() })
		components = append(components, component)
	}
	return components
}

// causalTopoOrder ranks events by a Kahn topological sort over causal edges.
// The causal subgraph is acyclic by construction of the insert path.
func causalTopoOrder(eventIDs []uuid.UUID, edges []story.Relationship) map[uuid.UUID]int {
	isEvent := map[uuid.UUID]bool{}
	for _, id := range eventIDs {
		isEvent[id] = true
	}
	indegree := map[uuid.UUID]int{}
	succ := map[uuid.UUID][]uuid.UUID{}
	for _, id := range eventIDs {
		indegree[id] = 0
	}
	for _, rel := range edges {
		if !story.IsCausalRelType(rel.Type) || !isEvent[rel.FromEntityID] || !isEvent[rel.ToEntityID] {
			continue
		}
		succ[rel.FromEntityID] = append(succ[rel.FromEntityID], rel.ToEntityID)
		indegree[rel.ToEntityID]++
	}

	var queue []uuid.UUID
	for _, id := range eventIDs {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	sort.Slice(queue, func(i, j int) bool { return queue[i].String() < queue[j].String() })

	order := map[uuid.UUID]int{}
	rank := 0
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		order[cur] = rank
		rank++
		for _, next := range succ[cur] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	return order
}

func buildNarrativePrompt(
	in AnalyzeNarrativeInput,
	events, characters []*story.Entity,
	edges []story.Relationship,
	candidates [][]uuid.UUID,
	eventCharacters map[uuid.UUID][]uuid.UUID,
	participants map[uuid.UUID][]uuid.UUID,
) (prompts.Prompt, error) {
	facetsByEntity := facetIndex(in.Facets)
	firstSegment := map[uuid.UUID]int{}
	for _, occ := range in.Extracted {
		if occ.ResolvedID == uuid.Nil {
			continue
		}
		if cur, ok := firstSegment[occ.ResolvedID]; !ok || occ.SegmentIndex < cur {
			firstSegment[occ.ResolvedID] = occ.SegmentIndex
		}
	}

	type causalOut struct {
		To       string   `json:"to"`
		Type     string   `json:"type"`
		Strength *float64 `json:"strength,omitempty"`
	}
	type eventEntry struct {
		ID           string      `json:"id"`
		Name         string      `json:"name"`
		FirstSegment int         `json:"first_segment"`
		Causes       []causalOut `json:"causes,omitempty"`
		Characters   []string    `json:"character_ids,omitempty"`
	}
	causalByFrom := map[uuid.UUID][]causalOut{}
	for _, rel := range edges {
		if !story.IsCausalRelType(rel.Type) {
			continue
		}
		causalByFrom[rel.FromEntityID] = append(causalByFrom[rel.FromEntityID], causalOut{
			To:       rel.ToEntityID.String(),
			Type:     rel.Type,
			Strength: rel.Strength,
		})
	}
	eventPayload := make([]eventEntry, 0, len(events))
	for _, e := range events {
		entry := eventEntry{
			ID:           e.ID.String(),
			Name:         e.Name,
			FirstSegment: firstSegment[e.ID],
			Causes:       causalByFrom[e.ID],
		}
		for _, c := range eventCharacters[e.ID] {
			entry.Characters = append(entry.Characters, c.String())
		}
		eventPayload = append(eventPayload, entry)
	}
	eventsJSON, _ := json.Marshal(eventPayload)

	type characterEntry struct {
		ID          string   `json:"id"`
		Name        string   `json:"name"`
		StateFacets []string `json:"state_facets,omitempty"`
		EventIDs    []string `json:"event_ids,omitempty"`
	}
	characterPayload := make([]characterEntry, 0, len(characters))
	for _, c := range characters {
		entry := characterEntry{ID: c.ID.String(), Name: c.Name}
		for _, f := range facetsByEntity[c.ID] {
			if f.Type == story.FacetTypeState {
				entry.StateFacets = append(entry.StateFacets, f.Content)
			}
		}
		for _, ev := range participants[c.ID] {
			entry.EventIDs = append(entry.EventIDs, ev.String())
		}
		characterPayload = append(characterPayload, entry)
	}
	charactersJSON, _ := json.Marshal(characterPayload)

	type candidateEntry struct {
		EventIDs     []string `json:"event_ids"`
		CharacterIDs []string `json:"character_ids,omitempty"`
	}
	candidatePayload := make([]candidateEntry, 0, len(candidates))
	for _, component := range candidates {
		entry := candidateEntry{}
		chars := map[uuid.UUID]bool{}
		for _, ev := range component {
			entry.EventIDs = append(entry.EventIDs, ev.String())
			for _, c := range eventCharacters[ev] {
				chars[c] = true
			}
		}
		for c := range chars {
			entry.CharacterIDs = append(entry.CharacterIDs, c.String())
		}
		sort.Strings(entry.CharacterIDs)
		candidatePayload = append(candidatePayload, entry)
	}
	candidatesJSON, _ := json.Marshal(candidatePayload)

	return prompts.Build(prompts.PromptNarrativeAnalysis, prompts.Input{
		EventsJSON:           string(eventsJSON),
		CharactersJSON:       string(charactersJSON),
		ThreadCandidatesJSON: string(candidatesJSON),
	})
}

func validateNarrative(obj map[string]any) error {
	threads, ok := obj["threads"].([]any)
	if !ok {
		return fmt.Errorf("threads array missing")
	}
	for _, item := range threads {
		m, ok := item.(map[string]any)
		if !ok {
			return fmt.Errorf("thread item is not an object")
		}
		if asString(m["name"]) == "" {
			return fmt.Errorf("thread with empty name")
		}
	}
	phases, ok := obj["arc_phases"].([]any)
	if !ok {
		return fmt.Errorf("arc_phases array missing")
	}
	for _, item := range phases {
		m, ok := item.(map[string]any)
		if !ok {
			return fmt.Errorf("arc phase item is not an object")
		}
		if asString(m["character_id"]) == "" {
			return fmt.Errorf("arc phase with empty character_id")
		}
	}
	return nil
}

func parseThreads(documentID uuid.UUID, obj map[string]any, isEvent map[uuid.UUID]bool) []*story.Thread {
	threadsAny, _ := obj["threads"].([]any)
	var out []*story.Thread
	primarySeen := false
	seenNames := map[string]bool{}
	for _, item := range threadsAny {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name := asString(m["name"])
		if name == "" || seenNames[strings.ToLower(name)] {
			continue
		}
		seenNames[strings.ToLower(name)] = true

		var eventIDs []uuid.UUID
		for _, raw := range stringSliceFromAny(m["event_ids"]) {
			id, err := uuid.Parse(raw)
			if err != nil || !isEvent[id] {
				continue
			}
			eventIDs = append(eventIDs, id)
		}
		if len(eventIDs) == 0 {
			continue
		}

		isPrimary := false
		if b, ok := m["is_primary"].(bool); ok && b && !primarySeen {
			isPrimary = true
			primarySeen = true
		}
		idsJSON, _ := json.Marshal(eventIDs)
		out = append(out, &story.Thread{
			ID:         deterministicUUID("story_thread|" + documentID.String() + "|" + strings.ToLower(name)),
			DocumentID: documentID,
			Name:       name,
			IsPrimary:  isPrimary,
			EventIDs:   idsJSON,
		})
	}
	return out
}

func parseArcs(
	log *logger.Logger,
	in AnalyzeNarrativeInput,
	obj map[string]any,
	entityByID map[uuid.UUID]*story.Entity,
	isEvent map[uuid.UUID]bool,
	causalOrder map[uuid.UUID]int,
) ([]*story.Arc, []*story.ArcState) {
	facetsByEntity := facetIndex(in.Facets)

	type phase struct {
		index    int
		name     string
		arcType  string
		trigger  *uuid.UUID
		stateTxt []string
	}
	byCharacter := map[uuid.UUID][]phase{}
	arcTypeFor := map[uuid.UUID]string{}

	phasesAny, _ := obj["arc_phases"].([]any)
	for _, item := range phasesAny {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		charID, err := uuid.Parse(asString(m["character_id"]))
		if err != nil {
			continue
		}
		e := entityByID[charID]
		if e == nil || e.Type != story.EntityTypeCharacter {
			log.Debug("arc phase references unknown character, skipping", "character_id", asString(m["character_id"]))
			continue
		}
		idx, ok := asInt(m["phase_index"])
		if !ok || idx < 0 {
			continue
		}
		ph := phase{
			index:    idx,
			name:     asString(m["phase_name"]),
			arcType:  asString(m["arc_type"]),
			stateTxt: stringSliceFromAny(m["state_facets"]),
		}
		if raw := asString(m["trigger_event_id"]); raw != "" {
			if trig, err := uuid.Parse(raw); err == nil && isEvent[trig] {
				ph.trigger = &trig
			}
		}
		byCharacter[charID] = append(byCharacter[charID], ph)
		if story.IsValidArcType(ph.arcType) && arcTypeFor[charID] == "" {
			arcTypeFor[charID] = ph.arcType
		}
	}

	charIDs := make([]uuid.UUID, 0, len(byCharacter))
	for id := range byCharacter {
		charIDs = append(charIDs, id)
	}
	sort.Slice(charIDs, func(i, j int) bool { return charIDs[i].String() < charIDs[j].String() })

	var arcs []*story.Arc
	var states []*story.ArcState
	for _, charID := range charIDs {
		phases := byCharacter[charID]
		sort.SliceStable(phases, func(i, j int) bool { return phases[i].index < phases[j].index })

		arcType := arcTypeFor[charID]
		if arcType == "" {
			arcType = story.ArcTypeStatic
		}
		arc := &story.Arc{
			ID:         deterministicUUID("story_arc|" + in.DocumentID.String() + "|" + charID.String()),
			DocumentID: in.DocumentID,
			EntityID:   charID,
			ArcType:    arcType,
		}
		arcs = append(arcs, arc)

		for i, ph := range phases {
			facetIDs, embedding := matchStateFacets(ph.stateTxt, facetsByEntity[charID])
			causal := 0
			if ph.trigger != nil {
				causal = causalOrder[*ph.trigger]
			}
			state := &story.ArcState{
				ID:             deterministicUUID("story_arc_state|" + arc.ID.String() + "|" + strconv.Itoa(ph.index)),
				ArcID:          arc.ID,
				PhaseIndex:     ph.index,
				PhaseName:      ph.name,
				DocumentOrder:  i,
				CausalOrder:    causal,
				TriggerEventID: ph.trigger,
				HasGap:         ph.trigger == nil && i > 0,
				IsCurrent:      i == len(phases)-1,
				FacetIDs:       facetIDs,
				Embedding:      embedding,
			}
			states = append(states, state)
		}
	}
	return arcs, states
}

// matchStateFacets links free-text phase states to persisted state facets by
// case-insensitive substring containment, either direction. The phase
// embedding is the mean of the matched facet embeddings.
func matchStateFacets(stateTexts []string, facets []*story.Facet) (idsJSON, embedding []byte) {
	var ids []uuid.UUID
	var vecs [][]float32
	for _, f := range facets {
		if f.Type != story.FacetTypeState {
			continue
		}
		content := strings.ToLower(f.Content)
		matched := false
		for _, txt := range stateTexts {
			t := strings.ToLower(strings.TrimSpace(txt))
			if t == "" {
				continue
			}
			if strings.Contains(content, t) || strings.Contains(t, content) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		ids = append(ids, f.ID)
		if vec := decodeVector(f.Embedding); vec != nil {
			vecs = append(vecs, vec)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	idsJSON, _ = json.Marshal(ids)
	return idsJSON, encodeVector(meanVectors(vecs))
}
