package steps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/yungbote/storygraph-backend/internal/data/graph"
	"github.com/yungbote/storygraph-backend/internal/domain/story"
	"github.com/yungbote/storygraph-backend/internal/modules/analysis/prompts"
	"github.com/yungbote/storygraph-backend/internal/platform/logger"
	"github.com/yungbote/storygraph-backend/internal/platform/openai"
)

type ExtractRelationshipsDeps struct {
	Log   *logger.Logger
	AI    openai.Client
	Graph graph.Store
}

type ExtractRelationshipsInput struct {
	DocumentID uuid.UUID
	Segments   []*story.Segment
	Extracted  []story.ExtractedEntity
	Entities   []*story.Entity
	Facets     []*story.Facet
}

type ExtractRelationshipsOutput struct {
	Inserted      int
	DroppedCycles int
	Edges         []story.Relationship
}

// promptEntity is the entity payload shown to the relationship prompts.
type promptEntity struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Type   string   `json:"type"`
	Facets []string `json:"facets,omitempty"`
}

// ExtractIntraSegmentRelationships proposes edges evidenced within a single
// segment, one call per segment that mentions at least two entities.
func ExtractIntraSegmentRelationships(ctx context.Context, deps ExtractRelationshipsDeps, in ExtractRelationshipsInput) (ExtractRelationshipsOutput, error) {
	var out ExtractRelationshipsOutput
	if deps.Log == nil || deps.AI == nil || deps.Graph == nil {
		return out, fmt.Errorf("relate_intra: missing deps")
	}
	if in.DocumentID == uuid.Nil {
		return out, fmt.Errorf("relate_intra: missing document_id")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	log := deps.Log.With("step", "ExtractIntraSegmentRelationships", "document_id", in.DocumentID.String())

	entityByID := entityIndex(in.Entities)
	facetsByEntity := facetIndex(in.Facets)
	membership := segmentMembership(in.Extracted)

	bySegment := map[int][]uuid.UUID{}
	for id, segs := range membership {
		for _, s := range segs {
			bySegment[s] = append(bySegment[s], id)
		}
	}

	for _, seg := range in.Segments {
		if seg == nil {
			continue
		}
		ids := bySegment[seg.Index]
		if len(ids) < 2 {
			continue
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

		allowed := map[uuid.UUID]bool{}
		payload := make([]promptEntity, 0, len(ids))
		for _, id := range ids {
			e := entityByID[id]
			if e == nil {
				continue
			}
			allowed[id] = true
			payload = append(payload, promptEntity{
				ID:     id.String(),
				Name:   e.Name,
				Type:   e.Type,
				Facets: facetStrings(facetsByEntity[id], 3),
			})
		}
		if len(payload) < 2 {
			continue
		}
		entitiesJSON, _ := json.Marshal(payload)

		p, err := prompts.Build(prompts.PromptSegmentRelationships, prompts.Input{
			SegmentText:  seg.Text,
			SegmentIndex: seg.Index,
			SegmentCount: len(in.Segments),
			EntitiesJSON: string(entitiesJSON),
		})
		if err != nil {
			return out, err
		}
		obj, err := generateStructured(ctx, log, deps.AI, p, validateRelationships)
		if err != nil {
			return out, err
		}

		edges := parseRelationshipEdges(log, obj, allowed, false)
		insertEdges(ctx, log, deps.Graph, edges, &out)
	}

	log.Info("intra-segment relationships extracted", "inserted", out.Inserted, "dropped_cycles", out.DroppedCycles)
	return out, nil
}

// ExtractCrossSegmentRelationships proposes edges whose evidence spans
// segments. The whole stage is skipped when no entity appears in more than
// one segment, since single-segment entities cannot yield such evidence.
func ExtractCrossSegmentRelationships(ctx context.Context, deps ExtractRelationshipsDeps, in ExtractRelationshipsInput) (ExtractRelationshipsOutput, error) {
	var out ExtractRelationshipsOutput
	if deps.Log == nil || deps.AI == nil || deps.Graph == nil {
		return out, fmt.Errorf("relate_cross: missing deps")
	}
	if in.DocumentID == uuid.Nil {
		return out, fmt.Errorf("relate_cross: missing document_id")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	log := deps.Log.With("step", "ExtractCrossSegmentRelationships", "document_id", in.DocumentID.String())

	membership := segmentMembership(in.Extracted)
	spanning := false
	for _, segs := range membership {
		if len(segs) > 1 {
			spanning = true
			break
		}
	}
	if !spanning {
		log.Info("no entity spans multiple segments, skipping")
		return out, nil
	}

	entityByID := entityIndex(in.Entities)

	type memberEntry struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Type     string `json:"type"`
		Segments []int  `json:"segments"`
	}
	allowed := map[uuid.UUID]bool{}
	var members []memberEntry
	for id, segs := range membership {
		e := entityByID[id]
		if e == nil {
			continue
		}
		allowed[id] = true
		members = append(members, memberEntry{
			ID:       id.String(),
			Name:     e.Name,
			Type:     e.Type,
			Segments: segs,
		})
	}
	sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
	membersJSON, _ := json.Marshal(members)

	known, err := deps.Graph.Relationships(ctx, in.DocumentID)
	if err != nil {
		return out, fmt.Errorf("relate_cross: load known edges: %w", err)
	}
	type knownEdge struct {
		From string `json:"from_entity_id"`
		To   string `json:"to_entity_id"`
		Type string `json:"type"`
	}
	knownPayload := make([]knownEdge, 0, len(known))
	for _, rel := range known {
		knownPayload = append(knownPayload, knownEdge{
			From: rel.FromEntityID.String(),
			To:   rel.ToEntityID.String(),
			Type: rel.Type,
		})
	}
	knownJSON, _ := json.Marshal(knownPayload)

	p, err := prompts.Build(prompts.PromptCrossSegmentRelations, prompts.Input{
		EntitySegmentsJSON: string(membersJSON),
		KnownEdgesJSON:     string(knownJSON),
	})
	if err != nil {
		return out, err
	}
	obj, err := generateStructured(ctx, log, deps.AI, p, validateRelationships)
	if err != nil {
		return out, err
	}

	edges := parseRelationshipEdges(log, obj, allowed, true)
	insertEdges(ctx, log, deps.Graph, edges, &out)

	log.Info("cross-segment relationships extracted", "inserted", out.Inserted, "dropped_cycles", out.DroppedCycles)
	return out, nil
}

// segmentMembership maps each resolved entity to the sorted segment indexes
// it appears in.
func segmentMembership(extracted []story.ExtractedEntity) map[uuid.UUID][]int {
	seen := map[uuid.UUID]map[int]bool{}
	for _, occ := range extracted {
		if occ.ResolvedID == uuid.Nil {
			continue
		}
		if seen[occ.ResolvedID] == nil {
			seen[occ.ResolvedID] = map[int]bool{}
		}
		seen[occ.ResolvedID][occ.SegmentIndex] = true
	}
	out := map[uuid.UUID][]int{}
	for id, set := range seen {
		segs := make([]int, 0, len(set))
		for s := range set {
			segs = append(segs, s)
		}
		sort.Ints(segs)
		out[id] = segs
	}
	return out
}

func entityIndex(entities []*story.Entity) map[uuid.UUID]*story.Entity {
	out := map[uuid.UUID]*story.Entity{}
	for _, e := range entities {
		if e != nil {
			out[e.ID] = e
		}
	}
	return out
}

func facetIndex(facets []*story.Facet) map[uuid.UUID][]*story.Facet {
	out := map[uuid.UUID][]*story.Facet{}
	for _, f := range facets {
		if f != nil {
			out[f.EntityID] = append(out[f.EntityID], f)
		}
	}
	return out
}

func facetStrings(facets []*story.Facet, limit int) []string {
	out := make([]string, 0, limit)
	for _, f := range facets {
		if len(out) >= limit {
			break
		}
		out = append(out, f.Type+": "+f.Content)
	}
	return out
}

func validateRelationships(obj map[string]any) error {
	edges, ok := obj["relationships"].([]any)
	if !ok {
		return fmt.Errorf("relationships array missing")
	}
	for _, item := range edges {
		m, ok := item.(map[string]any)
		if !ok {
			return fmt.Errorf("relationship item is not an object")
		}
		if !story.IsValidRelType(asString(m["type"])) {
			return fmt.Errorf("unknown relationship type %q", asString(m["type"]))
		}
	}
	return nil
}

// parseRelationshipEdges filters decoded edges down to the ones between
// allowed entity ids with a coherent strength for their type.
func parseRelationshipEdges(log *logger.Logger, obj map[string]any, allowed map[uuid.UUID]bool, crossSegment bool) []story.Relationship {
	edgesAny, _ := obj["relationships"].([]any)
	var out []story.Relationship
	seen := map[string]bool{}
	for _, item := range edgesAny {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		from, errFrom := uuid.Parse(asString(m["from_entity_id"]))
		to, errTo := uuid.Parse(asString(m["to_entity_id"]))
		relType := asString(m["type"])
		if errFrom != nil || errTo != nil || !allowed[from] || !allowed[to] || from == to {
			log.Debug("edge references unknown entity, skipping", "type", relType)
			continue
		}

		rel := story.Relationship{
			FromEntityID: from,
			ToEntityID:   to,
			Type:         relType,
			Description:  asString(m["description"]),
			CrossSegment: crossSegment,
		}
		if story.RequiresStrength(relType) {
			f, ok := asFloat(m["strength"])
			if !ok {
				log.Debug("causal edge missing strength, skipping", "type", relType)
				continue
			}
			s := clamp01(f)
			rel.Strength = &s
		}

		key := from.String() + "|" + to.String() + "|" + relType
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, rel)
	}
	return out
}

func insertEdges(ctx context.Context, log *logger.Logger, store graph.Store, edges []story.Relationship, out *ExtractRelationshipsOutput) {
	for _, rel := range edges {
		inserted, err := store.InsertRelationship(ctx, rel)
		if err != nil {
			if errors.Is(err, graph.ErrEndpointsMissing) {
				log.Warn("edge endpoints not in graph, skipping",
					"type", rel.Type,
					"from", rel.FromEntityID.String(),
					"to", rel.ToEntityID.String(),
				)
			} else {
				log.Warn("edge insert failed, skipping",
					"type", rel.Type,
					"from", rel.FromEntityID.String(),
					"to", rel.ToEntityID.String(),
					"error", err.Error(),
				)
			}
			continue
		}
		if !inserted {
			out.DroppedCycles++
			log.Info("causal edge would close a cycle, dropped",
				"type", rel.Type,
				"from", rel.FromEntityID.String(),
				"to", rel.ToEntityID.String(),
			)
			continue
		}
		out.Inserted++
		out.Edges = append(out.Edges, rel)
	}
}
