package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/storygraph-backend/internal/data/graph"
	storyrepos "github.com/yungbote/storygraph-backend/internal/data/repos/story"
	"github.com/yungbote/storygraph-backend/internal/domain/story"
	"github.com/yungbote/storygraph-backend/internal/platform/dbctx"
	"github.com/yungbote/storygraph-backend/internal/platform/logger"
	"github.com/yungbote/storygraph-backend/internal/platform/openai"
)

type ResolveEntitiesDeps struct {
	Log      *logger.Logger
	AI       openai.Client
	Entities storyrepos.EntityRepo
	Facets   storyrepos.FacetRepo
	Mentions storyrepos.MentionRepo
	Graph    graph.Store
}

type ResolveEntitiesInput struct {
	DocumentID      uuid.UUID
	DocumentVersion int
	Segments        []*story.Segment
	Extracted       []story.ExtractedEntity
}

type ResolveEntitiesOutput struct {
	Entities     []*story.Entity
	Facets       []*story.Facet
	MentionCount int
}

// resolvedEntity collects every occurrence of one durable identity.
type resolvedEntity struct {
	name          string
	entityType    string
	aliases       []string
	facets        []story.ExtractedFacet
	documentOrder int
	// mention quotes by segment index
	mentions map[int][]story.ExtractedMention
	// facetWeight accumulates, per deduped facet, the mention counts of the
	// occurrences that reported it.
	facetWeight map[string]float64
}

// ResolveEntities folds per-segment occurrences into durable entity rows
// with unioned facets and grounded mentions. Every id it writes is
// deterministic, so re-running after a resume creates nothing twice.
func ResolveEntities(ctx context.Context, deps ResolveEntitiesDeps, in ResolveEntitiesInput) (ResolveEntitiesOutput, error) {
	var out ResolveEntitiesOutput
	if deps.Log == nil || deps.AI == nil || deps.Entities == nil || deps.Facets == nil || deps.Mentions == nil {
		return out, fmt.Errorf("resolve_entities: missing deps")
	}
	if in.DocumentID == uuid.Nil {
		return out, fmt.Errorf("resolve_entities: missing document_id")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	log := deps.Log.With("step", "ResolveEntities", "document_id", in.DocumentID.String())
	dbc := dbctx.Context{Ctx: ctx}

	segmentsByIndex := map[int]*story.Segment{}
	for _, seg := range in.Segments {
		if seg != nil {
			segmentsByIndex[seg.Index] = seg
		}
	}

	resolved, order := foldOccurrences(in.Extracted)

	// Entity rows. CreateIfAbsent keeps first-run values for entities that
	// already exist; mutable aggregates are updated below.
	rows := make([]*story.Entity, 0, len(order))
	for _, id := range order {
		re := resolved[id]
		aliasJSON, _ := json.Marshal(re.aliases)
		docOrder := re.documentOrder
		rows = append(rows, &story.Entity{
			ID:            id,
			DocumentID:    in.DocumentID,
			Name:          re.name,
			Type:          re.entityType,
			Aliases:       datatypes.JSON(aliasJSON),
			DocumentOrder: &docOrder,
		})
	}
	if err := deps.Entities.CreateIfAbsent(dbc, rows); err != nil {
		return out, fmt.Errorf("resolve_entities: create entities: %w", err)
	}

	// Facets. Only genuinely new rows get an embedding call.
	entityIDs := append([]uuid.UUID(nil), order...)
	existingFacets, err := deps.Facets.GetByEntityIDs(dbc, entityIDs)
	if err != nil {
		return out, fmt.Errorf("resolve_entities: load facets: %w", err)
	}
	haveFacet := map[uuid.UUID]bool{}
	for _, f := range existingFacets {
		haveFacet[f.ID] = true
	}

	var newFacets []*story.Facet
	for _, id := range order {
		re := resolved[id]
		for _, f := range re.facets {
			facetID := deterministicUUID(
				"story_facet|" + id.String() + "|" + facetKey(f.Type, f.Content),
			)
			if haveFacet[facetID] {
				continue
			}
			haveFacet[facetID] = true
			newFacets = append(newFacets, &story.Facet{
				ID:       facetID,
				EntityID: id,
				Type:     f.Type,
				Content:  f.Content,
			})
		}
	}
	if err := embedFacets(ctx, deps.AI, newFacets); err != nil {
		return out, fmt.Errorf("resolve_entities: %w", err)
	}
	if err := deps.Facets.CreateIfAbsent(dbc, newFacets); err != nil {
		return out, fmt.Errorf("resolve_entities: create facets: %w", err)
	}

	// Mentions, grounded against segment text. A quote the segment does not
	// literally contain is dropped.
	var mentions []*story.Mention
	dropped := 0
	for _, id := range order {
		re := resolved[id]
		for segIndex, quotes := range re.mentions {
			seg := segmentsByIndex[segIndex]
			if seg == nil {
				dropped += len(quotes)
				continue
			}
			for _, q := range quotes {
				pos := strings.Index(seg.Text, q.Quote)
				if pos < 0 {
					dropped++
					continue
				}
				mentions = append(mentions, &story.Mention{
					ID: deterministicUUID(
						"story_mention|" + id.String() + "|" + seg.ID.String() + "|" + q.Quote,
					),
					EntityID:        id,
					SegmentID:       seg.ID,
					Quote:           q.Quote,
					StartOffset:     seg.StartOffset + pos,
					DocumentVersion: in.DocumentVersion,
					Confidence:      q.Confidence,
					Source:          "extraction",
				})
			}
		}
	}
	if err := deps.Mentions.CreateIfAbsent(dbc, mentions); err != nil {
		return out, fmt.Errorf("resolve_entities: create mentions: %w", err)
	}
	if dropped > 0 {
		log.Debug("ungrounded quotes dropped", "count", dropped)
	}

	// Aggregate updates: mention counts and entity embeddings.
	allFacets, err := deps.Facets.GetByEntityIDs(dbc, entityIDs)
	if err != nil {
		return out, fmt.Errorf("resolve_entities: reload facets: %w", err)
	}
	facetsByEntity := map[uuid.UUID][]*story.Facet{}
	for _, f := range allFacets {
		facetsByEntity[f.EntityID] = append(facetsByEntity[f.EntityID], f)
	}

	for _, id := range order {
		re := resolved[id]
		count, err := deps.Mentions.CountByEntity(dbc, id)
		if err != nil {
			return out, fmt.Errorf("resolve_entities: count mentions: %w", err)
		}
		aliasJSON, _ := json.Marshal(re.aliases)
		updates := map[string]interface{}{
			"mention_count": int(count),
			"aliases":       datatypes.JSON(aliasJSON),
		}
		if vec := entityEmbedding(re, facetsByEntity[id], segmentsByIndex); vec != nil {
			updates["embedding"] = encodeVector(vec)
		}
		if err := deps.Entities.UpdateFields(dbc, id, updates); err != nil {
			return out, fmt.Errorf("resolve_entities: update entity: %w", err)
		}
	}

	entities, err := deps.Entities.GetByIDs(dbc, entityIDs)
	if err != nil {
		return out, fmt.Errorf("resolve_entities: reload entities: %w", err)
	}
	out.Entities = entities
	out.Facets = allFacets
	out.MentionCount = len(mentions)

	if deps.Graph != nil {
		if err := deps.Graph.UpsertEntities(ctx, in.DocumentID, entities); err != nil {
			log.Warn("graph entity sync failed (continuing)", "error", err.Error())
		} else {
			if err := deps.Graph.UpsertFacets(ctx, allFacets); err != nil {
				log.Warn("graph facet sync failed (continuing)", "error", err.Error())
			}
			if err := deps.Graph.UpsertMentions(ctx, mentions); err != nil {
				log.Warn("graph mention sync failed (continuing)", "error", err.Error())
			}
		}
	}

	log.Info("entities resolved",
		"entities", len(entities),
		"facets", len(allFacets),
		"mentions", len(mentions),
	)
	return out, nil
}

// foldOccurrences groups extracted occurrences by resolved id, preserving
// first-appearance order.
func foldOccurrences(extracted []story.ExtractedEntity) (map[uuid.UUID]*resolvedEntity, []uuid.UUID) {
	resolved := map[uuid.UUID]*resolvedEntity{}
	var order []uuid.UUID
	for _, occ := range extracted {
		if occ.ResolvedID == uuid.Nil {
			continue
		}
		re := resolved[occ.ResolvedID]
		if re == nil {
			re = &resolvedEntity{
				name:          occ.Name,
				entityType:    occ.Type,
				documentOrder: len(order),
				mentions:      map[int][]story.ExtractedMention{},
				facetWeight:   map[string]float64{},
			}
			resolved[occ.ResolvedID] = re
			order = append(order, occ.ResolvedID)
		}
		re.aliases = dedupeStrings(append(re.aliases, append([]string{occ.Name}, occ.Aliases...)...))
		weight := float64(len(occ.Mentions))
		if weight == 0 {
			weight = 1
		}
		for _, f := range occ.Facets {
			if !containsFacet(re.facets, f) {
				re.facets = append(re.facets, f)
			}
			re.facetWeight[facetKey(f.Type, f.Content)] += weight
		}
		re.mentions[occ.SegmentIndex] = append(re.mentions[occ.SegmentIndex], occ.Mentions...)
	}
	return resolved, order
}

func facetKey(facetType, content string) string {
	return facetType + "|" + strings.ToLower(strings.TrimSpace(content))
}

func embedFacets(ctx context.Context, ai openai.Client, facets []*story.Facet) error {
	for start := 0; start < len(facets); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(facets) {
			end = len(facets)
		}
		batch := facets[start:end]
		texts := make([]string, len(batch))
		for i, f := range batch {
			texts[i] = f.Type + ": " + f.Content
		}
		vecs, err := ai.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed facets: %w", err)
		}
		if len(vecs) != len(batch) {
			return fmt.Errorf("embed facets: got %d embeddings for %d facets", len(vecs), len(batch))
		}
		for i, f := range batch {
			f.Embedding = encodeVector(vecs[i])
		}
	}
	return nil
}

// entityEmbedding combines the entity's facet embeddings, each weighted by
// the mention counts of the occurrences that reported the facet; entities
// without facets fall back to a mention-weighted mean of the embeddings of
// the segments they appear in.
func entityEmbedding(re *resolvedEntity, facets []*story.Facet, segments map[int]*story.Segment) []float32 {
	var facetVecs [][]float32
	var facetWeights []float64
	for _, f := range facets {
		vec := decodeVector(f.Embedding)
		if vec == nil {
			continue
		}
		// Facets persisted by an earlier run carry no weight this run.
		w := re.facetWeight[facetKey(f.Type, f.Content)]
		if w <= 0 {
			w = 1
		}
		facetVecs = append(facetVecs, vec)
		facetWeights = append(facetWeights, w)
	}
	if len(facetVecs) > 0 {
		return weightedMeanVectors(facetVecs, facetWeights)
	}

	var segVecs [][]float32
	var weights []float64
	for segIndex, quotes := range re.mentions {
		seg := segments[segIndex]
		if seg == nil {
			continue
		}
		vec := decodeVector(seg.Embedding)
		if vec == nil {
			continue
		}
		segVecs = append(segVecs, vec)
		weights = append(weights, float64(len(quotes)))
	}
	return weightedMeanVectors(segVecs, weights)
}
