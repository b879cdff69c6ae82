package steps

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/yungbote/storygraph-backend/internal/domain/story"
	"github.com/yungbote/storygraph-backend/internal/modules/analysis/prompts"
	"github.com/yungbote/storygraph-backend/internal/platform/logger"
	"github.com/yungbote/storygraph-backend/internal/platform/openai"
)

type ExtractEntitiesDeps struct {
	Log *logger.Logger
	AI  openai.Client
}

type ExtractEntitiesInput struct {
	DocumentID uuid.UUID
	Segments   []*story.Segment
	// Registry is seeded by the orchestrator: empty on a first run, rebuilt
	// from persisted entities on an incremental one.
	Registry *Registry
}

type ExtractEntitiesOutput struct {
	Entities       []story.ExtractedEntity
	EntityIDByName map[string]uuid.UUID
	MergeSignals   []story.MergeSignal
}

// ExtractEntities runs the per-segment extraction loop. Segments are
// processed strictly in document order so each call's registry snapshot
// reflects every earlier discovery.
func ExtractEntities(ctx context.Context, deps ExtractEntitiesDeps, in ExtractEntitiesInput) (ExtractEntitiesOutput, error) {
	out := ExtractEntitiesOutput{EntityIDByName: map[string]uuid.UUID{}}
	if deps.Log == nil || deps.AI == nil {
		return out, fmt.Errorf("extract_entities: missing deps")
	}
	if in.DocumentID == uuid.Nil {
		return out, fmt.Errorf("extract_entities: missing document_id")
	}
	if in.Registry == nil {
		in.Registry = NewRegistry()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	log := deps.Log.With("step", "ExtractEntities", "document_id", in.DocumentID.String())

	// Pre-seed the name map from a rebuilt registry.
	for _, entry := range in.Registry.entries {
		recordName(out.EntityIDByName, entry.Name, entry.EntityID)
		for _, alias := range entry.Aliases {
			recordName(out.EntityIDByName, alias, entry.EntityID)
		}
	}

	prev := ""
	for _, seg := range in.Segments {
		if seg == nil {
			continue
		}

		p, err := prompts.Build(prompts.PromptSegmentEntities, prompts.Input{
			SegmentText:         seg.Text,
			SegmentIndex:        seg.Index,
			SegmentCount:        len(in.Segments),
			PreviousSegmentText: prev,
			RegistryJSON:        in.Registry.SnapshotJSON(),
		})
		if err != nil {
			return out, err
		}

		obj, err := generateStructured(ctx, log, deps.AI, p, validateSegmentEntities)
		if err != nil {
			return out, err
		}

		entitiesAny, _ := obj["entities"].([]any)
		for _, item := range entitiesAny {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			extracted := parseExtractedEntity(m, seg.Index)
			if extracted == nil {
				continue
			}

			resolved := resolveIdentity(log, in.Registry, extracted, seg.Index, &out)
			extracted.ResolvedID = resolved
			recordName(out.EntityIDByName, extracted.Name, resolved)
			for _, alias := range extracted.Aliases {
				recordName(out.EntityIDByName, alias, resolved)
			}
			out.Entities = append(out.Entities, *extracted)
		}
		prev = seg.Text
	}

	log.Info("entity extraction complete",
		"segments", len(in.Segments),
		"occurrences", len(out.Entities),
		"registry_size", in.Registry.Len(),
		"merge_signals", len(out.MergeSignals),
	)
	return out, nil
}

// resolveIdentity decides the durable id for one extracted occurrence and
// updates the registry accordingly.
func resolveIdentity(log *logger.Logger, reg *Registry, e *story.ExtractedEntity, segmentIndex int, out *ExtractEntitiesOutput) uuid.UUID {
	if match := e.ExistingMatch; match != nil {
		switch match.Confidence {
		case story.MatchConfidenceHigh, story.MatchConfidenceMedium:
			if entry, ok := reg.ByIndex(match.RegistryIndex); ok {
				reg.Accumulate(entry.EntityID, append([]string{e.Name}, e.Aliases...), e.Facets)
				return entry.EntityID
			}
			// The model referenced an index it was never shown. Fall back
			// to an exact name/alias match before creating a new entity.
			log.Warn("existing match references unknown registry index",
				"entity", e.Name,
				"registry_index", match.RegistryIndex,
				"segment_index", segmentIndex,
			)
			if entry, ok := reg.FindByName(e.Name); ok {
				reg.Accumulate(entry.EntityID, append([]string{e.Name}, e.Aliases...), e.Facets)
				return entry.EntityID
			}
		case story.MatchConfidenceLow:
			signal := story.MergeSignal{
				EntityName:    e.Name,
				RegistryIndex: match.RegistryIndex,
				Reason:        match.Reason,
				SegmentIndex:  segmentIndex,
			}
			if entry, ok := reg.ByIndex(match.RegistryIndex); ok {
				signal.RegistryName = entry.Name
			}
			out.MergeSignals = append(out.MergeSignals, signal)
		}
	} else if id, ok := out.EntityIDByName[normalizeName(e.Name)]; ok {
		// Repeat sighting under a literal name already resolved this run.
		reg.Accumulate(id, e.Aliases, e.Facets)
		return id
	}

	id := uuid.New()
	reg.Add(id, e.Name, e.Type, append([]string{e.Name}, e.Aliases...), e.Facets)
	return id
}

func parseExtractedEntity(m map[string]any, segmentIndex int) *story.ExtractedEntity {
	name := asString(m["name"])
	if name == "" {
		return nil
	}
	entityType := asString(m["type"])
	if !story.IsValidEntityType(entityType) {
		entityType = story.EntityTypeOther
	}

	e := &story.ExtractedEntity{
		Name:         name,
		Type:         entityType,
		Aliases:      dedupeStrings(stringSliceFromAny(m["aliases"])),
		SegmentIndex: segmentIndex,
	}

	if facetsAny, ok := m["facets"].([]any); ok {
		for _, fa := range facetsAny {
			fm, ok := fa.(map[string]any)
			if !ok {
				continue
			}
			ft := asString(fm["type"])
			fc := asString(fm["content"])
			if !story.IsValidFacetType(ft) || fc == "" {
				continue
			}
			e.Facets = append(e.Facets, story.ExtractedFacet{Type: ft, Content: fc})
		}
	}

	if mentionsAny, ok := m["mentions"].([]any); ok {
		for _, ma := range mentionsAny {
			mm, ok := ma.(map[string]any)
			if !ok {
				continue
			}
			quote := asString(mm["quote"])
			if quote == "" {
				continue
			}
			conf, _ := asFloat(mm["confidence"])
			e.Mentions = append(e.Mentions, story.ExtractedMention{
				Quote:      quote,
				Confidence: clamp01(conf),
			})
		}
	}

	if matchAny, ok := m["existing_match"].(map[string]any); ok {
		idx, idxOK := asInt(matchAny["registry_index"])
		conf := asString(matchAny["confidence"])
		if idxOK {
			e.ExistingMatch = &story.ExistingMatch{
				RegistryIndex: idx,
				Confidence:    conf,
				Reason:        asString(matchAny["reason"]),
			}
		}
	}
	return e
}

func validateSegmentEntities(obj map[string]any) error {
	entitiesAny, ok := obj["entities"].([]any)
	if !ok {
		return fmt.Errorf("entities array missing")
	}
	for _, item := range entitiesAny {
		m, ok := item.(map[string]any)
		if !ok {
			return fmt.Errorf("entity item is not an object")
		}
		if asString(m["name"]) == "" {
			return fmt.Errorf("entity with empty name")
		}
		if matchAny, present := m["existing_match"]; present && matchAny != nil {
			mm, ok := matchAny.(map[string]any)
			if !ok {
				return fmt.Errorf("existing_match is not an object")
			}
			switch asString(mm["confidence"]) {
			case story.MatchConfidenceHigh, story.MatchConfidenceMedium, story.MatchConfidenceLow:
			default:
				return fmt.Errorf("existing_match confidence invalid")
			}
		}
	}
	return nil
}

func recordName(m map[string]uuid.UUID, name string, id uuid.UUID) {
	key := normalizeName(name)
	if key == "" || id == uuid.Nil {
		return
	}
	if _, exists := m[key]; !exists {
		m[key] = id
	}
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
