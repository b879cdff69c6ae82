package steps

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/storygraph-backend/internal/domain/story"
	"github.com/yungbote/storygraph-backend/internal/modules/analysis/prompts"
	"github.com/yungbote/storygraph-backend/internal/platform/logger"
)

func TestMain(m *testing.M) {
	prompts.RegisterAll()
	os.Exit(m.Run())
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

type fakeAI struct {
	responses []map[string]any
	calls     int
}

func (f *fakeAI) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i := range inputs {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (f *fakeAI) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error) {
	if f.calls >= len(f.responses) {
		return nil, fmt.Errorf("unexpected generation call %d", f.calls)
	}
	r := f.responses[f.calls]
	f.calls++
	return r, nil
}

func (f *fakeAI) GenerateText(ctx context.Context, system, user string) (string, error) {
	return "", nil
}

func testSegments(docID uuid.UUID, texts ...string) []*story.Segment {
	out := make([]*story.Segment, len(texts))
	offset := 0
	for i, txt := range texts {
		out[i] = &story.Segment{
			ID:          uuid.New(),
			DocumentID:  docID,
			Index:       i,
			Text:        txt,
			StartOffset: offset,
			EndOffset:   offset + len(txt),
		}
		offset += len(txt)
	}
	return out
}

func TestExtractEntitiesProgressiveIdentity(t *testing.T) {
	docID := uuid.New()
	ai := &fakeAI{responses: []map[string]any{
		{"version": 1, "entities": []any{map[string]any{
			"name":    "the stranger",
			"type":    "character",
			"aliases": []any{},
			"facets": []any{
				map[string]any{"type": "trait", "content": "pale"},
			},
			"mentions": []any{
				map[string]any{"quote": "the stranger", "confidence": 0.9},
			},
			"existing_match": nil,
		}}},
		{"version": 1, "entities": []any{map[string]any{
			"name":    "Count Dracula",
			"type":    "character",
			"aliases": []any{"the stranger"},
			"facets":  []any{},
			"mentions": []any{
				map[string]any{"quote": "Count Dracula", "confidence": 1},
			},
			"existing_match": map[string]any{
				"registry_index": 0,
				"confidence":     "high",
				"reason":         "the stranger is revealed as the count",
			},
		}}},
	}}

	reg := NewRegistry()
	out, err := ExtractEntities(context.Background(), ExtractEntitiesDeps{Log: testLogger(t), AI: ai}, ExtractEntitiesInput{
		DocumentID: docID,
		Segments:   testSegments(docID, "A pale figure: the stranger.", "Count Dracula smiled."),
		Registry:   reg,
	})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	if len(out.Entities) != 2 {
		t.Fatalf("occurrences = %d, want 2", len(out.Entities))
	}
	if out.Entities[0].ResolvedID != out.Entities[1].ResolvedID {
		t.Fatalf("high-confidence match did not merge identities")
	}
	if reg.Len() != 1 {
		t.Fatalf("registry has %d entries, want 1", reg.Len())
	}
	entry, _ := reg.ByIndex(0)
	if _, ok := reg.FindByName("Count Dracula"); !ok {
		t.Fatalf("merged entry never gained the revealed name, aliases: %v", entry.Aliases)
	}
	if out.EntityIDByName["the stranger"] != out.EntityIDByName["count dracula"] {
		t.Fatalf("name map does not resolve both names to one id")
	}
	if len(out.MergeSignals) != 0 {
		t.Fatalf("unexpected merge signals: %+v", out.MergeSignals)
	}
}

func TestExtractEntitiesLowConfidenceNeverMerges(t *testing.T) {
	docID := uuid.New()
	existingID := uuid.New()
	reg := NewRegistry()
	reg.Add(existingID, "Count Dracula", story.EntityTypeCharacter, nil, nil)

	ai := &fakeAI{responses: []map[string]any{
		{"version": 1, "entities": []any{map[string]any{
			"name":     "the pale man",
			"type":     "character",
			"aliases":  []any{},
			"facets":   []any{},
			"mentions": []any{},
			"existing_match": map[string]any{
				"registry_index": 0,
				"confidence":     "low",
				"reason":         "could be the count, unclear",
			},
		}}},
	}}

	out, err := ExtractEntities(context.Background(), ExtractEntitiesDeps{Log: testLogger(t), AI: ai}, ExtractEntitiesInput{
		DocumentID: docID,
		Segments:   testSegments(docID, "A pale man watched from the window."),
		Registry:   reg,
	})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	if len(out.Entities) != 1 {
		t.Fatalf("occurrences = %d, want 1", len(out.Entities))
	}
	if out.Entities[0].ResolvedID == existingID {
		t.Fatalf("low-confidence match must not merge")
	}
	if reg.Len() != 2 {
		t.Fatalf("registry has %d entries, want 2", reg.Len())
	}
	if len(out.MergeSignals) != 1 {
		t.Fatalf("merge signals = %d, want exactly 1", len(out.MergeSignals))
	}
	sig := out.MergeSignals[0]
	if sig.EntityName != "the pale man" || sig.RegistryName != "Count Dracula" || sig.SegmentIndex != 0 {
		t.Fatalf("merge signal incomplete: %+v", sig)
	}
}

func TestExtractEntitiesOutOfRangeIndexFallsBackToName(t *testing.T) {
	docID := uuid.New()
	existingID := uuid.New()
	reg := NewRegistry()
	reg.Add(existingID, "Count Dracula", story.EntityTypeCharacter, nil, nil)

	ai := &fakeAI{responses: []map[string]any{
		{"version": 1, "entities": []any{map[string]any{
			"name":     "Count Dracula",
			"type":     "character",
			"aliases":  []any{},
			"facets":   []any{},
			"mentions": []any{},
			"existing_match": map[string]any{
				"registry_index": 99,
				"confidence":     "high",
				"reason":         "same character",
			},
		}}},
	}}

	out, err := ExtractEntities(context.Background(), ExtractEntitiesDeps{Log: testLogger(t), AI: ai}, ExtractEntitiesInput{
		DocumentID: docID,
		Segments:   testSegments(docID, "Count Dracula returned."),
		Registry:   reg,
	})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if out.Entities[0].ResolvedID != existingID {
		t.Fatalf("exact-name fallback did not reuse the existing identity")
	}
	if reg.Len() != 1 {
		t.Fatalf("registry has %d entries, want 1", reg.Len())
	}
}
