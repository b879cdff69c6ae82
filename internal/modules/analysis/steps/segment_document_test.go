package steps

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestSegmentTextTilesWholeDocument(t *testing.T) {
	text := "The count arrived at midnight. Nobody saw him enter.\n\nBy morning the castle gates stood open. The villagers kept away!"

	spans := SegmentText(text)
	if len(spans) == 0 {
		t.Fatalf("expected spans, got none")
	}
	if spans[0].Start != 0 {
		t.Fatalf("first span starts at %d, want 0", spans[0].Start)
	}
	for i := 1; i < len(spans); i++ {
		if spans[i].Start != spans[i-1].End {
			t.Fatalf("span %d starts at %d, previous ends at %d", i, spans[i].Start, spans[i-1].End)
		}
	}
	if last := spans[len(spans)-1]; last.End != len(text) {
		t.Fatalf("last span ends at %d, want %d", last.End, len(text))
	}

	var rebuilt strings.Builder
	for i, span := range spans {
		if span.Index != i {
			t.Fatalf("span %d has index %d", i, span.Index)
		}
		if span.Text != text[span.Start:span.End] {
			t.Fatalf("span %d text does not match its offsets", i)
		}
		rebuilt.WriteString(span.Text)
	}
	if rebuilt.String() != text {
		t.Fatalf("concatenated spans do not reproduce the document")
	}
}

func TestSegmentTextIsDeterministic(t *testing.T) {
	text := strings.Repeat("A thing happened. Then another thing happened. ", 200)

	first := SegmentText(text)
	second := SegmentText(text)
	if len(first) != len(second) {
		t.Fatalf("run lengths differ: %d vs %d", len(first), len(second))
	}
	if len(first) < 2 {
		t.Fatalf("long text should split into multiple segments, got %d", len(first))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("span %d differs between runs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestSegmentTextEmptyInput(t *testing.T) {
	if spans := SegmentText("   \n\t  "); spans != nil {
		t.Fatalf("expected nil spans for blank text, got %d", len(spans))
	}
}

func TestBuildSegmentsDeterministicIDs(t *testing.T) {
	docID := uuid.New()
	text := "First sentence. Second sentence. Third sentence."

	a := BuildSegments(docID, 1, text)
	b := BuildSegments(docID, 1, text)
	if len(a) == 0 || len(a) != len(b) {
		t.Fatalf("unexpected segment counts: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			t.Fatalf("segment %d id differs across identical builds", i)
		}
	}

	c := BuildSegments(docID, 2, text)
	if a[0].ID == c[0].ID {
		t.Fatalf("segment ids should differ across document versions")
	}
}
