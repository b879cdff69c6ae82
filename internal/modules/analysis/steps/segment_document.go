package steps

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/yungbote/storygraph-backend/internal/domain/story"
)

// maxSegmentRunes bounds how much text one extraction call sees.
const maxSegmentRunes = 1800

// SegmentSpan is one segment of the document text, identified by byte
// offsets. Spans are ordered, non-overlapping and cover the whole text.
type SegmentSpan struct {
	Index int
	Start int
	End   int
	Text  string
}

// SegmentText splits the document into sentence-packed segments. The split
// is a pure function of the text, so checkpoints keyed by document version
// stay valid across resumed runs.
func SegmentText(text string) []SegmentSpan {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var spans []SegmentSpan
	segStart := sentences[0].start
	segEnd := sentences[0].end
	segRunes := sentences[0].runes

	flush := func() {
		spans = append(spans, SegmentSpan{
			Index: len(spans),
			Start: segStart,
			End:   segEnd,
			Text:  text[segStart:segEnd],
		})
	}

	for _, sent := range sentences[1:] {
		if segRunes+sent.runes > maxSegmentRunes && segRunes > 0 {
			flush()
			segStart = segEnd
			segRunes = 0
		}
		segEnd = sent.end
		segRunes += sent.runes
	}
	segEnd = len(text)
	flush()
	return spans
}

type sentenceSpan struct {
	start int
	end   int
	runes int
}

// splitSentences finds sentence boundaries at terminal punctuation followed
// by whitespace, and at blank lines. Trailing whitespace belongs to the
// preceding sentence so spans tile the text exactly.
func splitSentences(text string) []sentenceSpan {
	var out []sentenceSpan
	start := 0
	i := 0
	for i < len(text) {
		c := text[i]
		boundary := false
		switch c {
		case '.', '!', '?':
			j := i + 1
			for j < len(text) && (text[j] == '.' || text[j] == '!' || text[j] == '?' || text[j] == '"' || text[j] == '\'') {
				j++
			}
			if j >= len(text) || text[j] == ' ' || text[j] == '\t' || text[j] == '\n' || text[j] == '\r' {
				i = j
				boundary = true
			} else {
				i = j
			}
		case '\n':
			if i+1 < len(text) && text[i+1] == '\n' {
				boundary = true
			}
			i++
		default:
			i++
		}
		if !boundary {
			continue
		}
		for i < len(text) && (text[i] == ' ' || text[i] == '\t' || text[i] == '\n' || text[i] == '\r') {
			i++
		}
		out = append(out, sentenceSpan{
			start: start,
			end:   i,
			runes: utf8.RuneCountInString(text[start:i]),
		})
		start = i
	}
	if start < len(text) {
		out = append(out, sentenceSpan{
			start: start,
			end:   len(text),
			runes: utf8.RuneCountInString(text[start:]),
		})
	}
	return out
}

// BuildSegments materializes spans as rows with deterministic ids, so
// re-running segmentation after a resume upserts the same rows.
func BuildSegments(documentID uuid.UUID, version int, text string) []*story.Segment {
	spans := SegmentText(text)
	out := make([]*story.Segment, 0, len(spans))
	for _, span := range spans {
		out = append(out, &story.Segment{
			ID: deterministicUUID(
				"story_segment|" + documentID.String() + "|" + strconv.Itoa(version) + "|" + strconv.Itoa(span.Index),
			),
			DocumentID:  documentID,
			Index:       span.Index,
			Text:        span.Text,
			StartOffset: span.Start,
			EndOffset:   span.End,
		})
	}
	return out
}
