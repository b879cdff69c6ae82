package jobs

import (
	"errors"
	"testing"

	"github.com/yungbote/storygraph-backend/internal/domain/story"
	"github.com/yungbote/storygraph-backend/internal/modules/analysis"
)

func TestStatusUpdatesMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus string
		wantError  *string
	}{
		{"success", nil, story.AnalysisStatusComplete, strPtr("")},
		{"paused", analysis.ErrPaused, story.AnalysisStatusPaused, nil},
		{"cancelled", analysis.ErrCancelled, story.AnalysisStatusIdle, strPtr("")},
		{"wrapped pause", errorsJoin(analysis.ErrPaused), story.AnalysisStatusPaused, nil},
		{"failure", errors.New("model exploded"), story.AnalysisStatusFailed, strPtr("model exploded")},
	}

	for _, tc := range cases {
		updates := statusUpdates(tc.err)
		if got := updates["analysis_status"]; got != tc.wantStatus {
			t.Fatalf("%s: status = %v, want %s", tc.name, got, tc.wantStatus)
		}
		if tc.wantError != nil {
			if got := updates["analysis_error"]; got != *tc.wantError {
				t.Fatalf("%s: error field = %v, want %q", tc.name, got, *tc.wantError)
			}
		} else if _, present := updates["analysis_error"]; present {
			t.Fatalf("%s: error field should be untouched", tc.name)
		}
	}

	if _, present := statusUpdates(nil)["analyzed_at"]; !present {
		t.Fatalf("success must stamp analyzed_at")
	}
	if _, present := statusUpdates(analysis.ErrPaused)["analyzed_at"]; present {
		t.Fatalf("pause must not stamp analyzed_at")
	}
}

func strPtr(s string) *string { return &s }

func errorsJoin(err error) error {
	return errors.Join(errors.New("stage 4"), err)
}
