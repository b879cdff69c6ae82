package steps

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/storygraph-backend/internal/modules/analysis/prompts"
	"github.com/yungbote/storygraph-backend/internal/platform/logger"
	"github.com/yungbote/storygraph-backend/internal/platform/openai"
)

func deterministicUUID(s string) uuid.UUID {
	h := sha256.Sum256([]byte(s))
	id, err := uuid.FromBytes(h[:16])
	if err != nil {
		return uuid.New()
	}
	return id
}

func asString(v any) string {
	if v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case []byte:
		return strings.TrimSpace(string(t))
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return int(i), true
		}
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f, true
		}
	}
	return 0, false
}

func stringSliceFromAny(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		s := asString(item)
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}

func dedupeStrings(in []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		key := strings.ToLower(s)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func encodeVector(vec []float32) datatypes.JSON {
	if len(vec) == 0 {
		return nil
	}
	raw, err := json.Marshal(vec)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}

func decodeVector(raw []byte) []float32 {
	if len(raw) == 0 {
		return nil
	}
	var vec []float32
	if err := json.Unmarshal(raw, &vec); err != nil {
		return nil
	}
	return vec
}

// meanVectors averages same-length vectors; mismatched lengths are skipped.
func meanVectors(vecs [][]float32) []float32 {
	var sum []float64
	n := 0
	for _, v := range vecs {
		if len(v) == 0 {
			continue
		}
		if sum == nil {
			sum = make([]float64, len(v))
		}
		if len(v) != len(sum) {
			continue
		}
		for i, f := range v {
			sum[i] += float64(f)
		}
		n++
	}
	if n == 0 {
		return nil
	}
	out := make([]float32, len(sum))
	for i := range sum {
		out[i] = float32(sum[i] / float64(n))
	}
	return out
}

// weightedMeanVectors combines vectors by the given non-negative weights.
func weightedMeanVectors(vecs [][]float32, weights []float64) []float32 {
	if len(vecs) != len(weights) {
		return meanVectors(vecs)
	}
	var sum []float64
	total := 0.0
	for i, v := range vecs {
		w := weights[i]
		if len(v) == 0 || w <= 0 {
			continue
		}
		if sum == nil {
			sum = make([]float64, len(v))
		}
		if len(v) != len(sum) {
			continue
		}
		for j, f := range v {
			sum[j] += float64(f) * w
		}
		total += w
	}
	if total == 0 {
		return nil
	}
	out := make([]float32, len(sum))
	for i := range sum {
		out[i] = float32(sum[i] / total)
	}
	return out
}

// generateStructured calls the model and validates the decoded object.
// Validation failures count as transient and are retried with the same
// 1s/2s/4s backoff as service failures.
func generateStructured(ctx context.Context, log *logger.Logger, ai openai.Client, p prompts.Prompt, validate func(map[string]any) error) (map[string]any, error) {
	const attempts = 3
	backoff := 1 * time.Second

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		obj, err := ai.GenerateJSON(ctx, p.System, p.User, p.SchemaName, p.Schema)
		if err == nil && validate != nil {
			err = validate(obj)
		}
		if err == nil {
			return obj, nil
		}
		lastErr = err
		if attempt == attempts {
			break
		}

		log.Warn("structured generation retrying",
			"prompt", p.Name,
			"attempt", attempt,
			"error", err.Error(),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("%s: %w", p.Name, lastErr)
}
