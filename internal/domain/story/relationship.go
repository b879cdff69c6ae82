package story

import "github.com/google/uuid"

// Relationship edge types. The acyclicity invariant covers CAUSES, ENABLES
// and PREVENTS; HAPPENS_BEFORE is reserved for non-sequential time jumps and
// is exempt from cycle rejection.
const (
	RelCauses        = "CAUSES"
	RelEnables       = "ENABLES"
	RelPrevents      = "PREVENTS"
	RelHappensBefore = "HAPPENS_BEFORE"

	RelParticipatesIn = "PARTICIPATES_IN"
	RelLocatedAt      = "LOCATED_AT"
	RelPartOf         = "PART_OF"
	RelMemberOf       = "MEMBER_OF"
	RelPossesses      = "POSSESSES"
	RelConnectedTo    = "CONNECTED_TO"
	RelOpposes        = "OPPOSES"
	RelAbout          = "ABOUT"

	RelRelatedTo = "RELATED_TO"
)

// IsCausalRelType reports whether edges of this type participate in the
// acyclic causal subgraph.
func IsCausalRelType(t string) bool {
	switch t {
	case RelCauses, RelEnables, RelPrevents:
		return true
	default:
		return false
	}
}

// RequiresStrength reports whether edges of this type must carry a strength.
func RequiresStrength(t string) bool {
	return IsCausalRelType(t)
}

func IsValidRelType(t string) bool {
	switch t {
	case RelCauses, RelEnables, RelPrevents, RelHappensBefore,
		RelParticipatesIn, RelLocatedAt, RelPartOf, RelMemberOf,
		RelPossesses, RelConnectedTo, RelOpposes, RelAbout,
		RelRelatedTo:
		return true
	default:
		return false
	}
}

// Relationship is a typed edge between two resolved entities. Edges live in
// the graph store; this struct is the write/read payload.
type Relationship struct {
	FromEntityID uuid.UUID `json:"from_entity_id"`
	ToEntityID   uuid.UUID `json:"to_entity_id"`
	Type         string    `json:"type"`
	Description  string    `json:"description,omitempty"`

	// Strength is required for CAUSES/ENABLES/PREVENTS, clamped to [0,1].
	Strength *float64 `json:"strength,omitempty"`

	// CrossSegment marks edges proposed by the cross-segment pass.
	CrossSegment bool `json:"cross_segment,omitempty"`
}
