package model

// ArbitrationStatus tracks the one-way state machine of an arbitration run:
// pending → processing → completed | failed.
type ArbitrationStatus string

const (
	ArbitrationPending    ArbitrationStatus = "pending"
	ArbitrationProcessing ArbitrationStatus = "processing"
	ArbitrationCompleted  ArbitrationStatus = "completed"
	ArbitrationFailed     ArbitrationStatus = "failed"
)

var arbitrationOrder = map[ArbitrationStatus]int{
	ArbitrationPending:    0,
	ArbitrationProcessing: 1,
	ArbitrationCompleted:  2,
	ArbitrationFailed:     2,
}

// CanTransition reports whether moving from s to next is a legal forward
// transition. Terminal states admit no transitions.
func (s ArbitrationStatus) CanTransition(next ArbitrationStatus) bool {
	cur, ok := arbitrationOrder[s]
	nxt, ok2 := arbitrationOrder[next]
	if !ok || !ok2 {
		return false
	}
	if s == ArbitrationCompleted || s == ArbitrationFailed {
		return false
	}
	return nxt > cur
}

// Terminal reports whether the status is completed or failed.
func (s ArbitrationStatus) Terminal() bool {
	return s == ArbitrationCompleted || s == ArbitrationFailed
}

// Grade is the coarse acquisition-research letter rating for a ranked entity.
type Grade string

const (
	GradeAPlus Grade = "A+"
	GradeA     Grade = "A"
	GradeBPlus Grade = "B+"
	GradeB     Grade = "B"
	GradeC     Grade = "C"
)

// RankedEntity is one entry in the ordered arbitration output. Rank order is
// the primary deliverable of the whole pipeline.
type RankedEntity struct {
	ClaimNumber      int     `json:"claim_number"`
	EntityName       string  `json:"entity_name"`
	LEICode          string  `json:"lei_code,omitempty"`
	Confidence       float64 `json:"confidence"` // [0,1], adjusted
	AcquisitionGrade Grade   `json:"acquisition_grade"`
	Reasoning        string  `json:"reasoning,omitempty"`
}

// ArbitrationResult is the outcome of one arbitration run.
type ArbitrationResult struct {
	Status           ArbitrationStatus `json:"status"`
	RankedEntities   []RankedEntity    `json:"ranked_entities,omitempty"`
	Reasoning        string            `json:"reasoning,omitempty"`
	ProcessingTimeMs int64             `json:"processing_time_ms"`
	ArbitratorModel  string            `json:"arbitrator_model,omitempty"`
	Error            string            `json:"error,omitempty"`
}
