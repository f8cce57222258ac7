package model

import "time"

// ProcessingStatus tracks a domain's run through the pipeline stages.
// A ProcessingResult never regresses to an earlier stage.
type ProcessingStatus string

const (
	StatusPending   ProcessingStatus = "pending"
	StatusStage1    ProcessingStatus = "stage1" // signals extracted
	StatusStage2    ProcessingStatus = "stage2" // candidates scored
	StatusStage3    ProcessingStatus = "stage3" // registry matched, claims built
	StatusStage4    ProcessingStatus = "stage4" // arbitration running
	StatusCompleted ProcessingStatus = "completed"
	StatusFailed    ProcessingStatus = "failed"
)

var processingOrder = map[ProcessingStatus]int{
	StatusPending:   0,
	StatusStage1:    1,
	StatusStage2:    2,
	StatusStage3:    3,
	StatusStage4:    4,
	StatusCompleted: 5,
	StatusFailed:    5,
}

// CanTransition reports whether moving from s to next advances the run.
// Terminal states admit no transitions.
func (s ProcessingStatus) CanTransition(next ProcessingStatus) bool {
	cur, ok := processingOrder[s]
	nxt, ok2 := processingOrder[next]
	if !ok || !ok2 {
		return false
	}
	if s == StatusCompleted || s == StatusFailed {
		return false
	}
	return nxt > cur
}

// Terminal reports whether the status is completed or failed.
func (s ProcessingStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Stage1Snapshot captures the raw signals produced by extraction.
type Stage1Snapshot struct {
	Signals          []Signal `json:"signals"`
	ProcessingTimeMs int64    `json:"processing_time_ms"`
}

// Stage2Snapshot captures every scored candidate, including losing attempts,
// for auditability.
type Stage2Snapshot struct {
	Candidates       []Candidate `json:"candidates"`
	Rejected         []Signal    `json:"rejected,omitempty"`
	ProcessingTimeMs int64       `json:"processing_time_ms"`
}

// Stage3Snapshot captures the registry lookup and the assembled claim list.
type Stage3Snapshot struct {
	Claims           []Claim       `json:"claims"`
	RegistryEntities []GLEIFEntity `json:"registry_entities,omitempty"`
	RegistryError    string        `json:"registry_error,omitempty"`
	ProcessingTimeMs int64         `json:"processing_time_ms"`
}

// Stage4Snapshot captures the arbitration outcome.
type Stage4Snapshot struct {
	Result           *ArbitrationResult `json:"result,omitempty"`
	ProcessingTimeMs int64              `json:"processing_time_ms"`
}

// ProcessingResult aggregates one domain's resolution run across all stages.
// It is created when a raw dump is submitted, mutated in place as stages
// complete, and immutable once completed or failed.
type ProcessingResult struct {
	RunID            string             `json:"run_id"`
	Domain           string             `json:"domain"`
	SourceID         string             `json:"source_id,omitempty"`
	Status           ProcessingStatus   `json:"status"`
	Stage1           *Stage1Snapshot    `json:"stage1,omitempty"`
	Stage2           *Stage2Snapshot    `json:"stage2,omitempty"`
	Stage3           *Stage3Snapshot    `json:"stage3,omitempty"`
	Stage4           *Stage4Snapshot    `json:"stage4,omitempty"`
	FinalResult      *ArbitrationResult `json:"final_result,omitempty"`
	ErrorMessage     string             `json:"error_message,omitempty"`
	ProcessingTimeMs int64              `json:"processing_time_ms"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// Advance moves the result to next if the transition is legal and returns
// whether it advanced. Illegal transitions leave the result untouched.
func (p *ProcessingResult) Advance(next ProcessingStatus) bool {
	if !p.Status.CanTransition(next) {
		return false
	}
	p.Status = next
	p.UpdatedAt = time.Now().UTC()
	return true
}
