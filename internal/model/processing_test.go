package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProcessingStatusTransitions(t *testing.T) {
	t.Parallel()

	t.Run("forward transitions allowed", func(t *testing.T) {
		t.Parallel()
		assert.True(t, StatusPending.CanTransition(StatusStage1))
		assert.True(t, StatusStage1.CanTransition(StatusStage2))
		assert.True(t, StatusStage2.CanTransition(StatusStage4)) // skipping is forward
		assert.True(t, StatusStage4.CanTransition(StatusCompleted))
		assert.True(t, StatusPending.CanTransition(StatusFailed))
	})

	t.Run("regression disallowed", func(t *testing.T) {
		t.Parallel()
		assert.False(t, StatusStage3.CanTransition(StatusStage1))
		assert.False(t, StatusStage2.CanTransition(StatusStage2))
		assert.False(t, StatusCompleted.CanTransition(StatusPending))
	})

	t.Run("terminal states are final", func(t *testing.T) {
		t.Parallel()
		assert.False(t, StatusCompleted.CanTransition(StatusFailed))
		assert.False(t, StatusFailed.CanTransition(StatusCompleted))
		assert.True(t, StatusCompleted.Terminal())
		assert.True(t, StatusFailed.Terminal())
		assert.False(t, StatusStage4.Terminal())
	})
}

func TestProcessingResultAdvance(t *testing.T) {
	t.Parallel()

	p := &ProcessingResult{RunID: "r1", Domain: "example.com", Status: StatusPending}

	assert.True(t, p.Advance(StatusStage1))
	assert.Equal(t, StatusStage1, p.Status)
	assert.False(t, p.UpdatedAt.IsZero())

	// Regression leaves the result untouched.
	assert.False(t, p.Advance(StatusPending))
	assert.Equal(t, StatusStage1, p.Status)

	assert.True(t, p.Advance(StatusCompleted))
	assert.False(t, p.Advance(StatusFailed))
}

func TestArbitrationStatusTransitions(t *testing.T) {
	t.Parallel()

	assert.True(t, ArbitrationPending.CanTransition(ArbitrationProcessing))
	assert.True(t, ArbitrationProcessing.CanTransition(ArbitrationCompleted))
	assert.True(t, ArbitrationProcessing.CanTransition(ArbitrationFailed))
	assert.False(t, ArbitrationCompleted.CanTransition(ArbitrationProcessing))
	assert.False(t, ArbitrationFailed.CanTransition(ArbitrationCompleted))
	assert.False(t, ArbitrationProcessing.CanTransition(ArbitrationPending))
}

func TestClaimTypeTieRank(t *testing.T) {
	t.Parallel()

	// gleif_verified > gleif_relationship > extracted > generated > suspect.
	assert.Less(t, ClaimGLEIFVerified.TieRank(), ClaimGLEIFRelationship.TieRank())
	assert.Less(t, ClaimGLEIFRelationship.TieRank(), ClaimExtracted.TieRank())
	assert.Less(t, ClaimExtracted.TieRank(), ClaimGenerated.TieRank())
	assert.Less(t, ClaimGenerated.TieRank(), ClaimSuspect.TieRank())
	assert.Greater(t, ClaimType("bogus").TieRank(), ClaimSuspect.TieRank())
}
