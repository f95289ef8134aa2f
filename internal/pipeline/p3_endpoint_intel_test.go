package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestDeriveBehaviorIDBasedStateChanging locks spec.md §8 S3: an
// id-shaped path on a state-changing method is both STATE_CHANGING and
// id-based at once, not method-wins-only.
func TestDeriveBehaviorIDBasedStateChanging(t *testing.T) {
	behavior, idBased := deriveBehavior("POST", "/api/users/:id/update")
	assert.Equal(t, "STATE_CHANGING", behavior)
	assert.True(t, idBased)
}

func TestDeriveBehaviorReadOnlyIDBased(t *testing.T) {
	behavior, idBased := deriveBehavior("GET", "/api/users/42")
	assert.Equal(t, "ID_BASED_ACCESS", behavior)
	assert.True(t, idBased)
}

func TestDeriveBehaviorStateChangingNoID(t *testing.T) {
	behavior, idBased := deriveBehavior("POST", "/api/users")
	assert.Equal(t, "STATE_CHANGING", behavior)
	assert.False(t, idBased)
}

// TestGenerateHypothesesS3Shape locks spec.md §8 S3: category=API,
// behavior=STATE_CHANGING+ID_BASED_ACCESS, param id->MEDIUM must yield
// both IDOR and SQLI hypotheses, not SQLI alone.
func TestGenerateHypothesesS3Shape(t *testing.T) {
	params := []paramCandidate{{Name: "id", Location: "path", Sensitivity: "MEDIUM"}}
	hyps := generateHypotheses("API", "/api/users/:id/update", true, params)

	attackTypes := make(map[string]bool, len(hyps))
	for _, h := range hyps {
		attackTypes[h.AttackType] = true
	}
	assert.True(t, attackTypes["IDOR"], "expected IDOR hypothesis for id-based endpoint")
	assert.True(t, attackTypes["SQLI"], "expected SQLI hypothesis for sensitive API param")
	assert.Len(t, hyps, 2)
}

func TestGenerateHypothesesStateChangingWithoutID(t *testing.T) {
	hyps := generateHypotheses("API", "/api/users", false, nil)
	for _, h := range hyps {
		assert.NotEqual(t, "IDOR", h.AttackType)
	}
}
