package pipeline

import (
	"errors"

	"github.com/sells-group/entity-resolver/internal/arbiter"
	"github.com/sells-group/entity-resolver/internal/matcher"
)

// Stable machine-readable error codes exposed on failed runs.
const (
	CodeNoClaims            = "no_claims"
	CodeRegistryUnavailable = "registry_unavailable"
	CodeArbitrationInternal = arbiter.CodeInternal
	CodeOracleFailed        = "oracle_failed"
)

// ErrNoClaims is returned when a run produces zero claims. The run is not
// failed: no arbitration was attempted and no ArbitrationResult is persisted.
var ErrNoClaims = arbiter.ErrNoClaims

// ErrorCode maps a pipeline error to its stable code. Unknown errors map to
// the internal arbitration code since only arbitration logic errors are fatal.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrNoClaims) {
		return CodeNoClaims
	}
	var regErr *matcher.RegistryUnavailableError
	if errors.As(err, &regErr) {
		return CodeRegistryUnavailable
	}
	var failErr *arbiter.FailureError
	if errors.As(err, &failErr) {
		return failErr.Code
	}
	return CodeArbitrationInternal
}
