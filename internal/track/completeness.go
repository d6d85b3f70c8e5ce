package track

import (
	"fmt"
	"strings"
	"time"
)

// CompletenessMode selects the predicate that decides when a track is ready
// to export
type CompletenessMode string

const (
	// CompletenessStrict requires an ICAO address and either a resolved
	// position or at least one decoded field
	CompletenessStrict CompletenessMode = "strict"
	// CompletenessLegacy requires both CPR slots and a positive altitude
	CompletenessLegacy CompletenessMode = "legacy"
	// CompletenessRelaxed only requires an ICAO address
	CompletenessRelaxed CompletenessMode = "relaxed"
)

// ParseCompletenessMode validates a mode name. The empty string selects strict.
func ParseCompletenessMode(s string) (CompletenessMode, error) {
	switch mode := CompletenessMode(strings.ToLower(strings.TrimSpace(s))); mode {
	case "":
		return CompletenessStrict, nil
	case CompletenessStrict, CompletenessLegacy, CompletenessRelaxed:
		return mode, nil
	default:
		return "", fmt.Errorf("invalid completeness mode: %s (must be 'strict', 'legacy' or 'relaxed')", s)
	}
}

// Gate decides export readiness and detects false to true transitions
type Gate struct {
	Mode CompletenessMode
	// ReexportInterval re-emits a complete track once this much time has
	// passed since its last export. Zero disables re-export.
	ReexportInterval time.Duration
}

// Ready evaluates the completeness predicate
func (g Gate) Ready(t *Track) bool {
	if t.ICAO == "" {
		return false
	}
	switch g.Mode {
	case CompletenessRelaxed:
		return true
	case CompletenessLegacy:
		return t.Even != nil && t.Odd != nil && t.Altitude != nil && *t.Altitude > 0
	default:
		return t.PositionComputed || t.DecodedFields > 0
	}
}

// Evaluate updates the track's Complete flag and reports whether a snapshot
// should be exported now: on a false to true transition, or when the
// re-export interval has elapsed for an already complete track. LastExport is
// stamped when it returns true.
func (g Gate) Evaluate(t *Track, now time.Time) bool {
	ready := g.Ready(t)
	wasComplete := t.Complete
	t.Complete = ready

	export := false
	switch {
	case ready && !wasComplete:
		export = true
	case ready && g.ReexportInterval > 0 && now.Sub(t.LastExport) >= g.ReexportInterval:
		export = true
	}
	if export {
		t.LastExport = now
	}
	return export
}
