package orchestrator

import "fmt"

// Stage is a phase in the build-and-publish pipeline.
type Stage string

const (
	StageInit       Stage = "init"
	StageResolving  Stage = "resolving"
	StageFetching   Stage = "fetching"
	StageBuilding   Stage = "building"
	StagePackaging  Stage = "packaging"
	StagePublishing Stage = "publishing"
	StageDone       Stage = "done"
	StageFailed     Stage = "failed"
)

// IsTerminal reports whether the stage is terminal.
func IsTerminal(s Stage) bool {
	return s == StageDone || s == StageFailed
}

// machine enforces the pipeline's stage order for a single run. Stages only
// move forward; any non-terminal stage may fail.
type machine struct {
	current Stage
}

func newMachine() *machine {
	return &machine{current: StageInit}
}

func (m *machine) Current() Stage {
	return m.current
}

// Advance performs a validated transition. An invalid transition is a
// programming error, not a pipeline failure.
func (m *machine) Advance(to Stage) error {
	if !isAllowedTransition(m.current, to) {
		return fmt.Errorf("invalid stage transition: %s -> %s", m.current, to)
	}
	m.current = to
	return nil
}

func isAllowedTransition(from, to Stage) bool {
	if to == StageFailed {
		return !IsTerminal(from)
	}
	switch from {
	case StageInit:
		return to == StageResolving
	case StageResolving:
		return to == StageFetching
	case StageFetching:
		return to == StageBuilding
	case StageBuilding:
		return to == StagePackaging
	case StagePackaging:
		return to == StagePublishing
	case StagePublishing:
		return to == StageDone
	default:
		return false
	}
}
