// Package playback wraps a single media pipeline with verse-aware
// transport controls and a bounded A-B repeat loop.
package playback

// LoopInfinite makes an A-B loop repeat until explicitly disabled.
const LoopInfinite = -1

// LoopState is the A-B repeat sub-state. It is a value type; transitions
// are pure functions returning the next state plus the action the engine
// must perform, which keeps the machine unit-testable without a pipeline.
type LoopState struct {
	Enabled     bool  `json:"enabled"`
	StartMs     int64 `json:"start_ms"`
	EndMs       int64 `json:"end_ms"`
	CurrentLoop int   `json:"current_loop"`
	TotalLoops  int   `json:"total_loops"`
}

// LoopAction is what the engine must do after a transition
type LoopAction int

// Loop actions
const (
	// LoopNone: no pipeline action required.
	LoopNone LoopAction = iota

	// LoopSeekStart: seek back to the loop start and keep playing.
	LoopSeekStart

	// LoopFinish: the loop is exhausted; pause playback.
	LoopFinish
)

// LoopDisabled returns the disabled loop state
func LoopDisabled() LoopState {
	return LoopState{}
}

// LoopEnabled enters the loop with zero completed iterations.
// totalLoops of LoopInfinite never exhausts.
func LoopEnabled(startMs, endMs int64, totalLoops int) LoopState {
	return LoopState{
		Enabled:    true,
		StartMs:    startMs,
		EndMs:      endMs,
		TotalLoops: totalLoops,
	}
}

// Tick advances the machine for one position poll. Crossing the loop end
// either seeks back to the start (counting one iteration) or, once all
// requested iterations have played, disables the loop and pauses.
func (s LoopState) Tick(positionMs int64) (LoopState, LoopAction) {
	if !s.Enabled || positionMs < s.EndMs {
		return s, LoopNone
	}
	if s.TotalLoops == LoopInfinite || s.CurrentLoop < s.TotalLoops-1 {
		s.CurrentLoop++
		return s, LoopSeekStart
	}
	return LoopDisabled(), LoopFinish
}

// EndOfMedia handles the pipeline reaching natural end-of-media while the
// loop is enabled: the loop region is the effective track end, so this is
// a crossing of the loop end, with the same iteration accounting.
func (s LoopState) EndOfMedia() (LoopState, LoopAction) {
	if !s.Enabled {
		return s, LoopNone
	}
	return s.Tick(s.EndMs)
}
