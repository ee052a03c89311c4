package pipeline

// State is where a run has got to.
type State string

const (
	Triggered        State = "triggered"
	CountingChanges  State = "counting_changes"
	Skipped          State = "skipped"
	Provisioning     State = "provisioning"
	Uploading        State = "uploading"
	Diffing          State = "diffing"
	Staging          State = "staging"
	TerminatingStale State = "terminating_stale"
	Running          State = "running"
	Polling          State = "polling"
	Passed           State = "passed"
	Failed           State = "failed"
)

// next lists the states each state can move on to. Any state that
// isn't terminal can also move to Failed.
var next = map[State][]State{
	Triggered:        {CountingChanges},
	CountingChanges:  {Skipped, Provisioning},
	Provisioning:     {Uploading},
	Uploading:        {Diffing},
	Diffing:          {Staging},
	Staging:          {TerminatingStale},
	TerminatingStale: {Running},
	Running:          {Polling},
	Polling:          {Passed},
}

// Terminal is true for the states a run ends in.
func (s State) Terminal() bool {
	return s == Skipped || s == Passed || s == Failed
}

// CanMoveTo says whether a run in this state may go to the state
// given.
func (s State) CanMoveTo(to State) bool {
	if s.Terminal() {
		return false
	}
	if to == Failed {
		return true
	}
	for _, n := range next[s] {
		if n == to {
			return true
		}
	}
	return false
}
