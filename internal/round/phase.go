package round

type Phase string

const (
	PhasePrompt   Phase = "prompt"
	PhaseGuessing Phase = "guessing"
	PhaseVoting   Phase = "voting"
	PhaseScoring  Phase = "scoring"
	PhaseFinished Phase = "finished"
)

// phases lists every phase in progression order. No phase is ever revisited.
var phases = [...]Phase{PhasePrompt, PhaseGuessing, PhaseVoting, PhaseScoring, PhaseFinished}

func (p Phase) String() string { return string(p) }

// index returns the position of p in the progression, or -1 for an unknown phase.
func (p Phase) index() int {
	for i, q := range phases {
		if q == p {
			return i
		}
	}
	return -1
}

func (p Phase) Valid() bool { return p.index() >= 0 }

// Before reports whether p comes strictly earlier than q.
func (p Phase) Before(q Phase) bool {
	return p.Valid() && q.Valid() && p.index() < q.index()
}

// Timed reports whether a timeout may be scheduled for p. The scoring timer
// only retries a finish that did not commit.
func (p Phase) Timed() bool {
	return p == PhasePrompt || p == PhaseGuessing || p == PhaseVoting || p == PhaseScoring
}

// CanTransitionTo checks the one-directional phase graph.
func (p Phase) CanTransitionTo(target Phase) bool {
	switch p {
	case PhasePrompt:
		return target == PhaseGuessing || target == PhaseFinished
	case PhaseGuessing:
		return target == PhaseVoting
	case PhaseVoting:
		return target == PhaseScoring
	case PhaseScoring:
		return target == PhaseFinished
	}
	return false
}
