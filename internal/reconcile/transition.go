package reconcile

// Transition is the lifecycle action needed to move observed state toward
// desired state.
type Transition int

const (
	NoOp Transition = iota
	Create
	Update
	Delete
)

// String returns a human-readable name for the transition.
func (t Transition) String() string {
	switch t {
	case NoOp:
		return "noop"
	case Create:
		return "create"
	case Update:
		return "update"
	case Delete:
		return "delete"
	default:
		return "unknown"
	}
}

// Resolve determines the transition for an observed/desired presence pair.
//
//	absent  -> present: Create
//	present -> present: Update
//	present -> absent:  Delete
//	absent  -> absent:  NoOp
//
// Any pair involving PresenceUnknown resolves to NoOp. Callers that need to
// reject such values must validate before resolving.
func Resolve(is, should Presence) Transition {
	switch is {
	case Absent:
		return resolveFromAbsent(should)
	case Present:
		return resolveFromPresent(should)
	}

	return NoOp
}

func resolveFromAbsent(should Presence) Transition {
	if should == Present {
		return Create
	}
	return NoOp
}

func resolveFromPresent(should Presence) Transition {
	switch should {
	case Present:
		return Update
	case Absent:
		return Delete
	}
	return NoOp
}
