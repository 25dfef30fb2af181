package consumer

// Outcome classifies what processing an inbound message did.
type Outcome int

const (
	// OutcomeApplied means the domain effect ran and was committed.
	OutcomeApplied Outcome = iota
	// OutcomeAlreadyProcessed means the dedup record existed; no effect ran.
	OutcomeAlreadyProcessed
	// OutcomeNotFound means the effect targeted an entity that is absent.
	// The message is still consumed.
	OutcomeNotFound
	// OutcomeUnrecognized means the event type carries no effect here.
	OutcomeUnrecognized
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeAlreadyProcessed:
		return "already-processed"
	case OutcomeNotFound:
		return "not-found"
	case OutcomeUnrecognized:
		return "unrecognized"
	default:
		return "unknown"
	}
}
