package correlate

// Outcome is what applying one record did to the extraction state.
// Every skip is a named outcome rather than a swallowed error.
type Outcome uint8

const (
	// OutcomeIgnored: the record kind is not handled.
	OutcomeIgnored Outcome = iota
	// OutcomeMalformed: the record was missing fields or had a bad time.
	OutcomeMalformed
	// OutcomeDefined: a state name was defined.
	OutcomeDefined
	// OutcomePushed: an entity's current state changed.
	OutcomePushed
	// OutcomeStarted: a link became pending.
	OutcomeStarted
	// OutcomeOverwritten: a link became pending and replaced an earlier
	// pending start with the same key.
	OutcomeOverwritten
	// OutcomeEmitted: an end matched a pending start and a row was emitted.
	OutcomeEmitted
	// OutcomeUnmatchedEnd: an end had no pending start.
	OutcomeUnmatchedEnd
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeMalformed:
		return "malformed"
	case OutcomeDefined:
		return "defined"
	case OutcomePushed:
		return "pushed"
	case OutcomeStarted:
		return "started"
	case OutcomeOverwritten:
		return "overwritten"
	case OutcomeEmitted:
		return "emitted"
	case OutcomeUnmatchedEnd:
		return "unmatched_end"
	default:
		return "ignored"
	}
}

// numOutcomes sizes per-outcome counters.
const numOutcomes = int(OutcomeUnmatchedEnd) + 1
