package correlate

import "github.com/logflow/commtrace/internal/model"

// pendingLink is a started link waiting for its end record.
type pendingLink struct {
	startTime      float64
	origin         string
	originActivity string
}

// Correlator pairs start and end link records by correlation key.
//
// Each key is either absent or pending. A start always leaves its key
// pending, replacing any earlier start under the same key. An end on a
// pending key emits one row and makes the key absent again; an end on an
// absent key emits nothing.
type Correlator struct {
	states  *States
	pending map[string]pendingLink
	out     *Table
}

// NewCorrelator creates a correlator that resolves activities through
// states and appends completed rows to out.
func NewCorrelator(states *States, out *Table) *Correlator {
	return &Correlator{
		states:  states,
		pending: make(map[string]pendingLink),
		out:     out,
	}
}

// Start parks a link under key, snapshotting the origin's activity now.
func (c *Correlator) Start(key string, t float64, origin string) Outcome {
	_, replaced := c.pending[key]
	c.pending[key] = pendingLink{
		startTime:      t,
		origin:         origin,
		originActivity: c.states.ActivityName(origin),
	}
	if replaced {
		return OutcomeOverwritten
	}
	return OutcomeStarted
}

// End completes the link pending under key, snapshotting the
// destination's activity now.
func (c *Correlator) End(key string, t float64, destination string) Outcome {
	link, ok := c.pending[key]
	if !ok {
		return OutcomeUnmatchedEnd
	}
	delete(c.pending, key)

	c.out.Append(model.Communication{
		Origin:              link.origin,
		Destination:         destination,
		OriginActivity:      link.originActivity,
		DestinationActivity: c.states.ActivityName(destination),
		StartTime:           link.startTime,
		EndTime:             t,
	})
	return OutcomeEmitted
}

// Pending returns the number of links still waiting for an end.
func (c *Correlator) Pending() int {
	return len(c.pending)
}
