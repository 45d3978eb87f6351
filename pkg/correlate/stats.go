package correlate

import (
	"github.com/RoaringBitmap/roaring"

	"github.com/logflow/commtrace/pkg/parser"
)

// Stats summarizes one extraction pass.
type Stats struct {
	// Lines is the number of trace lines read, comments included.
	Lines int `json:"lines"`

	// BytesRead is the number of trace bytes consumed.
	BytesRead int64 `json:"bytes_read"`

	// Records counts decoded records by kind name.
	Records map[string]int `json:"records"`

	// Outcomes counts applied records by outcome name.
	Outcomes map[string]int `json:"outcomes"`

	// Communications is the number of emitted rows.
	Communications int `json:"communications"`

	// PendingAtEOF is the number of started links never ended.
	PendingAtEOF int `json:"pending_at_eof"`

	// Entities and StateDefinitions size the state table at EOF.
	Entities         int `json:"entities"`
	StateDefinitions int `json:"state_definitions"`

	// MalformedLines holds the line numbers of malformed records.
	MalformedLines *roaring.Bitmap `json:"-"`
}

// counters is the allocation-free accumulator behind Stats.
type counters struct {
	kinds     [int(parser.KindEndLink) + 1]int
	outcomes  [numOutcomes]int
	malformed *roaring.Bitmap
}

func newCounters() *counters {
	return &counters{malformed: roaring.New()}
}

func (c *counters) observe(rec parser.Record, o Outcome) {
	if int(rec.Kind) < len(c.kinds) {
		c.kinds[rec.Kind]++
	}
	c.outcomes[o]++
	if o == OutcomeMalformed && rec.Line > 0 {
		c.malformed.Add(uint32(rec.Line))
	}
}

func (c *counters) stats() Stats {
	st := Stats{
		Records:        make(map[string]int, len(c.kinds)),
		Outcomes:       make(map[string]int, numOutcomes),
		MalformedLines: c.malformed,
	}
	for _, k := range parser.Kinds() {
		if n := c.kinds[k]; n > 0 {
			st.Records[k.String()] = n
		}
	}
	for i, n := range c.outcomes {
		if n > 0 {
			st.Outcomes[Outcome(i).String()] = n
		}
	}
	return st
}

// Count returns the number of records with outcome o.
func (s Stats) Count(o Outcome) int {
	return s.Outcomes[o.String()]
}

// Malformed returns the malformed line numbers in ascending order.
func (s Stats) Malformed() []uint32 {
	if s.MalformedLines == nil {
		return nil
	}
	return s.MalformedLines.ToArray()
}
