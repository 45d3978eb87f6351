// Package correlate reconstructs point-to-point communications from a
// decoded Paje trace.
//
// A single pass keeps three tables: state id to state name, entity to
// current state id, and pending links by correlation key. Start-link
// records snapshot the origin's activity; the matching end-link record
// snapshots the destination's activity and emits a row. All state is local
// to one Extract call.
package correlate

import (
	"context"
	"io"

	"github.com/logflow/commtrace/internal/model"
	cterrors "github.com/logflow/commtrace/pkg/errors"
	"github.com/logflow/commtrace/pkg/parser"
)

// Observer is called once per applied record, in trace order.
type Observer func(rec parser.Record, outcome Outcome)

// Options configures an extraction.
type Options struct {
	Parser   parser.Config
	Observer Observer
}

// Option mutates Options.
type Option func(*Options)

// WithParserConfig sets the scanner configuration.
func WithParserConfig(cfg parser.Config) Option {
	return func(o *Options) {
		o.Parser = cfg
	}
}

// WithObserver registers a per-record callback.
func WithObserver(fn Observer) Option {
	return func(o *Options) {
		o.Observer = fn
	}
}

// Result is the output of one extraction pass.
type Result struct {
	Communications []model.Communication
	Stats          Stats
}

// Extractor applies records to the state table and correlator.
// It is single-use and not safe for concurrent use.
type Extractor struct {
	states     *States
	table      *Table
	correlator *Correlator
	counters   *counters
	observer   Observer
}

// NewExtractor creates an Extractor with empty tables.
func NewExtractor(observer Observer) *Extractor {
	states := NewStates()
	table := &Table{}
	return &Extractor{
		states:     states,
		table:      table,
		correlator: NewCorrelator(states, table),
		counters:   newCounters(),
		observer:   observer,
	}
}

// Apply dispatches one record and returns what it did.
func (e *Extractor) Apply(rec parser.Record) Outcome {
	var o Outcome
	switch rec.Kind {
	case parser.KindDefineState:
		e.states.Define(rec.StateID, rec.StateName)
		o = OutcomeDefined
	case parser.KindPushState:
		e.states.Push(rec.Entity, rec.StateID)
		o = OutcomePushed
	case parser.KindStartLink:
		o = e.correlator.Start(rec.Key, rec.Time, rec.Entity)
	case parser.KindEndLink:
		o = e.correlator.End(rec.Key, rec.Time, rec.Entity)
	case parser.KindMalformed:
		o = OutcomeMalformed
	default:
		o = OutcomeIgnored
	}

	e.counters.observe(rec, o)
	if e.observer != nil {
		e.observer(rec, o)
	}
	return o
}

// Result returns the rows emitted so far and the pass statistics.
func (e *Extractor) Result() *Result {
	st := e.counters.stats()
	st.Communications = e.table.Len()
	st.PendingAtEOF = e.correlator.Pending()
	st.Entities = e.states.Entities()
	st.StateDefinitions = e.states.Definitions()
	return &Result{
		Communications: e.table.Rows(),
		Stats:          st,
	}
}

// Extract reads a whole trace from r and returns the correlated rows.
// Malformed records and unmatched ends are counted, not returned as
// errors; only a read failure or cancellation aborts the pass.
func Extract(ctx context.Context, r io.Reader, opts ...Option) (*Result, error) {
	o := Options{Parser: parser.DefaultConfig()}
	for _, opt := range opts {
		opt(&o)
	}

	ex := NewExtractor(o.Observer)
	sc := parser.NewScanner(r, o.Parser)

	for sc.Scan() {
		select {
		case <-ctx.Done():
			return nil, cterrors.Canceled("extract", ctx.Err()).WithContext("line", sc.Line())
		default:
		}
		ex.Apply(sc.Record())
	}
	if err := sc.Err(); err != nil {
		return nil, cterrors.ReadFailed(err).WithContext("line", sc.Line()+1)
	}

	res := ex.Result()
	res.Stats.Lines = sc.Line()
	res.Stats.BytesRead = sc.BytesRead()
	return res, nil
}
