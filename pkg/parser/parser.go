// Package parser reads Paje execution traces (SimGrid/SMPI -trace output)
// and decodes each line into a typed Record.
package parser

// Kind identifies the decoded shape of a trace record.
type Kind uint8

const (
	// KindUnrecognized is any record whose event code is not handled.
	KindUnrecognized Kind = iota
	// KindMalformed is a handled record with missing or invalid fields.
	KindMalformed
	// KindDefineState is a PajeDefineEntityValue record for a state.
	KindDefineState
	// KindPushState is a PajePushState record.
	KindPushState
	// KindStartLink is a PajeStartLink record.
	KindStartLink
	// KindEndLink is a PajeEndLink record.
	KindEndLink
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindMalformed:
		return "malformed"
	case KindDefineState:
		return "define_state"
	case KindPushState:
		return "push_state"
	case KindStartLink:
		return "start_link"
	case KindEndLink:
		return "end_link"
	default:
		return "unrecognized"
	}
}

// Kinds lists every Kind in declaration order.
func Kinds() []Kind {
	return []Kind{
		KindUnrecognized,
		KindMalformed,
		KindDefineState,
		KindPushState,
		KindStartLink,
		KindEndLink,
	}
}

// Event codes handled by Decode. The numbering is fixed by the Paje
// header that SimGrid emits, not by this package.
const (
	CodeDefineEntityValue = "5"
	CodePushState         = "12"
	CodeStartLink         = "15"
	CodeEndLink           = "16"

	// stateValueType is the entity-type discriminator of a define record
	// that names a state value.
	stateValueType = "2"

	// CommentPrefix marks a header or comment line.
	CommentPrefix = '%'
)

// Record is one decoded trace line.
//
// Only the fields relevant to Kind are set:
//
//	KindDefineState: StateID, StateName
//	KindPushState:   Entity, StateID
//	KindStartLink:   Time, Entity (origin), Key
//	KindEndLink:     Time, Entity (destination), Key
//	KindMalformed:   Reason
type Record struct {
	Kind Kind

	// Code is the raw event-type token.
	Code string

	// Line is the 1-based line number in the trace.
	Line int

	Time      float64
	Entity    string
	StateID   string
	StateName string
	Key       string

	Reason string
}

// Config holds scanner configuration.
type Config struct {
	// BufferSize is the size of the read buffer in bytes.
	BufferSize int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize: 64 * 1024,
	}
}
