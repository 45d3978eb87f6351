package parser

import (
	"errors"
	"strconv"
	"strings"
	"unicode"
)

// Field offsets within a tokenized line. Index 0 is the event code, so
// these are one more than the position after the code.
const (
	defineStateID   = 1
	defineTypeField = 2
	defineName      = 3

	pushEntity  = 3
	pushStateID = 4

	linkTime   = 1
	linkEntity = 5
	linkKey    = 6
)

// Malformed reasons.
const (
	ReasonTooFewFields = "too few fields"
	ReasonBadTime      = "invalid time"
)

// Tokenize splits a line into whitespace-separated fields.
func Tokenize(line string) []string {
	return strings.Fields(line)
}

// IsSkippable reports whether a line carries no record: it is blank,
// whitespace-only, or its first non-blank character is the comment marker.
func IsSkippable(line string) bool {
	trimmed := strings.TrimLeftFunc(line, unicode.IsSpace)
	return trimmed == "" || trimmed[0] == CommentPrefix
}

// Decode classifies tokenized fields into a Record. It never fails:
// unusable input decodes to KindMalformed or KindUnrecognized.
func Decode(fields []string) Record {
	if len(fields) == 0 {
		return Record{Kind: KindMalformed, Reason: ReasonTooFewFields}
	}

	rec := Record{Code: fields[0]}

	switch fields[0] {
	case CodeDefineEntityValue:
		if len(fields) <= defineTypeField {
			return malformed(rec, ReasonTooFewFields)
		}
		if fields[defineTypeField] != stateValueType {
			rec.Kind = KindUnrecognized
			return rec
		}
		if len(fields) <= defineName {
			return malformed(rec, ReasonTooFewFields)
		}
		rec.Kind = KindDefineState
		rec.StateID = fields[defineStateID]
		rec.StateName = Unquote(fields[defineName])

	case CodePushState:
		if len(fields) <= pushStateID {
			return malformed(rec, ReasonTooFewFields)
		}
		rec.Kind = KindPushState
		rec.Entity = fields[pushEntity]
		rec.StateID = fields[pushStateID]

	case CodeStartLink, CodeEndLink:
		if len(fields) <= linkKey {
			return malformed(rec, ReasonTooFewFields)
		}
		// Out of range times keep the ±Inf or zero ParseFloat returns.
		t, err := strconv.ParseFloat(fields[linkTime], 64)
		if err != nil && !errors.Is(err, strconv.ErrRange) {
			return malformed(rec, ReasonBadTime)
		}
		rec.Kind = KindStartLink
		if fields[0] == CodeEndLink {
			rec.Kind = KindEndLink
		}
		rec.Time = t
		rec.Entity = fields[linkEntity]
		rec.Key = fields[linkKey]

	default:
		rec.Kind = KindUnrecognized
	}

	return rec
}

// Unquote removes one leading and one trailing double quote, if present.
func Unquote(s string) string {
	s = strings.TrimPrefix(s, `"`)
	return strings.TrimSuffix(s, `"`)
}

func malformed(rec Record, reason string) Record {
	rec.Kind = KindMalformed
	rec.Reason = reason
	return rec
}
