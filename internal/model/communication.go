// Package model defines core data structures for commtrace.
package model

import "strconv"

// Column names of the communication table, in output order.
// The downstream aggregation layer reads these exact headers.
const (
	ColumnOrigin              = "Rank Origem"
	ColumnDestination         = "Rank Destino"
	ColumnOriginActivity      = "Ação da Origem"
	ColumnDestinationActivity = "Estado do Destino"
	ColumnStartTime           = "Tempo Inicial"
	ColumnEndTime             = "Tempo Final"

	// ColumnDuration is the optional derived column (end - start).
	ColumnDuration = "Duracao"
)

// Columns returns the table header. When withDuration is set the derived
// duration column is appended.
func Columns(withDuration bool) []string {
	cols := []string{
		ColumnOrigin,
		ColumnDestination,
		ColumnOriginActivity,
		ColumnDestinationActivity,
		ColumnStartTime,
		ColumnEndTime,
	}
	if withDuration {
		cols = append(cols, ColumnDuration)
	}
	return cols
}

// Communication is one correlated point-to-point message.
// Values are immutable once emitted by the correlator.
type Communication struct {
	// Origin is the entity (rank) that started the link.
	Origin string `json:"origin"`

	// Destination is the entity (rank) that ended the link.
	Destination string `json:"destination"`

	// OriginActivity is the state name of Origin when the link started.
	OriginActivity string `json:"origin_activity"`

	// DestinationActivity is the state name of Destination when the link ended.
	DestinationActivity string `json:"destination_activity"`

	// StartTime and EndTime are trace timestamps in seconds.
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
}

// Duration returns EndTime - StartTime.
func (c Communication) Duration() float64 {
	return c.EndTime - c.StartTime
}

// Strings renders the row as text cells in Columns order.
func (c Communication) Strings(withDuration bool) []string {
	row := []string{
		c.Origin,
		c.Destination,
		c.OriginActivity,
		c.DestinationActivity,
		FormatTime(c.StartTime),
		FormatTime(c.EndTime),
	}
	if withDuration {
		row = append(row, FormatTime(c.Duration()))
	}
	return row
}

// FormatTime renders a timestamp with the shortest exact decimal text and
// always keeps a fractional part, so 10 is written as "10.0". It never
// switches to exponent notation: 0.00001 is written as "0.00001", where
// pandas' to_csv would write "1e-05". Readers parsing either form as a
// float get the same value.
func FormatTime(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '.', 'N', 'I':
			return s
		}
	}
	return s + ".0"
}
