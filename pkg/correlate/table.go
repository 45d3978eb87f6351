package correlate

import "github.com/logflow/commtrace/internal/model"

// Table accumulates emitted communications in the order their end
// records were seen.
type Table struct {
	rows []model.Communication
}

// Append adds a row.
func (t *Table) Append(c model.Communication) {
	t.rows = append(t.rows, c)
}

// Rows returns the accumulated rows. The slice is owned by the table.
func (t *Table) Rows() []model.Communication {
	return t.rows
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.rows)
}
