package alm

import (
	"fmt"
	"slices"

	"github.com/mesh-intelligence/almsync/pkg/types"
)

// TestTable is an editable test step table: named columns and one row of
// cell values per step. Cells hold HTML content.
type TestTable struct {
	columns []string
	rows    [][]string
}

// NewTestTable returns an empty table with the given columns.
func NewTestTable(columns ...string) *TestTable {
	return &TestTable{columns: slices.Clone(columns)}
}

func tableFromSteps(s types.TestSteps) *TestTable {
	t := &TestTable{}
	for _, k := range s.Keys {
		t.columns = append(t.columns, k.ID)
	}
	for _, step := range s.Steps {
		row := make([]string, len(step.Values))
		for i, v := range step.Values {
			row[i] = v.Content
		}
		t.rows = append(t.rows, row)
	}
	return t
}

// Columns returns the column names.
func (t *TestTable) Columns() []string {
	return slices.Clone(t.columns)
}

// Len returns the number of steps.
func (t *TestTable) Len() int {
	return len(t.rows)
}

// Step returns the cells of step i.
func (t *TestTable) Step(i int) ([]string, error) {
	if err := t.checkIndex(i, len(t.rows)); err != nil {
		return nil, err
	}
	return slices.Clone(t.rows[i]), nil
}

// Append adds a step at the end.
func (t *TestTable) Append(values ...string) error {
	return t.Insert(len(t.rows), values...)
}

// Insert adds a step before position i; i == Len appends.
func (t *TestTable) Insert(i int, values ...string) error {
	if err := t.checkRow(values); err != nil {
		return err
	}
	if err := t.checkIndex(i, len(t.rows)+1); err != nil {
		return err
	}
	t.rows = slices.Insert(t.rows, i, slices.Clone(values))
	return nil
}

// Replace overwrites step i.
func (t *TestTable) Replace(i int, values ...string) error {
	if err := t.checkRow(values); err != nil {
		return err
	}
	if err := t.checkIndex(i, len(t.rows)); err != nil {
		return err
	}
	t.rows[i] = slices.Clone(values)
	return nil
}

// Delete removes step i.
func (t *TestTable) Delete(i int) error {
	if err := t.checkIndex(i, len(t.rows)); err != nil {
		return err
	}
	t.rows = slices.Delete(t.rows, i, i+1)
	return nil
}

// Clear removes every step.
func (t *TestTable) Clear() {
	t.rows = nil
}

func (t *TestTable) checkRow(values []string) error {
	if len(values) != len(t.columns) {
		return fmt.Errorf("%w: got %d values for %d columns", types.ErrStepColumns, len(values), len(t.columns))
	}
	return nil
}

func (t *TestTable) checkIndex(i, n int) error {
	if i < 0 || i >= n {
		return fmt.Errorf("%w: step %d of %d", types.ErrInvalidIndex, i, len(t.rows))
	}
	return nil
}

// steps renders the table in its wire form.
func (t *TestTable) steps() types.TestSteps {
	s := types.TestSteps{Keys: []types.EnumOption{}, Steps: []types.TestStep{}}
	for _, c := range t.columns {
		s.Keys = append(s.Keys, types.EnumOption{ID: c})
	}
	for _, row := range t.rows {
		step := types.TestStep{Values: make([]types.Text, len(row))}
		for i, v := range row {
			step.Values[i] = *types.HTML(v)
		}
		s.Steps = append(s.Steps, step)
	}
	return s
}
