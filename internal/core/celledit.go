package core

import (
	"errors"
	"fmt"
	"time"

	"usqutils/pkg/domain"
	"usqutils/pkg/table"
)

// CellEdit identifies one cell correction.
type CellEdit struct {
	// ID is matched against the rendered value of IDColumn.
	ID string
	// IDColumn defaults to domain.SampleIDColumn.
	IDColumn string
	Column   string
	// Value is coerced to the column type; nil writes a missing value.
	Value  any
	Reason string
}

// CellEditResult is the outcome of UpdateCell.
type CellEditResult struct {
	Table    *table.Table
	Entry    domain.CellUpdate
	Rows     []int
	Warnings []string
}

// UpdateCell validates edit against the target column type and returns an
// updated copy of t. Every matching row is updated; more than one match is
// reported as a warning. When log is non-nil a CellUpdate is appended to it.
func UpdateCell(t *table.Table, edit CellEdit, log *domain.ChangeLog, now time.Time) (CellEditResult, error) {
	idColumn := edit.IDColumn
	if idColumn == "" {
		idColumn = domain.SampleIDColumn
	}
	if !t.HasColumn(idColumn) {
		return CellEditResult{}, domain.NotFoundError{Kind: "column", Name: idColumn}
	}
	col, ok := t.Column(edit.Column)
	if !ok {
		return CellEditResult{}, domain.NotFoundError{Kind: "column", Name: edit.Column}
	}
	rows, err := t.RowsWhere(idColumn, edit.ID)
	if err != nil {
		return CellEditResult{}, err
	}
	if len(rows) == 0 {
		return CellEditResult{}, domain.NotFoundError{Kind: "row", Name: fmt.Sprintf("%s=%s", idColumn, edit.ID)}
	}

	var value any
	if !table.IsMissing(edit.Value) {
		value, err = col.Type.Coerce(edit.Value)
		if err != nil {
			var cerr *table.CoercionError
			if !errors.As(err, &cerr) {
				return CellEditResult{}, err
			}
			verr := domain.ValidationError{Column: col.Name, Value: table.FormatValue(edit.Value), Type: col.Type.Kind.String()}
			if col.Type.Kind == table.KindCategorical {
				verr.Valid = col.Type.Clone().Levels
			}
			return CellEditResult{}, verr
		}
	}

	old := make([]any, len(rows))
	for i, r := range rows {
		old[i] = col.Values[r]
	}
	updated, err := t.WithValue(rows, col.Name, value)
	if err != nil {
		return CellEditResult{}, err
	}

	res := CellEditResult{Table: updated, Rows: rows}
	if len(rows) > 1 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%d rows matched %s=%s; all were updated", len(rows), idColumn, edit.ID))
	}
	entry := domain.CellUpdate{
		SampleID:  edit.ID,
		IDColumn:  idColumn,
		Column:    col.Name,
		OldValues: old,
		NewValue:  value,
		Reason:    edit.Reason,
		Timestamp: now.UTC(),
	}
	if log != nil {
		entry = log.AppendCellUpdate(entry)
	} else {
		entry.Key = domain.CellUpdateKey(entry.SampleID, entry.Column, entry.Timestamp)
	}
	res.Entry = entry
	return res, nil
}
