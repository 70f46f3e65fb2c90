package bundle

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"usqutils/pkg/table"
)

// ColumnSchema is the manifest form of one table column.
type ColumnSchema struct {
	Name    string   `json:"name"`
	Type    string   `json:"type"`
	Levels  []string `json:"levels,omitempty"`
	Ordered bool     `json:"ordered,omitempty"`
}

// SchemaOf describes the columns of t.
func SchemaOf(t *table.Table) []ColumnSchema {
	cols := t.Columns()
	out := make([]ColumnSchema, len(cols))
	for i, c := range cols {
		out[i] = ColumnSchema{Name: c.Name, Type: c.Type.Kind.String(), Levels: c.Type.Levels, Ordered: c.Type.Ordered}
	}
	return out
}

// ColumnType resolves the schema entry to a table column type.
func (c ColumnSchema) ColumnType() (table.ColumnType, error) {
	kind, ok := table.ParseKind(c.Type)
	if !ok {
		return table.ColumnType{}, fmt.Errorf("column %s: unknown type %q", c.Name, c.Type)
	}
	if kind == table.KindCategorical {
		return table.Categorical(c.Levels, c.Ordered), nil
	}
	if len(c.Levels) > 0 {
		return table.ColumnType{}, fmt.Errorf("column %s: levels on %s column", c.Name, kind)
	}
	return table.ColumnType{Kind: kind}, nil
}

// EncodeTable writes t as CSV with a header row. Missing values are written
// as table.MissingToken. The sentinel is not escaped: a string cell holding
// "NA" or "" reads back as missing, matching how the cohort files mark NA.
func EncodeTable(w io.Writer, t *table.Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Names()); err != nil {
		return err
	}
	cols := t.Columns()
	record := make([]string, len(cols))
	for r := 0; r < t.NumRows(); r++ {
		for i, c := range cols {
			if table.IsMissing(c.Values[r]) {
				record[i] = table.MissingToken
				continue
			}
			record[i] = table.FormatValue(c.Values[r])
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// DecodeTable reads a CSV table written by EncodeTable. The header must name
// exactly the schema columns, in any order; the output follows schema order.
func DecodeTable(r io.Reader, schema []ColumnSchema) (*table.Table, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) != len(schema) {
		return nil, fmt.Errorf("header has %d columns, schema has %d", len(header), len(schema))
	}
	pos := make(map[string]int, len(header))
	for i, name := range header {
		pos[name] = i
	}
	types := make([]table.ColumnType, len(schema))
	index := make([]int, len(schema))
	for i, c := range schema {
		p, ok := pos[c.Name]
		if !ok {
			return nil, fmt.Errorf("column %s missing from header", c.Name)
		}
		if types[i], err = c.ColumnType(); err != nil {
			return nil, err
		}
		index[i] = p
	}

	values := make([][]any, len(schema))
	for line := 2; ; line++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		for i, typ := range types {
			v, err := typ.ParseCell(record[index[i]])
			if err != nil {
				return nil, fmt.Errorf("line %d column %s: %w", line, schema[i].Name, err)
			}
			values[i] = append(values[i], v)
		}
	}
	cols := make([]table.Column, len(schema))
	for i, c := range schema {
		cols[i] = table.Column{Name: c.Name, Type: types[i], Values: values[i]}
		if cols[i].Values == nil {
			cols[i].Values = []any{}
		}
	}
	return table.New(cols...)
}

// EncodeMatrix writes m as TSV: a header of "gene" followed by the sample
// identifiers, then one row per gene.
func EncodeMatrix(w io.Writer, m *table.Matrix) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString("gene\t" + strings.Join(m.Samples, "\t") + "\n"); err != nil {
		return err
	}
	for g, gene := range m.Genes {
		bw.WriteString(gene)
		for _, v := range m.Values[g] {
			bw.WriteByte('\t')
			bw.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// DecodeMatrix reads a TSV matrix written by EncodeMatrix.
func DecodeMatrix(r io.Reader) (*table.Matrix, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 1<<20), 64<<20)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("read header: %w", err)
		}
		return nil, fmt.Errorf("empty matrix")
	}
	header := strings.Split(strings.TrimRight(sc.Text(), "\r"), "\t")
	if len(header) < 2 || header[0] != "gene" {
		return nil, fmt.Errorf("malformed matrix header")
	}
	samples := slices.Clone(header[1:])
	var (
		genes  []string
		values [][]float64
	)
	for line := 2; sc.Scan(); line++ {
		text := strings.TrimRight(sc.Text(), "\r")
		if text == "" {
			continue
		}
		fields := strings.Split(text, "\t")
		if len(fields) != len(header) {
			return nil, fmt.Errorf("line %d has %d fields, want %d", line, len(fields), len(header))
		}
		row := make([]float64, len(samples))
		for i, f := range fields[1:] {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d sample %s: %w", line, samples[i], err)
			}
			row[i] = v
		}
		genes = append(genes, fields[0])
		values = append(values, row)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return table.NewMatrix(genes, samples, values)
}
