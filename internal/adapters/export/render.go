package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html"
	"strings"

	"usqutils/internal/core"
	"usqutils/pkg/domain"
	"usqutils/pkg/table"
)

// Format names an artifact encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatTSV  Format = "tsv"
	FormatJSON Format = "json"
	FormatHTML Format = "html"
)

// Formats lists the supported formats.
func Formats() []Format { return []Format{FormatCSV, FormatTSV, FormatJSON, FormatHTML} }

// ParseFormat resolves a format token.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Formats() {
		if f == known {
			return f, nil
		}
	}
	return "", domain.ConfigurationError{Parameter: "format", Value: s, Reason: "must be one of csv, tsv, json, html"}
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatTSV:
		return "text/tab-separated-values"
	case FormatJSON:
		return "application/json"
	case FormatHTML:
		return "text/html"
	}
	return "application/octet-stream"
}

// Exportable reports whether a response of the given shape can be flattened
// into a single table.
func Exportable(shape domain.ReturnShape) bool {
	switch shape {
	case domain.ShapeChangeLog, domain.ShapeFullStore:
		return false
	}
	return shape.Valid()
}

// Tabulate flattens an accessor response into one table: the filtered table
// for the table shapes, the joined metadata for everything and a gene by
// sample table for expressions_only.
func Tabulate(resp core.Response) (*table.Table, error) {
	switch resp.Config.Shape {
	case domain.ShapeTidy, domain.ShapeRaw, domain.ShapePublication:
		if resp.Table == nil {
			return nil, fmt.Errorf("response has no table")
		}
		return resp.Table, nil
	case domain.ShapeEverything:
		if resp.Everything == nil || resp.Everything.Metadata == nil {
			return nil, fmt.Errorf("response has no metadata")
		}
		return resp.Everything.Metadata, nil
	case domain.ShapeExpressionsOnly:
		if resp.Expressions == nil {
			return nil, fmt.Errorf("response has no expressions")
		}
		return MatrixTable(resp.Expressions)
	}
	return nil, fmt.Errorf("shape %s cannot be exported as a table", resp.Config.Shape)
}

// MatrixTable turns a matrix into a table with a gene column followed by one
// numeric column per sample.
func MatrixTable(m *table.Matrix) (*table.Table, error) {
	genes := make([]any, len(m.Genes))
	for i, g := range m.Genes {
		genes[i] = g
	}
	cols := []table.Column{table.NewColumn("gene", table.StringType(), genes)}
	for s, id := range m.Samples {
		values := make([]any, len(m.Genes))
		for g := range m.Genes {
			values[g] = m.Values[g][s]
		}
		cols = append(cols, table.Column{Name: id, Type: table.NumericType(), Values: values})
	}
	return table.New(cols...)
}

// TableDoc is the JSON rendering of one table.
type TableDoc struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

func tableDoc(t *table.Table) *TableDoc {
	if t == nil {
		return nil
	}
	return &TableDoc{Columns: t.Names(), Rows: t.Rows()}
}

// EverythingDoc is the JSON rendering of the everything shape: the joined
// metadata, the expression subset, every prediction table and the resolved
// request.
type EverythingDoc struct {
	Metadata     *TableDoc           `json:"metadata"`
	Expressions  *TableDoc           `json:"expressions,omitempty"`
	Predictions5 *TableDoc           `json:"predictions_5,omitempty"`
	Predictions7 *TableDoc           `json:"predictions_7,omitempty"`
	Scores       *TableDoc           `json:"scores,omitempty"`
	Signatures   *TableDoc           `json:"signatures,omitempty"`
	Config       core.ResolvedConfig `json:"config"`
}

// Everything renders an everything response as one document.
func Everything(ev *core.Everything) (EverythingDoc, error) {
	if ev == nil || ev.Metadata == nil {
		return EverythingDoc{}, fmt.Errorf("response has no metadata")
	}
	doc := EverythingDoc{
		Metadata:     tableDoc(ev.Metadata),
		Predictions5: tableDoc(ev.Predictions5),
		Predictions7: tableDoc(ev.Predictions7),
		Scores:       tableDoc(ev.Scores),
		Signatures:   tableDoc(ev.Signatures),
		Config:       ev.Config,
	}
	if ev.Expressions != nil {
		expr, err := MatrixTable(ev.Expressions)
		if err != nil {
			return EverythingDoc{}, fmt.Errorf("tabulate expressions: %w", err)
		}
		doc.Expressions = tableDoc(expr)
	}
	return doc, nil
}

// Render encodes t in the requested format.
func Render(format Format, title string, t *table.Table) ([]byte, error) {
	switch format {
	case FormatCSV:
		return renderDelimited(t, ',')
	case FormatTSV:
		return renderDelimited(t, '\t')
	case FormatJSON:
		payload, err := json.Marshal(struct {
			Title string `json:"title,omitempty"`
			*TableDoc
		}{title, tableDoc(t)})
		if err != nil {
			return nil, fmt.Errorf("marshal json: %w", err)
		}
		return payload, nil
	case FormatHTML:
		return renderHTML(title, t), nil
	}
	return nil, fmt.Errorf("unsupported export format %s", format)
}

func renderDelimited(t *table.Table, comma rune) ([]byte, error) {
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	writer.Comma = comma
	if err := writer.Write(t.Names()); err != nil {
		return nil, err
	}
	cols := t.Columns()
	record := make([]string, len(cols))
	for r := 0; r < t.NumRows(); r++ {
		for i, c := range cols {
			record[i] = formatCell(c.Values[r])
		}
		if err := writer.Write(record); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func renderHTML(title string, t *table.Table) []byte {
	buf := &strings.Builder{}
	buf.WriteString("<!DOCTYPE html><html><head><meta charset=\"utf-8\"><title>")
	buf.WriteString(html.EscapeString(title))
	buf.WriteString("</title></head><body><table>")
	buf.WriteString("<thead><tr>")
	for _, name := range t.Names() {
		buf.WriteString("<th>")
		buf.WriteString(html.EscapeString(name))
		buf.WriteString("</th>")
	}
	buf.WriteString("</tr></thead><tbody>")
	cols := t.Columns()
	for r := 0; r < t.NumRows(); r++ {
		buf.WriteString("<tr>")
		for _, c := range cols {
			buf.WriteString("<td>")
			buf.WriteString(html.EscapeString(formatCell(c.Values[r])))
			buf.WriteString("</td>")
		}
		buf.WriteString("</tr>")
	}
	buf.WriteString("</tbody></table></body></html>")
	return []byte(buf.String())
}

func formatCell(v any) string {
	if table.IsMissing(v) {
		return table.MissingToken
	}
	return table.FormatValue(v)
}
