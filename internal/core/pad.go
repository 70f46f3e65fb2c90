package core

import (
	"fmt"
	"slices"
	"strings"

	"usqutils/pkg/domain"
	"usqutils/pkg/table"
)

// PADOptions tunes ResolvePADs. Column names default to the tidy layout, or
// to the raw layout when the table carries the raw PAD column instead.
type PADOptions struct {
	// ReturnAll lifts the index tumour restriction and returns the matched rows.
	ReturnAll      bool
	PADColumn      string
	IDColumn       string
	CategoryColumn string
}

// PADResult holds the resolved sample identifiers and the lookup diagnostics.
type PADResult struct {
	SampleIDs []string
	// Matches is set only when ReturnAll was requested.
	Matches        *table.Table
	MatchedSamples int
	RequestedPADs  int
	UnmatchedPADs  []string
}

// ResolvePADs looks up the samples whose PAD matches one of pads. By default
// only the UC index groups are considered.
func ResolvePADs(pads []string, t *table.Table, opts PADOptions) (PADResult, error) {
	if len(pads) == 0 {
		return PADResult{}, domain.ConfigurationError{Parameter: "pads", Reason: "at least one PAD identifier required"}
	}
	if t == nil {
		return PADResult{}, domain.ConfigurationError{Parameter: "table", Reason: "metadata table required"}
	}
	padCol, idCol, catCol := padColumns(t, opts)
	for _, c := range []string{padCol, idCol} {
		if !t.HasColumn(c) {
			return PADResult{}, domain.NotFoundError{Kind: "column", Name: c}
		}
	}
	if !opts.ReturnAll && !t.HasColumn(catCol) {
		return PADResult{}, domain.NotFoundError{Kind: "column", Name: catCol}
	}

	requested := make(map[string]struct{}, len(pads))
	for _, p := range pads {
		if p = strings.TrimSpace(p); p != "" {
			requested[p] = struct{}{}
		}
	}
	padValues, _ := t.Strings(padCol)
	var categories []string
	if !opts.ReturnAll {
		categories, _ = t.Strings(catCol)
	}
	allowed := indexCategoryValues()

	matchedPADs := make(map[string]struct{})
	var rows []int
	for r, pad := range padValues {
		if _, hit := requested[pad]; !hit {
			continue
		}
		if !opts.ReturnAll {
			if _, ok := allowed[categories[r]]; !ok {
				continue
			}
		}
		matchedPADs[pad] = struct{}{}
		rows = append(rows, r)
	}

	matched := t.Take(rows)
	ids, _ := matched.Strings(idCol)
	res := PADResult{
		SampleIDs:      ids,
		MatchedSamples: len(rows),
		RequestedPADs:  len(requested),
	}
	for p := range requested {
		if _, ok := matchedPADs[p]; !ok {
			res.UnmatchedPADs = append(res.UnmatchedPADs, p)
		}
	}
	slices.Sort(res.UnmatchedPADs)
	if opts.ReturnAll {
		res.Matches = matched
	}
	return res, nil
}

func padColumns(t *table.Table, opts PADOptions) (pad, id, category string) {
	pad, id, category = domain.PADColumn, domain.SampleIDColumn, domain.CategoryColumn
	if !t.HasColumn(domain.PADColumn) && t.HasColumn(domain.RawPADColumn) {
		pad, id, category = domain.RawPADColumn, domain.RawSampleIDColumn, domain.RawCategoryColumn
	}
	if opts.PADColumn != "" {
		pad = opts.PADColumn
	}
	if opts.IDColumn != "" {
		id = opts.IDColumn
	}
	if opts.CategoryColumn != "" {
		category = opts.CategoryColumn
	}
	return pad, id, category
}

// indexCategoryValues accepts both the key and the raw label of the UC index
// groups so the restriction works on tidy and raw tables alike.
func indexCategoryValues() map[string]struct{} {
	out := make(map[string]struct{})
	for _, c := range domain.CategoryGroups() {
		if c.IsIndexTumor() {
			out[string(c)] = struct{}{}
			out[c.RawLabel()] = struct{}{}
		}
	}
	return out
}

func (r PADResult) String() string {
	return fmt.Sprintf("%d samples matched from %d PAD identifiers", r.MatchedSamples, r.RequestedPADs)
}
