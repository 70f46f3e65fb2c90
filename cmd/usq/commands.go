package main

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"usqutils/internal/adapters/export"
	"usqutils/internal/core"
	"usqutils/pkg/domain"
	"usqutils/pkg/table"
)

func newMetadataCmd(current func() *app, root *rootOptions) *cobra.Command {
	var (
		shape, category, geneID, format string
		sampleIDs, exportFormats        []string
		runClassifier, store            bool
		requestedBy, reason, title      string
	)
	cmd := &cobra.Command{
		Use:   "metadata",
		Short: "Filter the cohort metadata and optionally join subtype predictions",
		Long: `Filters one of the metadata tables by category group or sample identifiers.

Examples:
  usq metadata --category uc_index_high_quality
  usq metadata --shape raw --sample-id S0001 --sample-id S0002 --format json
  usq metadata --run-classifier --store --export-format csv,html`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := current()
			opts := a.cfg.ClassifierOptions()
			if geneID != "" {
				opts.GeneID = domain.GeneIDScheme(geneID)
			}
			req := core.Request{
				Shape:         domain.ReturnShape(shape),
				Category:      domain.CategoryGroup(category),
				SampleIDs:     sampleIDs,
				RunClassifier: runClassifier,
				Classifier:    &opts,
				Verbose:       root.verbose,
			}
			if store {
				formats := make([]export.Format, 0, len(exportFormats))
				for _, f := range exportFormats {
					parsed, err := export.ParseFormat(f)
					if err != nil {
						return err
					}
					formats = append(formats, parsed)
				}
				rec, err := a.exporter.Export(cmd.Context(), export.Input{
					Request: req, Formats: formats, Title: title, RequestedBy: requestedBy, Reason: reason,
				})
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), rec)
			}

			resp, err := a.service.GetMetadata(cmd.Context(), req)
			if err != nil {
				return err
			}
			writeDiagnostics(cmd.ErrOrStderr(), resp.Diagnostics)
			switch resp.Config.Shape {
			case domain.ShapeChangeLog:
				return writeJSON(cmd.OutOrStdout(), resp.ChangeLog)
			case domain.ShapeFullStore:
				return writeJSON(cmd.OutOrStdout(), storeSummary(resp.Store))
			case domain.ShapeEverything:
				doc, err := export.Everything(resp.Everything)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), doc)
			}
			tbl, err := export.Tabulate(resp)
			if err != nil {
				return err
			}
			return writeTable(cmd.OutOrStdout(), format, title, tbl)
		},
	}
	f := cmd.Flags()
	f.StringVar(&shape, "shape", string(domain.ShapeTidy), "return shape: tidy, raw, publication, change_log, full_store, everything, expressions_only")
	f.StringVar(&category, "category", "", "category group filter")
	f.StringSliceVar(&sampleIDs, "sample-id", nil, "sample identifiers; replaces the category filter")
	f.BoolVar(&runClassifier, "run-classifier", false, "join subtype predictions onto the result")
	f.StringVar(&geneID, "gene-id", "", "gene identifier scheme: hgnc or ensembl (default from config)")
	f.StringVar(&format, "format", string(export.FormatCSV), "output format: csv, tsv, json, html")
	f.BoolVar(&store, "store", false, "store the result as artifacts in the blob store instead of printing it")
	f.StringSliceVar(&exportFormats, "export-format", []string{string(export.FormatCSV)}, "artifact formats for --store")
	f.StringVar(&title, "title", "", "title for json and html output")
	f.StringVar(&requestedBy, "requested-by", "", "actor recorded with stored artifacts")
	f.StringVar(&reason, "reason", "", "reason recorded with stored artifacts")
	return cmd
}

func newExpressionsCmd(current func() *app) *cobra.Command {
	var tier, geneID, format string
	cmd := &cobra.Command{
		Use:   "expressions",
		Short: "Print one expression matrix as a gene by sample table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := current()
			scheme := domain.GeneIDScheme(geneID)
			if scheme == "" {
				scheme = a.cfg.ClassifierOptions().GeneID
			}
			m, err := a.service.LoadExpressions(cmd.Context(), domain.QualityTier(tier), scheme)
			if err != nil {
				return err
			}
			tbl, err := export.MatrixTable(m)
			if err != nil {
				return err
			}
			return writeTable(cmd.OutOrStdout(), format, "", tbl)
		},
	}
	cmd.Flags().StringVar(&tier, "tier", string(domain.TierAllSamples), "quality tier: high_quality or all_samples")
	cmd.Flags().StringVar(&geneID, "gene-id", "", "gene identifier scheme: hgnc or ensembl (default from config)")
	cmd.Flags().StringVar(&format, "format", string(export.FormatTSV), "output format: csv, tsv, json, html")
	return cmd
}

func newPADCmd(current func() *app) *cobra.Command {
	var (
		returnAll bool
		source    string
	)
	cmd := &cobra.Command{
		Use:   "pad PAD...",
		Short: "Resolve PAD identifiers to sample identifiers",
		Long: `Looks up the samples recorded under the given PAD identifiers. Only UC
index tumours are returned unless --all is set, in which case every matched
row is printed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := current()
			var t *table.Table
			switch source {
			case "tidy":
				t = a.service.Store().Tidy()
			case "raw":
				t = a.service.Store().Raw()
			default:
				return configError("table", source, "must be tidy or raw")
			}
			res, err := a.service.ResolvePADs(cmd.Context(), args, t, core.PADOptions{ReturnAll: returnAll})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.ErrOrStderr(), res.String())
			if returnAll && res.Matches != nil {
				return writeTable(cmd.OutOrStdout(), string(export.FormatCSV), "", res.Matches)
			}
			for _, id := range res.SampleIDs {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&returnAll, "all", false, "return every matched row, not only UC index tumours")
	cmd.Flags().StringVar(&source, "table", "tidy", "table to search: tidy or raw")
	return cmd
}

func newEditCellCmd(current func() *app) *cobra.Command {
	var (
		edit    core.CellEdit
		value   string
		missing bool
	)
	cmd := &cobra.Command{
		Use:   "edit-cell",
		Short: "Correct one cell of the tidy table and log the change",
		Long: `Validates the new value against the column type and records the
correction in the session change log, which is persisted to the configured
change log store.

Example:
  usq edit-cell --id S0003 --column age --value 72 --reason "chart review"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := current()
			switch {
			case missing && cmd.Flags().Changed("value"):
				return configError("value", value, "--value and --missing are exclusive")
			case missing:
				edit.Value = nil
			case !cmd.Flags().Changed("value"):
				return configError("value", "", "--value or --missing required")
			default:
				edit.Value = value
			}
			res, err := a.service.UpdateCell(cmd.Context(), a.service.Store().Tidy(), edit)
			if err != nil {
				return err
			}
			for _, w := range res.Warnings {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning:", w)
			}
			return writeJSON(cmd.OutOrStdout(), res.Entry)
		},
	}
	f := cmd.Flags()
	f.StringVar(&edit.ID, "id", "", "identifier of the row to edit")
	f.StringVar(&edit.IDColumn, "id-column", domain.SampleIDColumn, "column holding the identifier")
	f.StringVar(&edit.Column, "column", "", "column to edit")
	f.StringVar(&value, "value", "", "new value, coerced to the column type")
	f.BoolVar(&missing, "missing", false, "write a missing value")
	f.StringVar(&edit.Reason, "reason", "", "reason recorded with the change")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("column")
	return cmd
}

func newChangeLogCmd(current func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "changelog",
		Short: "Print the provenance and session change logs as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := current().service.GetMetadata(cmd.Context(), core.Request{Shape: domain.ShapeChangeLog})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), resp.ChangeLog)
		},
	}
}

type summary struct {
	Version     string         `json:"version"`
	Rows        map[string]int `json:"rows"`
	Expressions []string       `json:"expressions"`
	ChangeLog   int            `json:"change_log_entries"`
}

func storeSummary(c *core.StoreContents) summary {
	if c == nil {
		return summary{}
	}
	s := summary{
		Version: c.Version,
		Rows: map[string]int{
			"tidy":        c.Tidy.NumRows(),
			"raw":         c.Raw.NumRows(),
			"publication": c.Publication.NumRows(),
		},
		ChangeLog: c.ChangeLog.Len(),
	}
	for key := range c.Expressions {
		s.Expressions = append(s.Expressions, key.String())
	}
	slices.Sort(s.Expressions)
	return s
}

func writeTable(w io.Writer, format, title string, t *table.Table) error {
	f, err := export.ParseFormat(format)
	if err != nil {
		return err
	}
	payload, err := export.Render(f, title, t)
	if err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	if f == export.FormatJSON || f == export.FormatHTML {
		_, err = io.WriteString(w, "\n")
	}
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeDiagnostics(w io.Writer, d core.Diagnostics) {
	fmt.Fprintf(w, "kept %d of %d samples\n", d.Kept, d.Total)
	if len(d.UnknownSampleIDs) > 0 {
		fmt.Fprintf(w, "unknown sample ids: %s\n", strings.Join(d.UnknownSampleIDs, ", "))
	}
	for _, warning := range d.Warnings {
		fmt.Fprintln(w, "warning:", warning)
	}
}
