package bundle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"usqutils/internal/blob"
	"usqutils/internal/core"
	"usqutils/pkg/classifier"
	"usqutils/pkg/table"
)

// Write stores contents (and predictions, when non-nil) under prefix and
// returns the manifest it wrote. The manifest is written last so a reader
// never sees one that points at missing objects.
func Write(ctx context.Context, store blob.Store, prefix string, contents core.StoreContents, predictions *classifier.Result) (Manifest, error) {
	manifest := Manifest{
		Version: contents.Version,
		Tables:  make(map[string]TableEntry, 3),
	}
	type object struct {
		name        string
		contentType string
		encode      func(*bytes.Buffer) error
	}
	var objects []object

	for name, t := range map[string]*table.Table{TableTidy: contents.Tidy, TableRaw: contents.Raw, TablePublication: contents.Publication} {
		if t == nil {
			return Manifest{}, fmt.Errorf("bundle: %s table required", name)
		}
		file := name + ".csv"
		manifest.Tables[name] = TableEntry{File: file, Columns: SchemaOf(t)}
		objects = append(objects, object{file, "text/csv", func(b *bytes.Buffer) error { return EncodeTable(b, t) }})
	}
	for key, m := range contents.Expressions {
		file := matrixFile(key)
		manifest.Expressions = append(manifest.Expressions, MatrixEntry{Tier: key.Tier, Scheme: key.Scheme, File: file})
		objects = append(objects, object{file, "text/tab-separated-values", func(b *bytes.Buffer) error { return EncodeMatrix(b, m) }})
	}
	sortEntries(manifest.Expressions)

	manifest.ChangeLog = ChangeLogKey
	snapshot := contents.ChangeLog
	objects = append(objects, object{ChangeLogKey, "application/json", func(b *bytes.Buffer) error {
		return json.NewEncoder(b).Encode(snapshot)
	}})
	if predictions != nil {
		manifest.Predictions = PredictionsKey
		objects = append(objects, object{PredictionsKey, "application/json", func(b *bytes.Buffer) error {
			return json.NewEncoder(b).Encode(predictions)
		}})
	}
	if err := manifest.Validate(); err != nil {
		return Manifest{}, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, obj := range objects {
		g.Go(func() error {
			var buf bytes.Buffer
			if err := obj.encode(&buf); err != nil {
				return fmt.Errorf("encode %s: %w", obj.name, err)
			}
			_, err := blob.PutBytes(gctx, store, objectKey(prefix, obj.name), buf.Bytes(), obj.contentType, map[string]string{"bundle_version": contents.Version})
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return Manifest{}, err
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return Manifest{}, fmt.Errorf("encode manifest: %w", err)
	}
	if _, err := blob.PutBytes(ctx, store, objectKey(prefix, ManifestKey), data, "application/json", nil); err != nil {
		return Manifest{}, err
	}
	return manifest, nil
}

func sortEntries(entries []MatrixEntry) {
	slices.SortFunc(entries, func(a, b MatrixEntry) int { return strings.Compare(a.File, b.File) })
}
