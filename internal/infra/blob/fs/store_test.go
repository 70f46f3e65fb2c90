package fs

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"usqutils/internal/blob/object"
	"usqutils/internal/blob/object/objecttest"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestConformance(t *testing.T) {
	objecttest.Run(t, func(t *testing.T) object.Store { return newStore(t) })
}

func TestDataFilesAreReadableAsIs(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	if _, err := s.Put(ctx, "cohort/tidy.csv", strings.NewReader("sample_id\nS1\n"), object.PutOptions{ContentType: "text/csv"}); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(s.Root(), "cohort", "tidy.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "sample_id\nS1\n" {
		t.Fatalf("file content %q", data)
	}
	if _, err := os.Stat(filepath.Join(s.Root(), metaDir, "cohort", "tidy.csv.json")); err != nil {
		t.Fatalf("descriptor missing: %v", err)
	}
}

func TestHandCopiedFileWithoutDescriptor(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	dir := filepath.Join(s.Root(), "cohort")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	info, err := s.Head(ctx, "cohort/manifest.json")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if info.Size != 2 || info.Checksum != "" {
		t.Fatalf("info %+v", info)
	}
	infos, err := s.List(ctx, "cohort/")
	if err != nil || len(infos) != 1 {
		t.Fatalf("list %+v %v", infos, err)
	}
}

func TestReservedMetaPrefix(t *testing.T) {
	s := newStore(t)
	_, err := s.Put(context.Background(), ".meta/x.json", strings.NewReader("{}"), object.PutOptions{})
	if err == nil || !strings.Contains(err.Error(), "reserved") {
		t.Fatalf("expected reserved key error, got %v", err)
	}
}

func TestConcurrentPutSameKey(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		won     int
		existed int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Put(ctx, "cohort/change_log.json", strings.NewReader("[]"), object.PutOptions{})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				won++
			case errors.Is(err, object.ErrExists):
				existed++
			default:
				t.Errorf("put: %v", err)
			}
		}()
	}
	wg.Wait()
	if won != 1 || existed != 7 {
		t.Fatalf("won=%d existed=%d", won, existed)
	}
}

func TestPresignURL(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	if _, err := s.PresignURL(ctx, "exports/none.csv", object.PresignOptions{}); !errors.Is(err, object.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.Put(ctx, "exports/r1/a.csv", strings.NewReader("a"), object.PutOptions{}); err != nil {
		t.Fatal(err)
	}
	raw, err := s.PresignURL(ctx, "exports/r1/a.csv", object.PresignOptions{})
	if err != nil {
		t.Fatal(err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if u.Scheme != "file" || !strings.HasSuffix(u.Path, "/exports/r1/a.csv") {
		t.Fatalf("url %s", raw)
	}
}

func TestDefaultRoot(t *testing.T) {
	t.Chdir(t.TempDir())
	s, err := New("")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(s.Root()) != "blobdata" {
		t.Fatalf("root %s", s.Root())
	}
}
