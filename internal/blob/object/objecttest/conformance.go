// Package objecttest checks that a backend honours the object.Store contract.
package objecttest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"usqutils/internal/blob/object"
)

// Run exercises store with bundle-shaped keys. open must return an empty store.
func Run(t *testing.T, open func(t *testing.T) object.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("PutGetHead", func(t *testing.T) {
		s := open(t)
		payload := []byte("sample_id,age\nS1,61\n")
		info, err := s.Put(ctx, "cohort/tidy.csv", bytes.NewReader(payload), object.PutOptions{
			ContentType: "text/csv",
			Metadata:    map[string]string{"bundle_version": "2.1.0"},
		})
		if err != nil {
			t.Fatalf("put: %v", err)
		}
		if info.Key != "cohort/tidy.csv" || info.Size != int64(len(payload)) {
			t.Fatalf("put info %+v", info)
		}
		got, rc, err := s.Get(ctx, "cohort/tidy.csv")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		data, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if !bytes.Equal(data, payload) {
			t.Fatalf("payload %q", data)
		}
		if got.ContentType != "text/csv" || got.Metadata["bundle_version"] != "2.1.0" {
			t.Fatalf("get info %+v", got)
		}
		head, err := s.Head(ctx, "cohort/tidy.csv")
		if err != nil {
			t.Fatalf("head: %v", err)
		}
		if head.Size != int64(len(payload)) {
			t.Fatalf("head size %d", head.Size)
		}
		if head.Checksum != "" && head.Checksum != object.Checksum(payload) {
			t.Fatalf("checksum %s", head.Checksum)
		}
	})

	t.Run("WriteOnce", func(t *testing.T) {
		s := open(t)
		put(t, s, "cohort/manifest.json", "{}")
		_, err := s.Put(ctx, "cohort/manifest.json", strings.NewReader("{ }"), object.PutOptions{})
		if !errors.Is(err, object.ErrExists) {
			t.Fatalf("expected ErrExists, got %v", err)
		}
	})

	t.Run("Missing", func(t *testing.T) {
		s := open(t)
		if _, err := s.Head(ctx, "cohort/absent.csv"); !errors.Is(err, object.ErrNotFound) {
			t.Fatalf("head: expected ErrNotFound, got %v", err)
		}
		if _, _, err := s.Get(ctx, "cohort/absent.csv"); !errors.Is(err, object.ErrNotFound) {
			t.Fatalf("get: expected ErrNotFound, got %v", err)
		}
		removed, err := s.Delete(ctx, "cohort/absent.csv")
		if err != nil || removed {
			t.Fatalf("delete missing: %v %v", removed, err)
		}
	})

	t.Run("InvalidKey", func(t *testing.T) {
		s := open(t)
		if _, err := s.Put(ctx, "../escape", strings.NewReader("x"), object.PutOptions{}); err == nil {
			t.Fatal("expected key error")
		}
		for _, key := range []string{"../escape", "a//b", "/lead", ""} {
			if _, err := s.Head(ctx, key); err == nil || errors.Is(err, object.ErrNotFound) {
				t.Fatalf("head %q: expected key error, got %v", key, err)
			}
			if _, _, err := s.Get(ctx, key); err == nil || errors.Is(err, object.ErrNotFound) {
				t.Fatalf("get %q: expected key error, got %v", key, err)
			}
			if removed, err := s.Delete(ctx, key); err == nil || removed {
				t.Fatalf("delete %q: expected key error, got %v %v", key, removed, err)
			}
		}
	})

	t.Run("ListAndDelete", func(t *testing.T) {
		s := open(t)
		put(t, s, "exports/r2/b.json", "[]")
		put(t, s, "exports/r1/a.csv", "a")
		put(t, s, "cohort/raw.csv", "b")
		infos, err := s.List(ctx, "exports/")
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(infos) != 2 || infos[0].Key != "exports/r1/a.csv" || infos[1].Key != "exports/r2/b.json" {
			t.Fatalf("list %+v", infos)
		}
		removed, err := s.Delete(ctx, "exports/r1/a.csv")
		if err != nil || !removed {
			t.Fatalf("delete: %v %v", removed, err)
		}
		all, err := s.List(ctx, "")
		if err != nil {
			t.Fatalf("list all: %v", err)
		}
		if len(all) != 2 {
			t.Fatalf("after delete %+v", all)
		}
	})
}

func put(t *testing.T, s object.Store, key, body string) {
	t.Helper()
	if _, err := s.Put(context.Background(), key, strings.NewReader(body), object.PutOptions{}); err != nil {
		t.Fatalf("put %s: %v", key, err)
	}
}
