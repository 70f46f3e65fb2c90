package memory

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"usqutils/internal/blob/object"
	"usqutils/internal/blob/object/objecttest"
)

func TestConformance(t *testing.T) {
	objecttest.Run(t, func(*testing.T) object.Store { return New() })
}

func TestGetServesPrivateCopy(t *testing.T) {
	ctx := context.Background()
	s := New()
	if _, err := s.Put(ctx, "k", strings.NewReader("abc"), object.PutOptions{Metadata: map[string]string{"a": "1"}}); err != nil {
		t.Fatal(err)
	}
	info, rc, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	data, _ := io.ReadAll(rc)
	data[0] = 'z'
	info.Metadata["a"] = "2"

	again, err := s.Head(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if again.Metadata["a"] != "1" {
		t.Fatal("metadata shared with caller")
	}
	_, rc, _ = s.Get(ctx, "k")
	fresh, _ := io.ReadAll(rc)
	if string(fresh) != "abc" {
		t.Fatalf("content shared with caller: %q", fresh)
	}
}

func TestPresignUnsupported(t *testing.T) {
	if _, err := New().PresignURL(context.Background(), "k", object.PresignOptions{}); !errors.Is(err, object.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}
