package object

import (
	"errors"
	"testing"
)

func TestCheckKey(t *testing.T) {
	valid := []string{"manifest.json", "cohort/v2/tidy.csv", "exports/abc/1.csv"}
	for _, key := range valid {
		if err := CheckKey(key); err != nil {
			t.Errorf("CheckKey(%q): %v", key, err)
		}
	}
	invalid := []string{"", "  ", "/abs", "dir/", "a//b", "a/./b", "../up", "a/../b", `a\b`}
	for _, key := range invalid {
		if err := CheckKey(key); err == nil {
			t.Errorf("CheckKey(%q) accepted", key)
		}
	}
}

func TestSentinels(t *testing.T) {
	if !errors.Is(NotFound("k"), ErrNotFound) {
		t.Fatal("NotFound does not wrap ErrNotFound")
	}
	if !errors.Is(Exists("k"), ErrExists) {
		t.Fatal("Exists does not wrap ErrExists")
	}
}

func TestChecksumAndClone(t *testing.T) {
	if got := Checksum([]byte("abc")); got != "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad" {
		t.Fatalf("checksum %s", got)
	}
	in := Info{Key: "a", Metadata: map[string]string{"bundle_version": "1"}}
	out := in.Clone()
	out.Metadata["bundle_version"] = "2"
	if in.Metadata["bundle_version"] != "1" {
		t.Fatal("clone shares metadata")
	}
	infos := []Info{{Key: "b"}, {Key: "a"}}
	SortByKey(infos)
	if infos[0].Key != "a" {
		t.Fatalf("unsorted %v", infos)
	}
}
