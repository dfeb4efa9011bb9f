package envstore

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func newStore(t *testing.T) (*Store, string, *[]string) {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "shop"), 0o755); err != nil {
		t.Fatal(err)
	}
	var evicted []string
	s := New(root, func(slug string) { evicted = append(evicted, slug) })
	return s, root, &evicted
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	s, _, evicted := newStore(t)

	in := map[string]string{
		"API_KEY":   "abc123",
		"GREETING":  "hello world", // whitespace → quoted
		"COMMENTED": "a#b",         // '#' → quoted
		"_PRIVATE":  "x",
	}
	if err := s.Save("shop", in); err != nil {
		t.Fatalf("Save: %v", err)
	}

	out, err := s.Load("shop")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(out, in) {
		t.Errorf("round trip mismatch:\n got %v\nwant %v", out, in)
	}

	if len(*evicted) != 1 || (*evicted)[0] != "shop" {
		t.Errorf("Save must evict exactly once, got %v", *evicted)
	}
}

func TestSave_NormalisesTrailingWhitespace(t *testing.T) {
	s, _, _ := newStore(t)

	if err := s.Save("shop", map[string]string{"KEY": "value  "}); err != nil {
		t.Fatal(err)
	}
	out, err := s.Load("shop")
	if err != nil {
		t.Fatal(err)
	}
	if out["KEY"] != "value" {
		t.Errorf("trailing whitespace survived: %q", out["KEY"])
	}
}

func TestSave_InvalidKey(t *testing.T) {
	s, _, evicted := newStore(t)

	cases := []string{"0ABC", "lower", "WITH-DASH", "WITH SPACE", ""}
	for _, key := range cases {
		if err := s.Save("shop", map[string]string{key: "v"}); err == nil {
			t.Errorf("Save accepted invalid key %q", key)
		}
	}
	if err := s.Save("shop", map[string]string{"ABC_0": "v"}); err != nil {
		t.Errorf("Save rejected valid key ABC_0: %v", err)
	}
	if len(*evicted) != 1 {
		t.Errorf("only the valid save may evict, got %d evictions", len(*evicted))
	}
}

func TestLoad_AbsentFile(t *testing.T) {
	s, _, _ := newStore(t)
	out, err := s.Load("shop")
	if err != nil {
		t.Fatalf("Load absent: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("absent file must load empty, got %v", out)
	}
}

func TestMergeAndDelete(t *testing.T) {
	s, _, _ := newStore(t)

	if err := s.Save("shop", map[string]string{"A": "1", "B": "2"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Merge("shop", map[string]string{"B": "patched", "C": "3"}); err != nil {
		t.Fatal(err)
	}
	out, _ := s.Load("shop")
	want := map[string]string{"A": "1", "B": "patched", "C": "3"}
	if !reflect.DeepEqual(out, want) {
		t.Errorf("Merge: got %v, want %v", out, want)
	}

	if err := s.DeleteKeys("shop", []string{"A", "NOPE"}); err != nil {
		t.Fatal(err)
	}
	out, _ = s.Load("shop")
	if _, ok := out["A"]; ok {
		t.Error("DeleteKeys left A behind")
	}

	if err := s.DeleteFile("shop"); err != nil {
		t.Fatal(err)
	}
	out, _ = s.Load("shop")
	if len(out) != 0 {
		t.Errorf("DeleteFile left values behind: %v", out)
	}
	// Deleting an absent file is fine.
	if err := s.DeleteFile("shop"); err != nil {
		t.Errorf("DeleteFile idempotence: %v", err)
	}
}

func TestSave_UnknownTenantDir(t *testing.T) {
	s, _, _ := newStore(t)
	if err := s.Save("ghost", map[string]string{"A": "1"}); err == nil {
		t.Fatal("Save into a missing tenant dir succeeded")
	}
}
