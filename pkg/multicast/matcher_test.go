package multicast

import "testing"

func TestMatches(t *testing.T) {
	cases := []struct {
		pattern string
		id      string
		want    bool
	}{
		{"prov/brod/+", "prov/brod/a", true},
		{"prov/brod/a", "prov/brod/a", true},
		{"prov/brod/a/*", "prov/brod/a", false},
		{"prov/brod/a/*", "prov/brod/a/x", true},
		{"prov/brod/a/*", "prov/brod/a/x/y", true},
		{"prov/brod/*", "prov/brod/a", true},
		{"prov/brod/*", "prov/brod", false},
		{"prov/brod/+", "prov/brod/a/b", false},
		{"prov/other/+", "prov/brod/a", false},
	}
	for _, c := range cases {
		m, err := Compile(c.pattern)
		if err != nil {
			t.Fatalf("compile(%q): %v", c.pattern, err)
		}
		if got := m.Matches(c.id); got != c.want {
			t.Errorf("Compile(%q).Matches(%q) = %v, want %v", c.pattern, c.id, got, c.want)
		}
	}
}

func TestCompileRejectsSuffixWildcardNotLast(t *testing.T) {
	if _, err := Compile("prov/*/brod"); err == nil {
		t.Error("expected error for '*' not in final position")
	}
}

func TestCompileRejectsEmptySegments(t *testing.T) {
	if _, err := Compile("prov//brod"); err == nil {
		t.Error("expected error for empty segment")
	}
}

// Multiple overlapping patterns matching one multicast id: all
// subscribers are returned, deduplicated.
func TestWildcardFanOut(t *testing.T) {
	dir := New()
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(dir.Add("prov/brod/+", "R1"))
	must(dir.Add("prov/brod/a", "R2"))
	must(dir.Add("prov/brod/a/*", "R3"))
	must(dir.Add("prov/brod/*", "R4"))

	got := dir.Receivers("prov/brod/a")
	want := map[string]bool{"R1": true, "R2": true, "R4": true}

	if len(got) != len(want) {
		t.Fatalf("got %v, want keys of %v", got, want)
	}
	for _, r := range got {
		if !want[r] {
			t.Errorf("unexpected receiver %s in %v", r, got)
		}
	}
}

func TestRemoveDropsEmptyPatternEntry(t *testing.T) {
	dir := New()
	if err := dir.Add("a/b", "S1"); err != nil {
		t.Fatal(err)
	}
	dir.Remove("a/b", "S1")
	if got := dir.Receivers("a/b"); len(got) != 0 {
		t.Errorf("expected no receivers after removing last subscriber, got %v", got)
	}
	data, err := dir.Save()
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "{}" {
		t.Errorf("expected empty pattern map to be dropped entirely, got %s", data)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := New()
	if err := dir.Add("x/y", "A"); err != nil {
		t.Fatal(err)
	}
	if err := dir.Add("x/y", "B"); err != nil {
		t.Fatal(err)
	}
	data, err := dir.Save()
	if err != nil {
		t.Fatal(err)
	}

	restored := New()
	if err := restored.Load(data); err != nil {
		t.Fatal(err)
	}
	got := restored.Receivers("x/y")
	if len(got) != 2 {
		t.Errorf("expected 2 subscribers restored, got %v", got)
	}
}
