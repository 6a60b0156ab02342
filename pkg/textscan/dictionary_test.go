package textscan

import "testing"

func TestCanonicalize(t *testing.T) {
	cases := map[string]string{
		"República Dominicana":    "republica dominicana",
		"  El   Presidente, dijo": "el presidente dijo",
		"O’Brien—Smith":           "o'brien-smith",
		"J.C.E.":                  "j.c.e.",
	}
	for in, want := range cases {
		if got := Canonicalize(in); got != want {
			t.Errorf("Canonicalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCompileAndHits(t *testing.T) {
	dict, err := Compile([]Surface{
		{ID: 1, Forms: []string{"Luis Abinader", "Abinader"}},
		{ID: 2, Forms: []string{"Leonel Fernández"}},
		{ID: 3, Forms: []string{"abinader", ""}},
	})
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if dict.Len() != 3 {
		t.Fatalf("expected 3 patterns, got %d", dict.Len())
	}

	hits := dict.Hits("El presidente Luis ABINADER se reunió con Leonel Fernandez.")
	if hits[1] == 0 {
		t.Errorf("expected hits for entity 1, got %v", hits)
	}
	if hits[2] != 1 {
		t.Errorf("expected accent-insensitive hit for entity 2, got %v", hits)
	}
	// Entity 3 shares the "abinader" pattern with entity 1.
	if hits[3] == 0 {
		t.Errorf("expected shared pattern hit for entity 3, got %v", hits)
	}
}

func TestEmptyDictionary(t *testing.T) {
	dict, err := Compile(nil)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if got := dict.Scan("anything"); got != nil {
		t.Errorf("expected no matches, got %v", got)
	}
	if got := dict.Hits("anything"); len(got) != 0 {
		t.Errorf("expected no hits, got %v", got)
	}
}
