package logparse

import (
	"errors"
	"math/rand"
	"strings"
	"testing"
)

func TestResolveSchema_Permutations(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 50; i++ {
		header := append([]string(nil), RequiredColumns...)
		rng.Shuffle(len(header), func(a, b int) { header[a], header[b] = header[b], header[a] })
		for j := range header {
			switch rng.Intn(3) {
			case 0:
				header[j] = strings.ToLower(header[j])
			case 1:
				header[j] = " " + header[j] + " "
			}
		}

		s, err := ResolveSchema(header)
		if err != nil {
			t.Fatalf("header %v: unexpected error: %v", header, err)
		}
		for _, col := range RequiredColumns {
			pos, ok := s.Index(col)
			if !ok {
				t.Fatalf("header %v: column %s not resolved", header, col)
			}
			if !strings.EqualFold(strings.TrimSpace(header[pos]), col) {
				t.Errorf("column %s resolved to %q", col, header[pos])
			}
		}
	}
}

func TestResolveSchema_MissingColumn(t *testing.T) {
	for _, drop := range RequiredColumns {
		t.Run(drop, func(t *testing.T) {
			var header []string
			for _, col := range RequiredColumns {
				if col != drop {
					header = append(header, col)
				}
			}

			_, err := ResolveSchema(header)
			var se *SchemaError
			if !errors.As(err, &se) {
				t.Fatalf("expected *SchemaError, got %v", err)
			}
			if se.Column != drop {
				t.Errorf("Column = %q, want %q", se.Column, drop)
			}
			if !strings.Contains(err.Error(), drop) {
				t.Errorf("error %q does not name %s", err.Error(), drop)
			}
		})
	}
}

func TestResolveSchema_EmptyHeader(t *testing.T) {
	_, err := ResolveSchema(nil)
	var se *SchemaError
	if !errors.As(err, &se) {
		t.Fatalf("expected *SchemaError, got %v", err)
	}
	if se.Column != RequiredColumns[0] {
		t.Errorf("Column = %q, want %q", se.Column, RequiredColumns[0])
	}
	if len(se.Missing) != len(RequiredColumns) {
		t.Errorf("Missing has %d columns, want %d", len(se.Missing), len(RequiredColumns))
	}
}

func TestResolveSchema_ExactMatchWins(t *testing.T) {
	header := append([]string{"domain"}, RequiredColumns...)

	s, err := ResolveSchema(header)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pos, _ := s.Index(ColDomain)
	if header[pos] != ColDomain {
		t.Errorf("DOMAIN resolved to %q at %d, want exact match", header[pos], pos)
	}
}

func TestResolveSchema_LeftmostCaseInsensitive(t *testing.T) {
	var header []string
	for _, col := range RequiredColumns {
		if col == ColDomain {
			header = append(header, "Domain", "domain")
			continue
		}
		header = append(header, col)
	}

	s, err := ResolveSchema(header)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pos, _ := s.Index(ColDomain)
	if header[pos] != "Domain" {
		t.Errorf("DOMAIN resolved to %q, want leftmost %q", header[pos], "Domain")
	}
}

func TestResolveSchema_OptionalColumns(t *testing.T) {
	s, err := ResolveSchema(RequiredColumns)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Has(ColUserID) {
		t.Error("USER_ID resolved without being in header")
	}

	s, err = ResolveSchema(append(append([]string(nil), RequiredColumns...), "user_id"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.Has(ColUserID) {
		t.Error("USER_ID not resolved")
	}
}
