package infra

import (
	"errors"
	"testing"
)

func TestExtractMarker(t *testing.T) {
	query := "--sql 0b7d3c1e-5f3a-4c59-9a51-2f4b8f0e6d21\nselect 1;"
	marker, stmt, err := extractMarker(query)
	if err != nil {
		t.Fatalf("extractMarker returned error: %v", err)
	}
	if marker != "0b7d3c1e-5f3a-4c59-9a51-2f4b8f0e6d21" {
		t.Fatalf("marker mismatch: %q", marker)
	}
	if stmt != "select 1;" {
		t.Fatalf("statement mismatch: %q", stmt)
	}
}

func TestExtractMarkerRejectsBareSQL(t *testing.T) {
	if _, _, err := extractMarker("select 1;"); !errors.Is(err, ErrMissingMarker) {
		t.Fatalf("expected ErrMissingMarker, got %v", err)
	}
}
