package openai

import (
	"testing"
)

func TestNewValidation(t *testing.T) {
	t.Parallel()

	if _, err := New("", "text-embedding-3-small"); err == nil {
		t.Fatal("expected error for empty apiKey")
	}
	p, err := New("key", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.ModelID() != DefaultModel {
		t.Fatalf("ModelID = %q, want default %q", p.ModelID(), DefaultModel)
	}
}

func TestDimensions(t *testing.T) {
	t.Parallel()

	cases := []struct {
		model string
		want  int
	}{
		{"text-embedding-3-small", 1536},
		{"text-embedding-3-large", 3072},
		{"text-embedding-ada-002", 1536},
		{"some-future-model", 1536},
	}
	for _, tc := range cases {
		p, err := New("key", tc.model)
		if err != nil {
			t.Fatalf("New(%q): %v", tc.model, err)
		}
		if got := p.Dimensions(); got != tc.want {
			t.Errorf("Dimensions(%q) = %d, want %d", tc.model, got, tc.want)
		}
	}
}

func TestFloat64ToFloat32(t *testing.T) {
	t.Parallel()

	got := float64ToFloat32([]float64{0.5, -1.25, 2})
	if len(got) != 3 || got[0] != 0.5 || got[1] != -1.25 || got[2] != 2 {
		t.Fatalf("float64ToFloat32 = %v", got)
	}
}
