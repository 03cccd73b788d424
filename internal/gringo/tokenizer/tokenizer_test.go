package tokenizer

import "testing"

func TestBPE_Count(t *testing.T) {
	tok, err := NewBPE(DefaultEncoding)
	if err != nil {
		t.Fatalf("NewBPE: %v", err)
	}

	if got := tok.Count(""); got != 0 {
		t.Errorf("Count(\"\") = %d, want 0", got)
	}
	if got := tok.Count("hello world"); got != 2 {
		t.Errorf("Count(\"hello world\") = %d, want 2", got)
	}
	if tok.Scheme() != DefaultEncoding {
		t.Errorf("Scheme() = %q, want %q", tok.Scheme(), DefaultEncoding)
	}
}

func TestBPE_Deterministic(t *testing.T) {
	tok, err := NewBPE("")
	if err != nil {
		t.Fatalf("NewBPE: %v", err)
	}
	text := "Olá! Eu gostaria de praticar meu inglês com você hoje."
	first := tok.Count(text)
	for i := 0; i < 5; i++ {
		if got := tok.Count(text); got != first {
			t.Fatalf("Count not deterministic: %d then %d", first, got)
		}
	}
	if first <= 0 {
		t.Errorf("expected a positive count, got %d", first)
	}
}

func TestNewBPE_UnknownEncoding(t *testing.T) {
	if _, err := NewBPE("no_such_encoding"); err == nil {
		t.Fatal("expected error for unknown encoding")
	}
}

func TestCharEstimator(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"abc", 1},
		{"abcd", 1},
		{"abcde", 2},
		{"ããããã", 2},
	}
	for _, tt := range tests {
		if got := (CharEstimator{}).Count(tt.text); got != tt.want {
			t.Errorf("Count(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}

func TestNew_Estimate(t *testing.T) {
	tok, err := New("estimate")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if tok.Scheme() != EstimateEncoding {
		t.Errorf("Scheme() = %q, want %q", tok.Scheme(), EstimateEncoding)
	}
}
