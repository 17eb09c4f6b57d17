package turn

import (
	"reflect"
	"testing"
)

func TestSplitterCutsAtTerminalPunctuation(t *testing.T) {
	var s Splitter
	var got []string
	for _, tok := range []string{"It ", "is ", "sunny", ". ", "Bring ", "a hat! Also", " note: ", "rain ", "later"} {
		got = append(got, s.Push(tok)...)
	}
	want := []string{"It is sunny.", "Bring a hat!", "Also note:"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if rest := s.Flush(); rest != "rain later" {
		t.Fatalf("expected remainder flushed, got %q", rest)
	}
	if rest := s.Flush(); rest != "" {
		t.Fatalf("expected empty buffer after flush, got %q", rest)
	}
}

func TestSplitterKeepsInlinePunctuation(t *testing.T) {
	var s Splitter
	if got := s.Push("Pi is about 3.14 and e is 2.71"); len(got) != 0 {
		t.Fatalf("expected no sentence inside numbers, got %q", got)
	}
	if got := s.Push("?"); !reflect.DeepEqual(got, []string{"Pi is about 3.14 and e is 2.71?"}) {
		t.Fatalf("unexpected sentences %q", got)
	}
}

func TestSplitterSkipsBarePunctuation(t *testing.T) {
	var s Splitter
	if got := s.Push(" . ! "); len(got) != 0 {
		t.Fatalf("expected punctuation-only input to be dropped, got %q", got)
	}
}

func TestHasWords(t *testing.T) {
	for text, want := range map[string]bool{"": false, "...": false, " ?! ": false, "ok.": true, "42": true} {
		if got := hasWords(text); got != want {
			t.Fatalf("hasWords(%q) = %v, want %v", text, got, want)
		}
	}
	var s Splitter
	s.Push("Done. ...")
	if rest := s.Flush(); rest != "" {
		t.Fatalf("expected punctuation remainder dropped, got %q", rest)
	}
}
