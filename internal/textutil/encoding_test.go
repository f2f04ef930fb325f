package textutil

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestEnsureUTF8Valid(t *testing.T) {
	for _, s := range []string{"", "plain ascii", "日本語", "café"} {
		if got := EnsureUTF8(s); got != s {
			t.Errorf("EnsureUTF8(%q) = %q, want unchanged", s, got)
		}
	}
}

func TestEnsureUTF8Latin1(t *testing.T) {
	// "café" in ISO-8859-1 / Windows-1252: 0xE9 for é
	in := "caf\xe9"
	got := EnsureUTF8(in)
	if !utf8.ValidString(got) {
		t.Fatalf("result not valid UTF-8: %q", got)
	}
	if got != "café" {
		t.Errorf("EnsureUTF8(%q) = %q, want %q", in, got, "café")
	}
}

func TestEnsureUTF8Windows1252SmartQuote(t *testing.T) {
	// 0x93/0x94 are curly quotes in Windows-1252.
	in := "\x93quoted\x94"
	got := EnsureUTF8(in)
	if !utf8.ValidString(got) {
		t.Fatalf("result not valid UTF-8: %q", got)
	}
	if !strings.Contains(got, "quoted") {
		t.Errorf("EnsureUTF8(%q) = %q, expected to keep inner text", in, got)
	}
}

func TestEnsureUTF8NeverInvalid(t *testing.T) {
	// Byte soup that no decoder should pass through unrepaired.
	in := string([]byte{0xff, 0xfe, 0x00, 0x80, 0xff})
	got := EnsureUTF8(in)
	if !utf8.ValidString(got) {
		t.Errorf("EnsureUTF8 returned invalid UTF-8 for %q", in)
	}
}

func TestEncodingByName(t *testing.T) {
	if EncodingByName("Windows-1252") == nil {
		t.Error("expected decoder for Windows-1252")
	}
	if EncodingByName("ISO-8859-1") == nil {
		t.Error("expected decoder for ISO-8859-1")
	}
	if EncodingByName("no-such-charset") != nil {
		t.Error("expected nil for unknown charset")
	}
}
