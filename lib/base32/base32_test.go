package base32

import "testing"

func TestValRoundTrip(t *testing.T) {
	for v := 0; v < 32; v++ {
		c := Digit(v)
		got, ok := Val(c)
		if !ok || got != v {
			t.Fatalf("Val(Digit(%d)) = %v, %v", v, got, ok)
		}
		upper := c - 'a' + 'A'
		if c >= 'a' && c <= 'z' {
			got, ok = Val(upper)
			if !ok || got != v {
				t.Fatalf("Val(%q) = %v, %v, want %d", upper, got, ok, v)
			}
		}
	}
}

func TestValRejectsAmbiguousLetters(t *testing.T) {
	for _, c := range []byte{'i', 'I', 'l', 'L', 'o', 'O', 'v', 'V'} {
		if _, ok := Val(c); ok {
			t.Fatalf("Val(%q) unexpectedly valid", c)
		}
	}
}

func TestIsNumber(t *testing.T) {
	cases := []struct {
		s  string
		ok bool
	}{
		{"", true},
		{"0123456789abcdefghjkmnpqrstuwxyz", true},
		{"ABCD", true},
		{"0i1", false},
		{"hello world", false},
	}
	for _, c := range cases {
		if got := IsNumber(c.s); got != c.ok {
			t.Errorf("IsNumber(%q) = %v, want %v", c.s, got, c.ok)
		}
	}
}

func TestSymlinkPath(t *testing.T) {
	got := SymlinkPath("ab34rest")
	want := "ab/34/rest"
	if got != want {
		t.Errorf("SymlinkPath = %q, want %q", got, want)
	}
}

func TestParseSymlinkTargetRoundTrip(t *testing.T) {
	token := "ab34rest"
	target := ".frz/blake3/" + SymlinkPath(token)
	got, ok := ParseSymlinkTarget("blake3", target)
	if !ok || got != token {
		t.Fatalf("ParseSymlinkTarget(%q) = %q, %v, want %q, true", target, got, ok, token)
	}
}

func TestParseSymlinkTargetAcceptsUpwardPrefix(t *testing.T) {
	token := "ab34rest"
	target := "../../.frz/blake3/" + SymlinkPath(token)
	got, ok := ParseSymlinkTarget("blake3", target)
	if !ok || got != token {
		t.Fatalf("ParseSymlinkTarget(%q) = %q, %v, want %q, true", target, got, ok, token)
	}
}

func TestParseSymlinkTargetRejectsMalformed(t *testing.T) {
	cases := []string{
		"other/blake3/ab/34/rest",
		".frz/other-algo/ab/34/rest",
		".frz/blake3/abc/34/rest",
		".frz/blake3/ab/34",
		".frz/blake3/ab/34/",
		".frz/blake3/ab/3i/rest",
		".frz/blake3/ab/34/re/st",
	}
	for _, target := range cases {
		if _, ok := ParseSymlinkTarget("blake3", target); ok {
			t.Errorf("ParseSymlinkTarget(%q) unexpectedly succeeded", target)
		}
	}
}
