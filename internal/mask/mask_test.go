package mask

import "testing"

func TestSecret(t *testing.T) {
	cases := []struct{ in, out string }{
		{"", ""},
		{"abc", "***"},
		{"abcd", "****"},
		{"Ysjhdgjhgszllhdkgui", "***************kgui"},
		{"  key-1234  ", "****1234"},
	}
	for _, c := range cases {
		if got := Secret(c.in); got != c.out {
			t.Fatalf("Secret(%q) = %q want %q", c.in, got, c.out)
		}
	}
}

func TestExcerpt(t *testing.T) {
	if got := Excerpt([]byte("  short  "), 10); got != "short" {
		t.Fatalf("got %q", got)
	}
	if got := Excerpt([]byte("0123456789abc"), 10); got != "0123456789..." {
		t.Fatalf("got %q", got)
	}
	if got := Excerpt([]byte("unbounded"), 0); got != "unbounded" {
		t.Fatalf("got %q", got)
	}
}
