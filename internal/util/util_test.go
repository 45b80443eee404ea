package util

import "testing"

func TestGenerateRandomString(t *testing.T) {
	a := GenerateRandomString(16)
	b := GenerateRandomString(16)
	if len(a) != 16 || len(b) != 16 {
		t.Fatalf("expected 16 characters, got %d and %d", len(a), len(b))
	}
	if a == b {
		t.Errorf("two random keys should differ, got %s twice", a)
	}
	for _, c := range a {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') {
			t.Errorf("unexpected character %q in %s", c, a)
		}
	}
}

func TestCeil8(t *testing.T) {
	cases := map[uint]uint{0: 0, 1: 1, 8: 1, 9: 2, 128: 16, 32768: 4096}
	for in, want := range cases {
		if got := Ceil8(in); got != want {
			t.Errorf("Ceil8(%d) = %d, want %d", in, got, want)
		}
	}
}
