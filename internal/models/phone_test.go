package models

import "testing"

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"+380501112233":       "380501112233",
		"+38 (050) 111-22-33": "380501112233",
		"380501112233":        "380501112233",
		"":                    "",
		"call me":             "",
		"٣٨٠":                 "",
	}
	for in, want := range cases {
		if got := NormalizePhone(in); got != want {
			t.Fatalf("NormalizePhone(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizePhoneIdempotent(t *testing.T) {
	for _, p := range []string{"+380501112233", "0 50 111 22 33", "tel:+1-202-555-0143", "abc"} {
		once := NormalizePhone(p)
		if twice := NormalizePhone(once); twice != once {
			t.Fatalf("not idempotent for %q: %q then %q", p, once, twice)
		}
	}
}

func TestMaskPhone(t *testing.T) {
	if got := MaskPhone("+380501112233"); got != "********2233" {
		t.Fatalf("unexpected mask %q", got)
	}
	if got := MaskPhone("12"); got != "12" {
		t.Fatalf("short phone should be unmasked, got %q", got)
	}
}
