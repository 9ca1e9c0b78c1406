package chat

import "testing"

func TestTextEventClassification(t *testing.T) {
	cases := []struct {
		in    string
		kind  Kind
		cmd   Command
		digit int
	}{
		{"/start", KindCommand, CmdStart, 0},
		{"/start@varash_bot ref", KindCommand, CmdStart, 0},
		{LabelFinish, KindCommand, CmdFinish, 0},
		{"  " + LabelCancel + " ", KindCommand, CmdCancel, 0},
		{"4", KindRatingDigit, "", 4},
		{"7", KindRatingDigit, "", 7},
		{"4.5", KindText, "", 0},
		{"Skoda Octavia", KindText, "", 0},
		{"/unknown", KindText, "", 0},
	}
	for _, c := range cases {
		ev := TextEvent("1", c.in)
		if ev.Kind != c.kind || ev.Command != c.cmd || ev.Digit != c.digit {
			t.Fatalf("TextEvent(%q) = %+v", c.in, ev)
		}
	}
}

func TestFreeText(t *testing.T) {
	if !TextEvent("1", "AA1234BB").FreeText() {
		t.Fatal("plate should be free text")
	}
	if !TextEvent("1", "1234").FreeText() {
		t.Fatal("digits should still be usable as free text")
	}
	if TextEvent("1", "/status").FreeText() || ImageEvent("1", "f").FreeText() || TextEvent("1", " ").FreeText() {
		t.Fatal("commands, images and blanks are not free text")
	}
}
