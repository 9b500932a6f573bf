package sanitize

import "testing"

func TestTextStripsMarkup(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{input: "", want: ""},
		{input: "plain notes", want: "plain notes"},
		{input: "  padded  ", want: "padded"},
		{input: "<b>bold</b> move", want: "bold move"},
		{input: "<script>alert('x')</script>Lab notes", want: "Lab notes"},
		{input: "R&D budget", want: "R&D budget"},
		{input: `<a href="javascript:alert(1)">click</a>`, want: "click"},
	}

	for _, tc := range cases {
		if got := Text(tc.input); got != tc.want {
			t.Fatalf("Text(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestTextPtr(t *testing.T) {
	if TextPtr(nil) != nil {
		t.Fatal("expected nil for nil input")
	}
	in := "<i>bio</i>"
	if out := TextPtr(&in); out == nil || *out != "bio" {
		t.Fatalf("unexpected output %v", out)
	}
}

func TestTruncateCountsRunes(t *testing.T) {
	if got := Truncate("héllo", 2); got != "hé" {
		t.Fatalf("unexpected truncation %q", got)
	}
	if got := Truncate("abc", 10); got != "abc" {
		t.Fatalf("unexpected truncation %q", got)
	}
	if got := Truncate("abc", 0); got != "" {
		t.Fatalf("unexpected truncation %q", got)
	}
}
