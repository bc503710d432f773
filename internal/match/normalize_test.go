package match

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "empty string",
			input: "",
			want:  "",
		},
		{
			name:  "lowercase passthrough",
			input: "hey jude",
			want:  "hey jude",
		},
		{
			name:  "uppercase lowered",
			input: "Hey Jude",
			want:  "hey jude",
		},
		{
			name:  "parenthetical stripped",
			input: "Hey Jude (Remastered 2015)",
			want:  "hey jude",
		},
		{
			name:  "bracketed stripped",
			input: "Hey Jude [Live at Abbey Road]",
			want:  "hey jude",
		},
		{
			name:  "feat clause stripped",
			input: "Airplanes feat. Hayley Williams",
			want:  "airplanes",
		},
		{
			name:  "ft clause stripped",
			input: "Airplanes ft Hayley Williams",
			want:  "airplanes",
		},
		{
			name:  "brackets and feat combined",
			input: "Hey Jude (Remastered 2015) [feat. The Beatles]",
			want:  "hey jude",
		},
		{
			name:  "unicode dash unified",
			input: "twenty–one",
			want:  "twenty-one",
		},
		{
			name:  "curly apostrophe unified",
			input: "Don’t Stop Me Now",
			want:  "don't stop me now",
		},
		{
			name:  "punctuation dropped",
			input: "What's Up?!!",
			want:  "what's up",
		},
		{
			name:  "whitespace collapsed and trimmed",
			input: "  So   Far\tAway  ",
			want:  "so far away",
		},
		{
			name:  "accented characters dropped",
			input: "Beyoncé",
			want:  "beyonc",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.input)
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		"Hey Jude (Remastered 2015) [feat. The Beatles]",
		"Don’t Stop Me Now",
		"  Uptown   Funk ft. Bruno Mars ",
		"AC/DC – Back In Black",
	}

	for _, input := range inputs {
		once := Normalize(input)
		twice := Normalize(once)
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: first %q, second %q", input, once, twice)
		}
	}
}

func TestNormalizeKey(t *testing.T) {
	got := NormalizeKey("Hey Jude (Remastered)", "The Beatles")
	want := "hey jude|the beatles"
	if got != want {
		t.Errorf("NormalizeKey() = %q, want %q", got, want)
	}

	// Key format keeps title and artist distinguishable.
	if NormalizeKey("a b", "c") == NormalizeKey("a", "b c") {
		t.Error("NormalizeKey() should separate title and artist")
	}
}
