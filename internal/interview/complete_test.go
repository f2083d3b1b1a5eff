package interview

import "testing"

func TestIsComplete(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  bool
	}{
		{"plain", "done", true},
		{"capitalized with period", "Done.", true},
		{"upper case", "DONE", true},
		{"surrounding whitespace", "  done  ", true},
		{"exclamation", "Done!", true},
		{"lead token with trailing text", "Done. I have everything I need.", true},
		{"contains done mid-sentence", "I'm not done asking", false},
		{"question containing done", "Have you done any market research?", false},
		{"empty reply", "", false},
		{"whitespace only", "   ", false},
		{"ordinary question", "What platforms should the app support?", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsComplete(tt.reply); got != tt.want {
				t.Errorf("IsComplete(%q) = %v, want %v", tt.reply, got, tt.want)
			}
		})
	}
}
