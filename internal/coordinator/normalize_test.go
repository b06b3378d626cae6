package coordinator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "quoted with escaped newline",
			in:   "\"Hello\\nWorld\"",
			want: "Hello\nWorld",
		},
		{
			name: "reasoning block removed",
			in:   "<thinking>scratch</thinking>\nFinal answer",
			want: "Final answer",
		},
		{
			name: "json envelope",
			in:   `{"message":"42"}`,
			want: "42",
		},
		{
			name: "plain text passes through",
			in:   "just a plain reply",
			want: "just a plain reply",
		},
		{
			name: "escaped quotes",
			in:   `"he said \"fine\""`,
			want: `he said "fine"`,
		},
		{
			name: "quotes then reasoning then envelope",
			in:   "\"<thinking>routing decision</thinking>\\n{\\\"message\\\":\\\"done\\\"}\"",
			want: "done",
		},
		{
			name: "only first reasoning block removed",
			in:   "<thinking>a</thinking>\ntext <thinking>b</thinking> tail",
			want: "text <thinking>b</thinking> tail",
		},
		{
			name: "multiline reasoning block",
			in:   "<thinking>line one\nline two</thinking>\nanswer",
			want: "answer",
		},
		{
			name: "envelope with empty message falls back to cleaned text",
			in:   `{"message":""}`,
			want: `{"message":""}`,
		},
		{
			name: "invalid json is not an error",
			in:   `{"message": broken`,
			want: `{"message": broken`,
		},
		{
			name: "empty input",
			in:   "",
			want: "",
		},
		{
			name: "whitespace only",
			in:   "   \n\t ",
			want: "",
		},
		{
			name: "single quote char is not a pair",
			in:   `"`,
			want: `"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}
