package slug

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMake(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		in     string
		maxLen int
		want   string
	}{
		{name: "empty", in: "", maxLen: 30, want: ""},
		{name: "title", in: "High Priority Task", maxLen: 30, want: "high-priority-task"},
		{name: "punctuation collapse", in: "Fix: the   API!!", maxLen: 30, want: "fix-the-api"},
		{name: "trim hyphens", in: "--slug--", maxLen: 30, want: "slug"},
		{name: "diacritics", in: "Café Crème", maxLen: 30, want: "cafe-creme"},
		{name: "non latin dropped", in: "日本 task", maxLen: 30, want: "task"},
		{name: "truncate", in: "a very long title that goes on and on forever", maxLen: 30, want: "a-very-long-title-that-goes-on"},
		{name: "truncate trailing hyphen", in: "abcdefghij klmnopqrst uvwxyzabc d", maxLen: 32, want: "abcdefghij-klmnopqrst-uvwxyzabc"},
		{name: "no limit", in: "Keep Everything Here", maxLen: 0, want: "keep-everything-here"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Make(tt.in, tt.maxLen))
		})
	}
}
