package sanitize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"plain", "  Leave at the door ", 0, "Leave at the door"},
		{"markup removed", `<script>alert(1)</script>Ring <b>twice</b>`, 0, "Ring twice"},
		{"entities kept readable", "Smith & Sons", 0, "Smith & Sons"},
		{"truncated by runes", "züricher straße", 7, "züriche"},
		{"empty", "   ", 10, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Text(tt.in, tt.max))
		})
	}
}
