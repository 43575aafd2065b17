package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContainsPattern(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "alice", want: "%alice%"},
		{in: "100%", want: `%100\%%`},
		{in: "a_b", want: `%a\_b%`},
		{in: `c:\path`, want: `%c:\\path%`},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ContainsPattern(tt.in))
		})
	}
}

func TestEmailType(t *testing.T) {
	assert.Equal(t, "original", EmailType(""))
	assert.Equal(t, "forward", EmailType("forward"))
}
