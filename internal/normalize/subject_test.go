package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubject(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Report", "report"},
		{"Re: Report", "report"},
		{"RE: FW: Report", "report"},
		{"Re[2]: Report", "report"},
		{"AW: WG: Bericht", "bericht"},
		{"[team] Re: Report", "report"},
		{"Re: [team] Report", "report"},
		{"回复：Report", "report"},
		{"Fwd:   Quarterly   Report ", "quarterly report"},
		{"[only tag]", "[only tag]"},
		{"Regarding the plan", "regarding the plan"},
		{"", ""},
	}

	n := New(DefaultOptions())
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, _ := n.Subject(tt.in)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSubjectDisplayKeepsCase(t *testing.T) {
	n := New(DefaultOptions())
	canonical, display := n.Subject("Re: Quarterly Report")
	assert.Equal(t, "quarterly report", canonical)
	assert.Equal(t, "Quarterly Report", display)
}

func TestReplyDepth(t *testing.T) {
	assert.Equal(t, 0, ReplyDepth("Report"))
	assert.Equal(t, 1, ReplyDepth("Re: Report"))
	assert.Equal(t, 3, ReplyDepth("Re: Fwd: [list] Re: Report"))
}
