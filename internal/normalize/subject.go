package normalize

import (
	"regexp"
	"strings"
)

// Reply and forward markers across common mail clients and locales,
// optionally carrying a counter such as "Re[2]:" or "AW(3):".
var subjectPrefix = regexp.MustCompile(`(?i)^(?:re|res|fwd?|aw|wg|sv|vs|tr|rif|r|antw|antwort|odp|pd|ynt|enc|fs|vb|doorst|回复|回覆|答复|转发|轉寄|转寄)\s*(?:\[\d+\]|\(\d+\))?\s*:\s*`)

var listTag = regexp.MustCompile(`^\[[^\[\]]{1,40}\]\s*`)

// stripSubjectPrefixes removes stacked reply/forward markers and leading
// mailing-list tags. It reports how many reply/forward markers it removed.
func stripSubjectPrefixes(s string) (string, int) {
	markers := 0
	for {
		s = strings.TrimSpace(s)
		if loc := subjectPrefix.FindStringIndex(s); loc != nil {
			s = s[loc[1]:]
			markers++
			continue
		}
		if loc := listTag.FindStringIndex(s); loc != nil && strings.TrimSpace(s[loc[1]:]) != "" {
			s = s[loc[1]:]
			continue
		}
		return s, markers
	}
}

// ReplyDepth counts the reply/forward markers on a subject line. It is used to
// estimate a message's position in its thread when no threading headers exist.
func ReplyDepth(subject string) int {
	_, markers := stripSubjectPrefixes(collapse(canonicalText(subject)))
	return markers
}
