package normalize

import (
	"regexp"
	"strings"
)

// maxQuoteDepth limits how many nested forwards are unwrapped when a message
// carries no text of its own.
const maxQuoteDepth = 3

var (
	forwardSeparator = regexp.MustCompile(`(?i)^(?:-{2,}\s*(?:forwarded message|original message|message transféré|message d'origine|mensaje reenviado|mensaje original|weitergeleitete nachricht|ursprüngliche nachricht)\s*-{2,}|begin forwarded message\s*:?|début du message réexpédié\s*:?|inicio del mensaje reenviado\s*:?|anfang der weitergeleiteten nachricht\s*:?)$`)

	attributionLine  = regexp.MustCompile(`(?i)^(?:on\s.+\swrote|le\s.+\sa\s+écrit|am\s.+\sschrieb(?:\s.*)?|el\s.+\sescribió)\s*:$`)
	attributionStart = regexp.MustCompile(`(?i)^(?:on|le|am|el)\s`)
	attributionEnd   = regexp.MustCompile(`(?i)(?:wrote|a\s+écrit|schrieb(?:\s.*)?|escribió)\s*:$`)

	forwardHeader = regexp.MustCompile(`(?i)^(?:from|date|sent|subject|to|cc|bcc|reply-to|de|von|an|betreff|datum|gesendet|objet|envoyé|à|para|asunto|enviado|fecha)\s*:`)

	signatureLine = regexp.MustCompile(`(?i)^(?:--|_{5,}|sent from my\s.*|get outlook for\s.*|sent from (?:yahoo )?mail for\s.*)$`)
)

type split struct {
	authored  []string
	quoted    []string
	forwarded []string
	kind      Kind
}

// splitLines separates authored lines from quoted material. Attribution
// headers are only honoured when threadPosition > 0 so that a thread starter
// quoting "On ... wrote:" literally keeps its text.
func splitLines(lines []string, threadPosition int) split {
	s := split{kind: KindOriginal}
	inSignature := false

	for i := 0; i < len(lines); i++ {
		t := strings.TrimSpace(lines[i])

		switch {
		case strings.HasPrefix(t, ">"):
			s.quoted = append(s.quoted, unquote(t))
			s.kind = KindReply
			continue
		case forwardSeparator.MatchString(t):
			s.forwarded = lines[i+1:]
			s.kind = KindForward
			return s
		case threadPosition > 0 && attributionLine.MatchString(t):
			s.quoted = append(s.quoted, unquoteAll(lines[i+1:])...)
			s.kind = KindReply
			return s
		case threadPosition > 0 && i+1 < len(lines) &&
			attributionStart.MatchString(t) && attributionEnd.MatchString(strings.TrimSpace(lines[i+1])):
			s.quoted = append(s.quoted, unquoteAll(lines[i+2:])...)
			s.kind = KindReply
			return s
		case signatureLine.MatchString(t):
			inSignature = true
			continue
		}

		if !inSignature {
			s.authored = append(s.authored, lines[i])
		}
	}
	return s
}

// stripQuoted returns the authored text of a body and the quoted or
// forwarded material it carries. A bare forward or a reply with nothing added
// falls back to the quoted content so it matches the message it carries.
func stripQuoted(text string, threadPosition, depth int) (string, string, Kind) {
	s := splitLines(strings.Split(text, "\n"), threadPosition)
	body := strings.Join(s.authored, "\n")

	var inner []string
	switch {
	case s.forwarded != nil:
		inner = dropForwardHeaders(s.forwarded)
	case len(s.quoted) > 0:
		inner = s.quoted
	}
	quoted := strings.Join(inner, "\n")

	if strings.TrimSpace(body) != "" || depth >= maxQuoteDepth || inner == nil {
		return body, quoted, s.kind
	}
	body, _, _ = stripQuoted(quoted, 0, depth+1)
	return body, quoted, s.kind
}

// dropForwardHeaders removes the From/Date/Subject/To block that mail clients
// put under a forward separator.
func dropForwardHeaders(lines []string) []string {
	for i, line := range lines {
		t := strings.TrimSpace(line)
		if t == "" || forwardHeader.MatchString(t) {
			continue
		}
		return lines[i:]
	}
	return nil
}

func unquote(line string) string {
	line = strings.TrimPrefix(strings.TrimSpace(line), ">")
	return strings.TrimPrefix(line, " ")
}

func unquoteAll(lines []string) []string {
	out := make([]string, len(lines))
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), ">") {
			out[i] = unquote(line)
			continue
		}
		out[i] = line
	}
	return out
}
