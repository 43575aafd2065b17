// Package normalize reduces email subjects and bodies to the canonical text
// used for content fingerprinting.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Kind classifies a message by what its body turned out to contain.
type Kind string

const (
	KindOriginal Kind = "original"
	KindReply    Kind = "reply"
	KindForward  Kind = "forward"
)

// maxPasses bounds the fixed-point loop in Normalize.
const maxPasses = 4

// Options controls optional normalization steps.
type Options struct {
	// MaskLinks replaces URLs and email addresses in bodies with placeholders
	// so per-recipient links do not split otherwise identical messages.
	MaskLinks bool
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{MaskLinks: true}
}

// Input is the raw content to normalize.
type Input struct {
	Subject string
	Body    string
	// ThreadPosition is 0 for a thread starter; anything greater enables
	// attribution-header detection ("On ... wrote:").
	ThreadPosition int
}

// Result holds the canonical forms plus audit copies.
type Result struct {
	Subject string
	Body    string

	// Display forms keep original casing and are never hashed.
	DisplaySubject string
	DisplayBody    string

	// Quoted is the canonical form of the quoted or forwarded material, empty
	// for a message that carries none. It does not take part in Body.
	Quoted string

	Kind Kind
	// HTMLFallback is set when the body looked like HTML but had to be reduced
	// with the tag sanitizer instead of the DOM walk.
	HTMLFallback bool
}

// Normalizer is stateless apart from its options and safe for concurrent use.
type Normalizer struct {
	opts Options
}

// New creates a Normalizer.
func New(opts Options) *Normalizer {
	return &Normalizer{opts: opts}
}

// Normalize never fails: degenerate input yields empty strings.
// Applying it to its own output returns the same output.
func (n *Normalizer) Normalize(in Input) Result {
	subject, displaySubject := n.Subject(in.Subject)

	body, displayBody, quoted, kind, fallback := n.bodyPass(in.Body, in.ThreadPosition)
	for i := 0; i < maxPasses; i++ {
		next, _, _, _, _ := n.bodyPass(body, in.ThreadPosition)
		if next == body {
			break
		}
		body = next
	}

	return Result{
		Subject:        subject,
		Body:           body,
		DisplaySubject: displaySubject,
		DisplayBody:    displayBody,
		Quoted:         quoted,
		Kind:           kind,
		HTMLFallback:   fallback,
	}
}

// Subject returns the canonical and display forms of a subject line.
func (n *Normalizer) Subject(raw string) (string, string) {
	display := subjectPass(raw)
	subject := lower(display)
	for i := 0; i < maxPasses; i++ {
		next := lower(subjectPass(subject))
		if next == subject {
			break
		}
		subject = next
	}
	return subject, display
}

func subjectPass(raw string) string {
	s := collapse(canonicalText(raw))
	s, _ = stripSubjectPrefixes(s)
	return collapse(s)
}

func (n *Normalizer) bodyPass(raw string, threadPosition int) (string, string, string, Kind, bool) {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	fallback := false
	if looksLikeHTML(s) {
		var ok bool
		s, ok = htmlToText(s)
		fallback = !ok
	}

	s = canonicalText(s)
	s, quoted, kind := stripQuoted(s, threadPosition, 0)
	s = n.links(s)

	display := collapse(s)
	return lower(display), display, lower(collapse(n.links(quoted))), kind, fallback
}

func (n *Normalizer) links(s string) string {
	if n.opts.MaskLinks {
		return maskLinks(s)
	}
	return stripTracking(s)
}

var punctuation = strings.NewReplacer(
	"‘", "'", "’", "'", "‚", "'", "‛", "'", "′", "'",
	"“", `"`, "”", `"`, "„", `"`, "‟", `"`, "″", `"`,
	"‐", "-", "‑", "-", "‒", "-", "–", "-", "—", "-", "―", "-", "−", "-",
	"…", "...",
)

// canonicalText applies NFKC, folds typographic punctuation and removes
// control and zero-width format characters. Newlines and tabs survive so
// line-oriented stripping can run afterwards.
func canonicalText(s string) string {
	s = norm.NFKC.String(s)
	s = punctuation.Replace(s)
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t':
			return r
		case r == '\u2028' || r == '\u2029':
			return '\n'
		case unicode.IsControl(r), unicode.Is(unicode.Cf, r):
			return -1
		}
		return r
	}, s)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// lower builds a fresh Caser per call; Casers carry state and are not safe to share.
func lower(s string) string {
	return cases.Lower(language.Und).String(s)
}
