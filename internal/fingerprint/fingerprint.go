// Package fingerprint derives the content address of an email.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/brandon/mail-dedup/internal/alias"
	"github.com/brandon/mail-dedup/internal/normalize"
)

// Version identifies the normalization and hashing rules. It is stored with
// every email and group so that rule changes can be detected and rehashed.
const Version = "fp1"

// Message is the input to Generate. The threading headers only feed
// ThreadHash; they never change Value.
type Message struct {
	Sender         string
	Subject        string
	Body           string
	ThreadPosition int

	MessageID  string
	InReplyTo  string
	References []string
}

// Fingerprint is the hash plus the normalized parts it was computed from.
type Fingerprint struct {
	Value   string
	Version string

	Sender  string
	Subject string
	Body    string

	DisplaySubject string
	DisplayBody    string
	Kind           normalize.Kind
	HTMLFallback   bool

	// QuotedHash covers the quoted or forwarded material; empty when there is none.
	QuotedHash string
	// ThreadHash is shared by every message of one conversation.
	ThreadHash string
}

// Generator combines a Normalizer and an alias Resolver. It holds no mutable
// state.
type Generator struct {
	normalizer *normalize.Normalizer
	resolver   *alias.Resolver
}

// NewGenerator creates a Generator.
func NewGenerator(normalizer *normalize.Normalizer, resolver *alias.Resolver) *Generator {
	return &Generator{normalizer: normalizer, resolver: resolver}
}

// Generate normalizes the message and hashes the canonical parts.
func (g *Generator) Generate(msg Message) Fingerprint {
	sender := g.resolver.Resolve(msg.Sender)
	res := g.normalizer.Normalize(normalize.Input{
		Subject:        msg.Subject,
		Body:           msg.Body,
		ThreadPosition: msg.ThreadPosition,
	})

	return Fingerprint{
		Value:          Sum(sender, res.Subject, res.Body),
		Version:        Version,
		Sender:         sender,
		Subject:        res.Subject,
		Body:           res.Body,
		DisplaySubject: res.DisplaySubject,
		DisplayBody:    res.DisplayBody,
		Kind:           res.Kind,
		HTMLFallback:   res.HTMLFallback,
		QuotedHash:     textSum(res.Quoted),
		ThreadHash:     ThreadSum(msg, res.Subject, sender),
	}
}

// ThreadSum hashes the thread root: the first References entry, else
// In-Reply-To, else the message's own id. Without headers it falls back to
// the normalized subject and the sender's domain. It returns "" when none of
// these is known.
func ThreadSum(msg Message, subject, sender string) string {
	var key string
	switch {
	case len(msg.References) > 0 && msgID(msg.References[0]) != "":
		key = "root:" + msgID(msg.References[0])
	case msgID(msg.InReplyTo) != "":
		key = "root:" + msgID(msg.InReplyTo)
	case msgID(msg.MessageID) != "":
		key = "root:" + msgID(msg.MessageID)
	default:
		_, domain, ok := strings.Cut(sender, "@")
		if subject == "" || !ok || domain == "" {
			return ""
		}
		key = "subject:" + subject + "\x1f" + domain
	}
	return textSum(key)
}

// msgID drops the angle brackets, which some sources keep and others strip.
func msgID(s string) string {
	return strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(s), "<"), ">")
}

func textSum(s string) string {
	if s == "" {
		return ""
	}
	h := sha256.New()
	h.Write([]byte(Version))
	h.Write([]byte{0x00})
	h.Write([]byte(s))
	return hex.EncodeToString(h.Sum(nil))
}

// Sum returns 64 lowercase hex characters. The NUL and unit separators cannot
// occur in normalized text, so distinct field splits never collide.
func Sum(sender, subject, body string) string {
	h := sha256.New()
	h.Write([]byte(Version))
	h.Write([]byte{0x00})
	h.Write([]byte(sender))
	h.Write([]byte{0x1f})
	h.Write([]byte(subject))
	h.Write([]byte{0x1f})
	h.Write([]byte(body))
	return hex.EncodeToString(h.Sum(nil))
}
