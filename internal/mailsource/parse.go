// Package mailsource turns RFC 5322 messages from IMAP mailboxes and .eml
// files into raw emails for ingestion.
package mailsource

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
	"github.com/jhillyerd/enmime"

	"github.com/brandon/mail-dedup/pkg/types"
)

// ParseMessage parses a full message. Headers that carry threading
// information are read with go-message; the body is decoded with enmime.
// The raw HTML part is kept when the message has no text/plain part so that
// the normalizer sees the original markup.
func ParseMessage(r io.Reader) (types.RawEmail, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return types.RawEmail{}, fmt.Errorf("failed to read message: %w", err)
	}

	th, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(data)))
	if err != nil {
		return types.RawEmail{}, fmt.Errorf("failed to parse message header: %w", err)
	}
	h := mail.Header{Header: message.Header{Header: th}}

	env, err := enmime.ReadEnvelope(bytes.NewReader(data))
	if err != nil {
		return types.RawEmail{}, fmt.Errorf("failed to parse message body: %w", err)
	}

	raw := types.RawEmail{
		Sender:  strings.TrimSpace(env.GetHeader("From")),
		Subject: strings.TrimSpace(env.GetHeader("Subject")),
		Body:    pickBody(env),
	}
	if id, err := h.MessageID(); err == nil && id != "" {
		raw.SourceMessageID = "<" + id + ">"
	}
	if ids, err := h.MsgIDList("In-Reply-To"); err == nil && len(ids) > 0 {
		raw.InReplyTo = ids[0]
	}
	if ids, err := h.MsgIDList("References"); err == nil {
		raw.References = ids
	}
	if date, err := h.Date(); err == nil {
		raw.SentAt = date.UTC()
	}
	return raw, nil
}

func pickBody(env *enmime.Envelope) string {
	if env.HTML == "" {
		return env.Text
	}
	if env.Root == nil {
		return env.HTML
	}
	plain := env.Root.BreadthMatchFirst(func(p *enmime.Part) bool {
		return p.ContentType == "text/plain" && p.Disposition != "attachment"
	})
	if plain != nil && strings.TrimSpace(env.Text) != "" {
		return env.Text
	}
	return env.HTML
}

// ReadFile parses a .eml file. ReceivedAt is the file's modification time.
func ReadFile(path string) (types.RawEmail, error) {
	f, err := os.Open(path)
	if err != nil {
		return types.RawEmail{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	raw, err := ParseMessage(f)
	if err != nil {
		return types.RawEmail{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if info, err := f.Stat(); err == nil {
		raw.ReceivedAt = info.ModTime().UTC()
	}
	return raw, nil
}

// fallbackSourceID identifies a message without a Message-Id by its stable
// IMAP coordinates.
func fallbackSourceID(account, mailbox string, uidValidity, uid uint32) string {
	return fmt.Sprintf("imap:%s/%s/%d/%d", account, mailbox, uidValidity, uid)
}

func withReceived(raw types.RawEmail, received time.Time) types.RawEmail {
	if !received.IsZero() {
		raw.ReceivedAt = received.UTC()
	}
	return raw
}
