package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mail-dedup/internal/ingest"
	"github.com/brandon/mail-dedup/pkg/types"
)

// IngestEmailTool stores an email and assigns its duplicate group
type IngestEmailTool struct {
	ingester *ingest.Coordinator
	logger   *logrus.Logger
}

// NewIngestEmailTool creates a new ingest email tool
func NewIngestEmailTool(ingester *ingest.Coordinator, logger *logrus.Logger) *IngestEmailTool {
	return &IngestEmailTool{ingester: ingester, logger: logger}
}

// Name returns the tool name
func (t *IngestEmailTool) Name() string {
	return "ingest_email"
}

// Description returns the tool description
func (t *IngestEmailTool) Description() string {
	return "Ingest an email and report which duplicate group it joined"
}

// InputSchema returns the JSON schema for tool inputs
func (t *IngestEmailTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"sender": map[string]interface{}{
				"type":        "string",
				"description": "Sender address, optionally with display name",
			},
			"subject": map[string]interface{}{
				"type":        "string",
				"description": "Email subject",
			},
			"body": map[string]interface{}{
				"type":        "string",
				"description": "Plain text or HTML body",
			},
			"message_id": map[string]interface{}{
				"type":        "string",
				"description": "Optional: Message-ID; re-ingesting the same ID is a no-op",
			},
			"sent_at": map[string]interface{}{
				"type":        "string",
				"description": "Optional: Send time (RFC 3339, default: now)",
			},
			"in_reply_to": map[string]interface{}{
				"type":        "string",
				"description": "Optional: In-Reply-To header (for replies)",
			},
			"references": map[string]interface{}{
				"type":        "string",
				"description": "Optional: References header (space-separated message IDs)",
			},
		},
		"required": []string{"sender", "subject", "body"},
	}
}

// Execute executes the tool
func (t *IngestEmailTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	raw := types.RawEmail{
		Sender:          stringParam(params, "sender"),
		Subject:         stringParam(params, "subject"),
		Body:            stringParam(params, "body"),
		SourceMessageID: strings.TrimSpace(stringParam(params, "message_id")),
		InReplyTo:       strings.TrimSpace(stringParam(params, "in_reply_to")),
		References:      strings.Fields(stringParam(params, "references")),
	}
	if raw.Sender == "" {
		return nil, fmt.Errorf("sender is required")
	}
	if raw.Subject == "" && raw.Body == "" {
		return nil, fmt.Errorf("either subject or body is required")
	}

	sentAt, err := timeParam(params, "sent_at")
	if err != nil {
		return nil, err
	}
	if sentAt != nil {
		raw.SentAt = *sentAt
	}

	res, err := t.ingester.Ingest(ctx, raw)
	if err != nil {
		return nil, err
	}
	t.logger.WithFields(logrus.Fields{
		"trace_id": res.TraceID,
		"email_id": res.EmailID,
		"group_id": res.GroupID,
	}).Info("Ingested email via tool")
	return res, nil
}
