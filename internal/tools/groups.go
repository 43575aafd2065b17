package tools

import (
	"context"
	"fmt"

	"github.com/brandon/mail-dedup/internal/report"
)

// ListDuplicateGroupsTool lists groups with more than one member
type ListDuplicateGroupsTool struct {
	reports *report.Service
}

// NewListDuplicateGroupsTool creates a new list duplicate groups tool
func NewListDuplicateGroupsTool(reports *report.Service) *ListDuplicateGroupsTool {
	return &ListDuplicateGroupsTool{reports: reports}
}

// Name returns the tool name
func (t *ListDuplicateGroupsTool) Name() string {
	return "list_duplicate_groups"
}

// Description returns the tool description
func (t *ListDuplicateGroupsTool) Description() string {
	return "List groups of duplicate emails, most recently seen first"
}

// InputSchema returns the JSON schema for tool inputs
func (t *ListDuplicateGroupsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"min_members": map[string]interface{}{
				"type":        "integer",
				"description": "Optional: Minimum group size (default: 2)",
				"minimum":     1,
			},
			"sender": map[string]interface{}{
				"type":        "string",
				"description": "Optional: Only groups with a member from this sender (substring match)",
			},
			"subject": map[string]interface{}{
				"type":        "string",
				"description": "Optional: Only groups with a member whose subject matches (substring match)",
			},
			"since": map[string]interface{}{
				"type":        "string",
				"description": "Optional: Only groups last seen at or after this time (RFC 3339)",
			},
			"until": map[string]interface{}{
				"type":        "string",
				"description": "Optional: Only groups first seen at or before this time (RFC 3339)",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Optional: Result limit (default: SEARCH_RESULT_LIMIT, max: 1000)",
				"minimum":     1,
				"maximum":     1000,
			},
			"offset": map[string]interface{}{
				"type":        "integer",
				"description": "Optional: Number of groups to skip",
				"minimum":     0,
			},
		},
	}
}

// Execute executes the tool
func (t *ListDuplicateGroupsTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	q := report.ListQuery{
		Sender:  stringParam(params, "sender"),
		Subject: stringParam(params, "subject"),
	}
	var err error
	if q.MinMembers, err = intParam(params, "min_members"); err != nil {
		return nil, err
	}
	if q.Limit, err = intParam(params, "limit"); err != nil {
		return nil, err
	}
	if q.Offset, err = intParam(params, "offset"); err != nil {
		return nil, err
	}
	if q.Since, err = timeParam(params, "since"); err != nil {
		return nil, err
	}
	if q.Until, err = timeParam(params, "until"); err != nil {
		return nil, err
	}

	groups, err := t.reports.ListGroups(ctx, q)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"count":  len(groups),
		"groups": groups,
	}, nil
}

// GetDuplicateGroupTool returns one group with its members
type GetDuplicateGroupTool struct {
	reports *report.Service
}

// NewGetDuplicateGroupTool creates a new get duplicate group tool
func NewGetDuplicateGroupTool(reports *report.Service) *GetDuplicateGroupTool {
	return &GetDuplicateGroupTool{reports: reports}
}

// Name returns the tool name
func (t *GetDuplicateGroupTool) Name() string {
	return "get_duplicate_group"
}

// Description returns the tool description
func (t *GetDuplicateGroupTool) Description() string {
	return "Get a duplicate group with its members, distinct senders and distinct subjects"
}

// InputSchema returns the JSON schema for tool inputs
func (t *GetDuplicateGroupTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"group_id": map[string]interface{}{
				"type":        "integer",
				"description": "Duplicate group ID",
			},
		},
		"required": []string{"group_id"},
	}
}

// Execute executes the tool
func (t *GetDuplicateGroupTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	groupID, err := requiredInt64(params, "group_id")
	if err != nil {
		return nil, err
	}
	return t.reports.Group(ctx, groupID)
}

// GetEmailGroupTool answers which group an email belongs to
type GetEmailGroupTool struct {
	reports *report.Service
}

// NewGetEmailGroupTool creates a new get email group tool
func NewGetEmailGroupTool(reports *report.Service) *GetEmailGroupTool {
	return &GetEmailGroupTool{reports: reports}
}

// Name returns the tool name
func (t *GetEmailGroupTool) Name() string {
	return "get_email_group"
}

// Description returns the tool description
func (t *GetEmailGroupTool) Description() string {
	return "Get the duplicate group of an email and whether it is the group's primary"
}

// InputSchema returns the JSON schema for tool inputs
func (t *GetEmailGroupTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"email_id": map[string]interface{}{
				"type":        "integer",
				"description": "Email ID",
			},
		},
		"required": []string{"email_id"},
	}
}

// Execute executes the tool
func (t *GetEmailGroupTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	emailID, err := requiredInt64(params, "email_id")
	if err != nil {
		return nil, err
	}
	m, err := t.reports.Membership(ctx, emailID)
	if err != nil {
		return nil, fmt.Errorf("failed to get email group: %w", err)
	}
	return m, nil
}

// GetEmailTool returns a stored email with its normalized and display text
type GetEmailTool struct {
	reports *report.Service
}

// NewGetEmailTool creates a new get email tool
func NewGetEmailTool(reports *report.Service) *GetEmailTool {
	return &GetEmailTool{reports: reports}
}

// Name returns the tool name
func (t *GetEmailTool) Name() string {
	return "get_email"
}

// Description returns the tool description
func (t *GetEmailTool) Description() string {
	return "Get a stored email with its fingerprint, email type, normalized text and display text"
}

// InputSchema returns the JSON schema for tool inputs
func (t *GetEmailTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"email_id": map[string]interface{}{
				"type":        "integer",
				"description": "Email ID",
			},
			"include_body": map[string]interface{}{
				"type":        "boolean",
				"description": "Include the raw body (default: false)",
			},
		},
		"required": []string{"email_id"},
	}
}

// Execute executes the tool
func (t *GetEmailTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	emailID, err := requiredInt64(params, "email_id")
	if err != nil {
		return nil, err
	}
	e, err := t.reports.Email(ctx, emailID)
	if err != nil {
		return nil, err
	}
	if includeBody, _ := params["include_body"].(bool); !includeBody {
		e.Body = ""
	}
	return e, nil
}

// StatsTool summarizes deduplication
type StatsTool struct {
	reports *report.Service
}

// NewStatsTool creates a new stats tool
func NewStatsTool(reports *report.Service) *StatsTool {
	return &StatsTool{reports: reports}
}

// Name returns the tool name
func (t *StatsTool) Name() string {
	return "dedup_stats"
}

// Description returns the tool description
func (t *StatsTool) Description() string {
	return "Count stored emails, groups, and duplicates"
}

// InputSchema returns the JSON schema for tool inputs
func (t *StatsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

// Execute executes the tool
func (t *StatsTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	return t.reports.Stats(ctx)
}
